// Package liveset reads and writes the gzip-compressed XML project files of
// the host application. The importer normalizes automation data into domain
// entities; the exporter projects edited entities back into a clone of the
// original document without ever creating structural nodes.
package liveset

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Compress wraps text in a gzip stream the host application can reopen.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates a gzip stream. Malformed input surfaces a single
// decompress error; there is no partial success.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}
