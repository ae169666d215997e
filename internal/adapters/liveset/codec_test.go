package liveset

import (
	"bytes"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	in := []byte("<Ableton><LiveSet/></Ableton>")
	packed, err := Compress(in)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if bytes.Equal(packed, in) {
		t.Fatalf("compressed output must differ from input")
	}
	out, err := Decompress(packed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("round trip mismatch: %q", out)
	}
}

func TestDecompressRejectsPlainText(t *testing.T) {
	if _, err := Decompress([]byte("not gzip")); err == nil {
		t.Fatalf("expected decompress error")
	}
}
