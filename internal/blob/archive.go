// Package blob archives project-file snapshots so an export can never
// destroy the only copy of an original. Snapshots are immutable: a key is
// written once and never overwritten.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Driver identifies a concrete archive backend.
type Driver string

// Supported archive drivers.
const (
	// DriverFilesystem stores snapshots under a local directory (default).
	DriverFilesystem Driver = "fs"
	// DriverS3 stores snapshots in an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps snapshots in process memory (tests).
	DriverMemory Driver = "memory"
)

// ContentType is the MIME type of every snapshot; project files are
// gzip-compressed XML.
const ContentType = "application/gzip"

// Info describes a stored snapshot.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// Archive is the snapshot storage surface consumed by the CLI.
type Archive interface {
	Put(ctx context.Context, key string, r io.Reader) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// ErrExists is returned when a snapshot key has already been written.
var ErrExists = errors.New("blob: key already exists")

// SnapshotKey derives the archive key for a project file at a moment in
// time, grouping snapshots of the same project under one prefix.
func SnapshotKey(projectPath string, at time.Time) string {
	base := filepath.Base(projectPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		base = "project"
	}
	return fmt.Sprintf("%s/%s%s", base, at.UTC().Format("20060102T150405Z"), filepath.Ext(projectPath))
}
