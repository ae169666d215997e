package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func put(t *testing.T, a Archive, key, body string) Info {
	t.Helper()
	info, err := a.Put(context.Background(), key, strings.NewReader(body))
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
	return info
}

func testArchive(t *testing.T, a Archive) {
	t.Helper()
	ctx := context.Background()

	info := put(t, a, "set/20260101T000000Z.als", "snapshot-1")
	if info.Key != "set/20260101T000000Z.als" || info.Size != int64(len("snapshot-1")) {
		t.Fatalf("unexpected info %+v", info)
	}

	if _, err := a.Put(ctx, info.Key, strings.NewReader("other")); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists on rewrite, got %v", err)
	}

	got, rc, err := a.Get(ctx, info.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := io.ReadAll(rc)
	rc.Close()
	if err != nil || string(body) != "snapshot-1" {
		t.Fatalf("get body: %q err=%v", body, err)
	}
	if got.Size != info.Size {
		t.Fatalf("get info mismatch: %+v vs %+v", got, info)
	}

	put(t, a, "set/20260102T000000Z.als", "snapshot-2")
	put(t, a, "other/20260101T000000Z.als", "elsewhere")

	infos, err := a.List(ctx, "set/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "set/20260101T000000Z.als" || infos[1].Key != "set/20260102T000000Z.als" {
		t.Fatalf("unexpected prefix listing %+v", infos)
	}
	all, err := a.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 snapshots, got %+v", all)
	}

	removed, err := a.Delete(ctx, info.Key)
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	removed, err = a.Delete(ctx, info.Key)
	if err != nil || removed {
		t.Fatalf("second delete must be a no-op: removed=%v err=%v", removed, err)
	}
	if _, _, err := a.Get(ctx, info.Key); err == nil {
		t.Fatalf("expected get after delete to fail")
	}
}

func TestFilesystemArchive(t *testing.T) {
	a, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.Driver() != DriverFilesystem {
		t.Fatalf("unexpected driver %s", a.Driver())
	}
	testArchive(t, a)
}

func TestMemoryArchive(t *testing.T) {
	a := NewMemory()
	if a.Driver() != DriverMemory {
		t.Fatalf("unexpected driver %s", a.Driver())
	}
	testArchive(t, a)
}

func TestSanitizeKeyRejectsEscapes(t *testing.T) {
	for _, key := range []string{"", "   ", "/etc/passwd", "../up", "a/../../up"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected rejection of %q", key)
		}
	}
	if clean, err := sanitizeKey("set/./file.als"); err != nil || clean != "set/file.als" {
		t.Fatalf("expected normalized key, got %q err=%v", clean, err)
	}
}

func TestSnapshotKey(t *testing.T) {
	at := time.Date(2026, 8, 30, 12, 4, 5, 0, time.UTC)
	if got := SnapshotKey("/music/MySet.als", at); got != "MySet/20260830T120405Z.als" {
		t.Fatalf("unexpected key %s", got)
	}
	if got := SnapshotKey("", at); !strings.HasPrefix(got, "project/") {
		t.Fatalf("empty path must fall back to project prefix, got %s", got)
	}
}

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	t.Setenv("LIVELINE_BLOB_DRIVER", "memory")
	a, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if a.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", a.Driver())
	}

	t.Setenv("LIVELINE_BLOB_DRIVER", "bogus")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
