package postgres

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
)

// The full transaction semantics are covered by the memory store tests; the
// wrapper here only adds connection handling and row persistence, which need
// a live server. These tests cover the construction paths that do not.

func withSQLOpenStub(t *testing.T, stub func(driver, dsn string) (*sql.DB, error)) {
	t.Helper()
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = stub
	openMu.Unlock()
	t.Cleanup(func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	})
}

func TestNewStorePropagatesOpenError(t *testing.T) {
	want := errors.New("refused")
	withSQLOpenStub(t, func(driver, dsn string) (*sql.DB, error) {
		if driver != defaultDriver {
			t.Fatalf("unexpected driver %s", driver)
		}
		return nil, want
	})
	if _, err := NewStore("postgres://example/liveline", nil); !errors.Is(err, want) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNewStoreDefaultsDSN(t *testing.T) {
	var got string
	withSQLOpenStub(t, func(driver, dsn string) (*sql.DB, error) {
		got = dsn
		return nil, errors.New("stop here")
	})
	if _, err := NewStore("", nil); err == nil {
		t.Fatalf("expected stub error")
	}
	if got != defaultDSN {
		t.Fatalf("expected default DSN, got %s", got)
	}
	if !strings.Contains(got, "liveline") {
		t.Fatalf("default DSN should target the liveline database: %s", got)
	}
}
