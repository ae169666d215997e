package domain

import (
	"errors"
	"testing"
)

func TestClipContains(t *testing.T) {
	end := 10.0
	closed := Clip{TrackID: "t", Start: 2, End: &end}
	open := Clip{TrackID: "t", Start: 5}

	cases := []struct {
		name string
		clip Clip
		time float64
		want bool
	}{
		{"before start", closed, 1, false},
		{"at start", closed, 2, true},
		{"inside", closed, 9.999, true},
		{"at end", closed, 10, false},
		{"open before", open, 4, false},
		{"open far", open, 1e9, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.clip.Contains(tc.time); got != tc.want {
				t.Fatalf("Contains(%v) = %v, want %v", tc.time, got, tc.want)
			}
		})
	}
	if closed.Open() {
		t.Fatalf("closed clip reported open")
	}
	if !open.Open() {
		t.Fatalf("open clip reported closed")
	}
}

func TestResultMergeAndBlocking(t *testing.T) {
	var res Result
	if res.HasBlocking() {
		t.Fatalf("empty result should not block")
	}
	res.Merge(Result{Violations: []Violation{{Rule: "audit", Severity: SeverityWarn}}})
	if res.HasBlocking() {
		t.Fatalf("warn violation should not block")
	}
	res.Merge(Result{Violations: []Violation{{Rule: "bound", Severity: SeverityBlock}}})
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result")
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(res.Violations))
	}
}

func TestErrorTypes(t *testing.T) {
	nf := ErrNotFound{Entity: EntityParameter, ID: "p1"}
	if nf.Error() == "" {
		t.Fatalf("expected not-found message")
	}
	var asNF ErrNotFound
	if !errors.As(error(nf), &asNF) || asNF.ID != "p1" {
		t.Fatalf("errors.As mismatch: %v", asNF)
	}
	ve := ValidationError{Field: "value", Message: "must be within [0, 1]"}
	if ve.Error() != "invalid value: must be within [0, 1]" {
		t.Fatalf("unexpected validation message: %s", ve.Error())
	}
}
