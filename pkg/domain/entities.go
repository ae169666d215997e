// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by liveline.
package domain

import (
	"fmt"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityDevice identifies a host-format device record.
	EntityDevice EntityType = "device"
	// EntityTrack identifies a track record.
	EntityTrack EntityType = "track"
	// EntityParameter identifies an automatable parameter record.
	EntityParameter EntityType = "parameter"
	// EntityAutomationPoint identifies a continuous automation point record.
	EntityAutomationPoint EntityType = "automation_point"
	// EntityMuteTransition identifies a binary mute transition record.
	EntityMuteTransition EntityType = "mute_transition"
	// EntityEditHistory identifies an edit history record. Schema placeholder
	// only; no operations write it.
	EntityEditHistory EntityType = "edit_history"
)

// SentinelTime is the host format's "before the visible timeline" event time.
// A parameter's flat-line segment ahead of its first real edit is stored as a
// single event at this time, and export keeps the convention for wire
// compatibility.
const SentinelTime = -63072000.0

// NoParameterID is the host format's numeric id for an unassigned parameter
// slot. Entries carrying it are placeholders, not automatable targets.
const NoParameterID = -1

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Device represents a single host device encountered during import. Devices
// are created once per import and never mutated; a full reload replaces them.
type Device struct {
	Base
	Name  string `json:"name"`
	Class string `json:"class"`
}

// Track belongs to exactly one Device and groups the parameters sharing a
// track-number prefix in the host parameter names.
type Track struct {
	Base
	DeviceID string `json:"device_id"`
	Number   int    `json:"number"`
	Name     string `json:"name"`
	// DefaultMuted is the track's static mute flag used when no mute
	// automation exists at all.
	DefaultMuted bool `json:"default_muted"`
}

// Parameter is an automatable target owned by a track.
type Parameter struct {
	Base
	TrackID string `json:"track_id"`
	Name    string `json:"name"`
	// Path is the optional external-format path of the parameter.
	Path string `json:"path,omitempty"`
	// PointeeID is the stable external identifier used to re-locate the
	// parameter's envelope node across import and export.
	PointeeID string `json:"pointee_id"`
	// HostID is the external numeric id from the host format.
	HostID int `json:"host_id"`
	// IsMute marks the parameter classified as the track's mute stream.
	IsMute bool `json:"is_mute"`
}

// AutomationPoint is a continuous automation event. Value is always within
// [0, 1]; out-of-range values are rejected at the service boundary and by the
// value bound rule.
type AutomationPoint struct {
	Base
	ParameterID string  `json:"parameter_id"`
	Time        float64 `json:"time"`
	Value       float64 `json:"value"`
}

// MuteTransition flips a track between active and muted at a point in time.
// For a fixed track the transitions ordered by time strictly alternate in
// IsMuted; every mutating operation re-establishes that on exit.
type MuteTransition struct {
	Base
	TrackID     string  `json:"track_id"`
	ParameterID string  `json:"parameter_id"`
	Time        float64 `json:"time"`
	IsMuted     bool    `json:"is_muted"`
}

// Clip is a derived active span over a track. It is never persisted.
// A nil End means the clip extends to the end of the timeline.
type Clip struct {
	TrackID string   `json:"track_id"`
	Start   float64  `json:"start"`
	End     *float64 `json:"end"`
}

// Open reports whether the clip extends to the end of the timeline.
func (c Clip) Open() bool { return c.End == nil }

// Contains reports whether t lies inside the clip span.
func (c Clip) Contains(t float64) bool {
	if t < c.Start {
		return false
	}
	return c.End == nil || t < *c.End
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured per transaction.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// ErrNotFound is returned when an operation references a nonexistent entity.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ValidationError is returned when an input is rejected before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
