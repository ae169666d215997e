package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateDevice(Device) (Device, error)
	DeleteDevice(id string) error
	CreateTrack(Track) (Track, error)
	UpdateTrack(id string, mutator func(*Track) error) (Track, error)
	DeleteTrack(id string) error
	CreateParameter(Parameter) (Parameter, error)
	UpdateParameter(id string, mutator func(*Parameter) error) (Parameter, error)
	DeleteParameter(id string) error
	CreateAutomationPoint(AutomationPoint) (AutomationPoint, error)
	UpdateAutomationPoint(id string, mutator func(*AutomationPoint) error) (AutomationPoint, error)
	DeleteAutomationPoint(id string) error
	CreateMuteTransition(MuteTransition) (MuteTransition, error)
	UpdateMuteTransition(id string, mutator func(*MuteTransition) error) (MuteTransition, error)
	DeleteMuteTransition(id string) error
	FindDevice(id string) (Device, bool)
	FindTrack(id string) (Track, bool)
	FindParameter(id string) (Parameter, bool)
	FindAutomationPoint(id string) (AutomationPoint, bool)
	FindMuteTransition(id string) (MuteTransition, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// query-time algorithms. List results are sorted ascending by time where a
// time axis exists, ascending by id otherwise.
type TransactionView interface {
	ListDevices() []Device
	ListTracks() []Track
	ListParameters() []Parameter
	ListAutomationPoints(parameterID string) []AutomationPoint
	ListMuteTransitions(trackID string) []MuteTransition
	// PointsInRange returns points for any of the given parameters whose time
	// lies in [start, end], inclusive on both bounds.
	PointsInRange(parameterIDs []string, start, end float64) []AutomationPoint
	FindDevice(id string) (Device, bool)
	FindTrack(id string) (Track, bool)
	FindParameter(id string) (Parameter, bool)
	FindAutomationPoint(id string) (AutomationPoint, bool)
	FindMuteTransition(id string) (MuteTransition, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetDevice(id string) (Device, bool)
	ListDevices() []Device
	GetTrack(id string) (Track, bool)
	ListTracks() []Track
	GetParameter(id string) (Parameter, bool)
	ListParameters() []Parameter
	ListAutomationPoints(parameterID string) []AutomationPoint
	ListMuteTransitions(trackID string) []MuteTransition
	Close() error
}
