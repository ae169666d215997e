// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral sessions.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"liveline/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Device aliases domain.Device for in-memory persistence operations.
	Device = domain.Device
	// Track aliases domain.Track.
	Track = domain.Track
	// Parameter aliases domain.Parameter.
	Parameter = domain.Parameter
	// AutomationPoint aliases domain.AutomationPoint.
	AutomationPoint = domain.AutomationPoint
	// MuteTransition aliases domain.MuteTransition.
	MuteTransition = domain.MuteTransition
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	devices     map[string]Device
	tracks      map[string]Track
	parameters  map[string]Parameter
	points      map[string]AutomationPoint
	transitions map[string]MuteTransition
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Devices     map[string]Device          `json:"devices"`
	Tracks      map[string]Track           `json:"tracks"`
	Parameters  map[string]Parameter       `json:"parameters"`
	Points      map[string]AutomationPoint `json:"automation_points"`
	Transitions map[string]MuteTransition  `json:"mute_transitions"`
}

func newMemoryState() memoryState {
	return memoryState{
		devices:     make(map[string]Device),
		tracks:      make(map[string]Track),
		parameters:  make(map[string]Parameter),
		points:      make(map[string]AutomationPoint),
		transitions: make(map[string]MuteTransition),
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		devices:     make(map[string]Device, len(s.devices)),
		tracks:      make(map[string]Track, len(s.tracks)),
		parameters:  make(map[string]Parameter, len(s.parameters)),
		points:      make(map[string]AutomationPoint, len(s.points)),
		transitions: make(map[string]MuteTransition, len(s.transitions)),
	}
	for k, v := range s.devices {
		out.devices[k] = v
	}
	for k, v := range s.tracks {
		out.tracks[k] = v
	}
	for k, v := range s.parameters {
		out.parameters[k] = v
	}
	for k, v := range s.points {
		out.points[k] = v
	}
	for k, v := range s.transitions {
		out.transitions[k] = v
	}
	return out
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	clone := state.clone()
	return Snapshot{
		Devices:     clone.devices,
		Tracks:      clone.tracks,
		Parameters:  clone.parameters,
		Points:      clone.points,
		Transitions: clone.transitions,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Devices {
		state.devices[k] = v
	}
	for k, v := range s.Tracks {
		state.tracks[k] = v
	}
	for k, v := range s.Parameters {
		state.parameters[k] = v
	}
	for k, v := range s.Points {
		state.points[k] = v
	}
	for k, v := range s.Transitions {
		state.transitions[k] = v
	}
	return state
}

// migrateSnapshot drops records whose owners are missing so that a snapshot
// written by an older or interrupted process cannot resurrect dangling rows.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Devices == nil {
		snapshot.Devices = map[string]Device{}
	}
	if snapshot.Tracks == nil {
		snapshot.Tracks = map[string]Track{}
	}
	if snapshot.Parameters == nil {
		snapshot.Parameters = map[string]Parameter{}
	}
	if snapshot.Points == nil {
		snapshot.Points = map[string]AutomationPoint{}
	}
	if snapshot.Transitions == nil {
		snapshot.Transitions = map[string]MuteTransition{}
	}

	for id, track := range snapshot.Tracks {
		if _, ok := snapshot.Devices[track.DeviceID]; !ok {
			delete(snapshot.Tracks, id)
		}
	}
	for id, parameter := range snapshot.Parameters {
		if _, ok := snapshot.Tracks[parameter.TrackID]; !ok {
			delete(snapshot.Parameters, id)
		}
	}
	for id, point := range snapshot.Points {
		if _, ok := snapshot.Parameters[point.ParameterID]; !ok {
			delete(snapshot.Points, id)
		}
	}
	for id, transition := range snapshot.Transitions {
		if _, ok := snapshot.Tracks[transition.TrackID]; !ok {
			delete(snapshot.Transitions, id)
		}
	}
	return snapshot
}

// Store is the canonical transactional store. Durable backends wrap it and
// persist snapshots after each successful transaction.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider, primarily for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// Close releases resources. The in-memory store holds none.
func (s *Store) Close() error { return nil }

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) transactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateDevice stores a new device within the transaction.
func (tx *transaction) CreateDevice(d Device) (Device, error) {
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	if _, exists := tx.state.devices[d.ID]; exists {
		return Device{}, fmt.Errorf("device %q already exists", d.ID)
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.devices[d.ID] = d
	tx.recordChange(Change{Entity: domain.EntityDevice, Action: domain.ActionCreate, After: d})
	return d, nil
}

// DeleteDevice removes a device and cascades to its tracks.
func (tx *transaction) DeleteDevice(id string) error {
	d, ok := tx.state.devices[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityDevice, ID: id}
	}
	for trackID, track := range tx.state.tracks {
		if track.DeviceID == id {
			if err := tx.DeleteTrack(trackID); err != nil {
				return err
			}
		}
	}
	delete(tx.state.devices, id)
	tx.recordChange(Change{Entity: domain.EntityDevice, Action: domain.ActionDelete, Before: d})
	return nil
}

// CreateTrack stores a new track within the transaction.
func (tx *transaction) CreateTrack(t Track) (Track, error) {
	if t.ID == "" {
		t.ID = tx.store.newID()
	}
	if _, exists := tx.state.tracks[t.ID]; exists {
		return Track{}, fmt.Errorf("track %q already exists", t.ID)
	}
	if _, ok := tx.state.devices[t.DeviceID]; !ok {
		return Track{}, domain.ErrNotFound{Entity: domain.EntityDevice, ID: t.DeviceID}
	}
	if t.Number <= 0 {
		return Track{}, domain.ValidationError{Field: "number", Message: "track number must be positive"}
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.tracks[t.ID] = t
	tx.recordChange(Change{Entity: domain.EntityTrack, Action: domain.ActionCreate, After: t})
	return t, nil
}

// UpdateTrack mutates a track in place.
func (tx *transaction) UpdateTrack(id string, mutator func(*Track) error) (Track, error) {
	t, ok := tx.state.tracks[id]
	if !ok {
		return Track{}, domain.ErrNotFound{Entity: domain.EntityTrack, ID: id}
	}
	before := t
	if err := mutator(&t); err != nil {
		return Track{}, err
	}
	t.ID = before.ID
	t.CreatedAt = before.CreatedAt
	t.UpdatedAt = tx.now
	tx.state.tracks[id] = t
	tx.recordChange(Change{Entity: domain.EntityTrack, Action: domain.ActionUpdate, Before: before, After: t})
	return t, nil
}

// DeleteTrack removes a track and cascades to its parameters and transitions.
func (tx *transaction) DeleteTrack(id string) error {
	t, ok := tx.state.tracks[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityTrack, ID: id}
	}
	for paramID, parameter := range tx.state.parameters {
		if parameter.TrackID == id {
			if err := tx.DeleteParameter(paramID); err != nil {
				return err
			}
		}
	}
	for transitionID, transition := range tx.state.transitions {
		if transition.TrackID == id {
			delete(tx.state.transitions, transitionID)
			tx.recordChange(Change{Entity: domain.EntityMuteTransition, Action: domain.ActionDelete, Before: transition})
		}
	}
	delete(tx.state.tracks, id)
	tx.recordChange(Change{Entity: domain.EntityTrack, Action: domain.ActionDelete, Before: t})
	return nil
}

// CreateParameter stores a new parameter within the transaction.
func (tx *transaction) CreateParameter(p Parameter) (Parameter, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.parameters[p.ID]; exists {
		return Parameter{}, fmt.Errorf("parameter %q already exists", p.ID)
	}
	if _, ok := tx.state.tracks[p.TrackID]; !ok {
		return Parameter{}, domain.ErrNotFound{Entity: domain.EntityTrack, ID: p.TrackID}
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.parameters[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityParameter, Action: domain.ActionCreate, After: p})
	return p, nil
}

// UpdateParameter mutates a parameter in place.
func (tx *transaction) UpdateParameter(id string, mutator func(*Parameter) error) (Parameter, error) {
	p, ok := tx.state.parameters[id]
	if !ok {
		return Parameter{}, domain.ErrNotFound{Entity: domain.EntityParameter, ID: id}
	}
	before := p
	if err := mutator(&p); err != nil {
		return Parameter{}, err
	}
	p.ID = before.ID
	p.CreatedAt = before.CreatedAt
	p.UpdatedAt = tx.now
	tx.state.parameters[id] = p
	tx.recordChange(Change{Entity: domain.EntityParameter, Action: domain.ActionUpdate, Before: before, After: p})
	return p, nil
}

// DeleteParameter removes a parameter and cascades to its automation points.
func (tx *transaction) DeleteParameter(id string) error {
	p, ok := tx.state.parameters[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityParameter, ID: id}
	}
	for pointID, point := range tx.state.points {
		if point.ParameterID == id {
			delete(tx.state.points, pointID)
			tx.recordChange(Change{Entity: domain.EntityAutomationPoint, Action: domain.ActionDelete, Before: point})
		}
	}
	delete(tx.state.parameters, id)
	tx.recordChange(Change{Entity: domain.EntityParameter, Action: domain.ActionDelete, Before: p})
	return nil
}

// CreateAutomationPoint stores a new automation point within the transaction.
func (tx *transaction) CreateAutomationPoint(p AutomationPoint) (AutomationPoint, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.points[p.ID]; exists {
		return AutomationPoint{}, fmt.Errorf("automation point %q already exists", p.ID)
	}
	if _, ok := tx.state.parameters[p.ParameterID]; !ok {
		return AutomationPoint{}, domain.ErrNotFound{Entity: domain.EntityParameter, ID: p.ParameterID}
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.points[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityAutomationPoint, Action: domain.ActionCreate, After: p})
	return p, nil
}

// UpdateAutomationPoint mutates an automation point, preserving its creation time.
func (tx *transaction) UpdateAutomationPoint(id string, mutator func(*AutomationPoint) error) (AutomationPoint, error) {
	p, ok := tx.state.points[id]
	if !ok {
		return AutomationPoint{}, domain.ErrNotFound{Entity: domain.EntityAutomationPoint, ID: id}
	}
	before := p
	if err := mutator(&p); err != nil {
		return AutomationPoint{}, err
	}
	p.ID = before.ID
	p.CreatedAt = before.CreatedAt
	p.UpdatedAt = tx.now
	tx.state.points[id] = p
	tx.recordChange(Change{Entity: domain.EntityAutomationPoint, Action: domain.ActionUpdate, Before: before, After: p})
	return p, nil
}

// DeleteAutomationPoint removes an automation point.
func (tx *transaction) DeleteAutomationPoint(id string) error {
	p, ok := tx.state.points[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityAutomationPoint, ID: id}
	}
	delete(tx.state.points, id)
	tx.recordChange(Change{Entity: domain.EntityAutomationPoint, Action: domain.ActionDelete, Before: p})
	return nil
}

// CreateMuteTransition stores a new mute transition within the transaction.
func (tx *transaction) CreateMuteTransition(t MuteTransition) (MuteTransition, error) {
	if t.ID == "" {
		t.ID = tx.store.newID()
	}
	if _, exists := tx.state.transitions[t.ID]; exists {
		return MuteTransition{}, fmt.Errorf("mute transition %q already exists", t.ID)
	}
	if _, ok := tx.state.tracks[t.TrackID]; !ok {
		return MuteTransition{}, domain.ErrNotFound{Entity: domain.EntityTrack, ID: t.TrackID}
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.transitions[t.ID] = t
	tx.recordChange(Change{Entity: domain.EntityMuteTransition, Action: domain.ActionCreate, After: t})
	return t, nil
}

// UpdateMuteTransition mutates a mute transition in place.
func (tx *transaction) UpdateMuteTransition(id string, mutator func(*MuteTransition) error) (MuteTransition, error) {
	t, ok := tx.state.transitions[id]
	if !ok {
		return MuteTransition{}, domain.ErrNotFound{Entity: domain.EntityMuteTransition, ID: id}
	}
	before := t
	if err := mutator(&t); err != nil {
		return MuteTransition{}, err
	}
	t.ID = before.ID
	t.CreatedAt = before.CreatedAt
	t.UpdatedAt = tx.now
	tx.state.transitions[id] = t
	tx.recordChange(Change{Entity: domain.EntityMuteTransition, Action: domain.ActionUpdate, Before: before, After: t})
	return t, nil
}

// DeleteMuteTransition removes a mute transition.
func (tx *transaction) DeleteMuteTransition(id string) error {
	t, ok := tx.state.transitions[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityMuteTransition, ID: id}
	}
	delete(tx.state.transitions, id)
	tx.recordChange(Change{Entity: domain.EntityMuteTransition, Action: domain.ActionDelete, Before: t})
	return nil
}

// FindDevice exposes device lookup within the transaction scope.
func (tx *transaction) FindDevice(id string) (Device, bool) {
	d, ok := tx.state.devices[id]
	return d, ok
}

// FindTrack exposes track lookup within the transaction scope.
func (tx *transaction) FindTrack(id string) (Track, bool) {
	t, ok := tx.state.tracks[id]
	return t, ok
}

// FindParameter exposes parameter lookup within the transaction scope.
func (tx *transaction) FindParameter(id string) (Parameter, bool) {
	p, ok := tx.state.parameters[id]
	return p, ok
}

// FindAutomationPoint exposes point lookup within the transaction scope.
func (tx *transaction) FindAutomationPoint(id string) (AutomationPoint, bool) {
	p, ok := tx.state.points[id]
	return p, ok
}

// FindMuteTransition exposes transition lookup within the transaction scope.
func (tx *transaction) FindMuteTransition(id string) (MuteTransition, bool) {
	t, ok := tx.state.transitions[id]
	return t, ok
}

func (v transactionView) ListDevices() []Device {
	out := make([]Device, 0, len(v.state.devices))
	for _, d := range v.state.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListTracks() []Track {
	out := make([]Track, 0, len(v.state.tracks))
	for _, t := range v.state.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) ListParameters() []Parameter {
	out := make([]Parameter, 0, len(v.state.parameters))
	for _, p := range v.state.parameters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListAutomationPoints(parameterID string) []AutomationPoint {
	var out []AutomationPoint
	for _, p := range v.state.points {
		if p.ParameterID == parameterID {
			out = append(out, p)
		}
	}
	sortPointsByTime(out)
	return out
}

func (v transactionView) ListMuteTransitions(trackID string) []MuteTransition {
	var out []MuteTransition
	for _, t := range v.state.transitions {
		if t.TrackID == trackID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) PointsInRange(parameterIDs []string, start, end float64) []AutomationPoint {
	wanted := make(map[string]struct{}, len(parameterIDs))
	for _, id := range parameterIDs {
		wanted[id] = struct{}{}
	}
	var out []AutomationPoint
	for _, p := range v.state.points {
		if _, ok := wanted[p.ParameterID]; !ok {
			continue
		}
		if p.Time < start || p.Time > end {
			continue
		}
		out = append(out, p)
	}
	sortPointsByTime(out)
	return out
}

func (v transactionView) FindDevice(id string) (Device, bool) {
	d, ok := v.state.devices[id]
	return d, ok
}

func (v transactionView) FindTrack(id string) (Track, bool) {
	t, ok := v.state.tracks[id]
	return t, ok
}

func (v transactionView) FindParameter(id string) (Parameter, bool) {
	p, ok := v.state.parameters[id]
	return p, ok
}

func (v transactionView) FindAutomationPoint(id string) (AutomationPoint, bool) {
	p, ok := v.state.points[id]
	return p, ok
}

func (v transactionView) FindMuteTransition(id string) (MuteTransition, bool) {
	t, ok := v.state.transitions[id]
	return t, ok
}

func sortPointsByTime(points []AutomationPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].Time != points[j].Time {
			return points[i].Time < points[j].Time
		}
		return points[i].ID < points[j].ID
	})
}

// GetDevice returns a device by id from the committed state.
func (s *Store) GetDevice(id string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.devices[id]
	return d, ok
}

// ListDevices returns all committed devices.
func (s *Store) ListDevices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListDevices()
}

// GetTrack returns a track by id from the committed state.
func (s *Store) GetTrack(id string) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.tracks[id]
	return t, ok
}

// ListTracks returns all committed tracks ordered by track number.
func (s *Store) ListTracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListTracks()
}

// GetParameter returns a parameter by id from the committed state.
func (s *Store) GetParameter(id string) (Parameter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.parameters[id]
	return p, ok
}

// ListParameters returns all committed parameters.
func (s *Store) ListParameters() []Parameter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListParameters()
}

// ListAutomationPoints returns a parameter's committed points ordered by time.
func (s *Store) ListAutomationPoints(parameterID string) []AutomationPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListAutomationPoints(parameterID)
}

// ListMuteTransitions returns a track's committed transitions ordered by time.
func (s *Store) ListMuteTransitions(trackID string) []MuteTransition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListMuteTransitions(trackID)
}
