package core

import (
	"context"
	"math"
	"sort"

	"liveline/pkg/domain"
)

// Timing constants for the transition state machine. Gap and pad are in beat
// time; the epsilon keeps an inserted transition strictly before a fixed
// neighbor.
const (
	defaultTransitionGap = 5.0
	clipSplitPad         = 2.0
	timeEpsilon          = 0.001
)

// clipSpan is a contiguous unmuted interval derived from a track's transition
// sequence. A nil end means the span runs to the end of the timeline. openID
// and closeID reference the boundary transitions; openID may belong to the
// pre-timeline sentinel.
type clipSpan struct {
	start   float64
	end     *float64
	openID  string
	closeID string
}

func (s clipSpan) openEnded() bool { return s.end == nil }

// buildClipSpans walks a time-ordered, alternating transition sequence,
// opening a span on every unmute and closing it on the following mute.
func buildClipSpans(transitions []domain.MuteTransition) []clipSpan {
	var spans []clipSpan
	open := false
	for _, tr := range transitions {
		switch {
		case !tr.IsMuted && !open:
			spans = append(spans, clipSpan{start: tr.Time, openID: tr.ID})
			open = true
		case tr.IsMuted && open:
			end := tr.Time
			spans[len(spans)-1].end = &end
			spans[len(spans)-1].closeID = tr.ID
			open = false
		}
	}
	return spans
}

func resolveMuteParameter(view domain.TransactionView, trackID string) (string, bool) {
	for _, tr := range view.ListMuteTransitions(trackID) {
		if tr.ParameterID != "" {
			return tr.ParameterID, true
		}
	}
	for _, p := range view.ListParameters() {
		if p.TrackID == trackID && p.IsMute {
			return p.ID, true
		}
	}
	return "", false
}

// AddMuteTransition inserts a transition at time flipping the state in effect
// immediately before it. When the following transition would then repeat the
// new state, a compensating transition restoring the prior state is inserted
// at time+defaultTransitionGap, squeezed to just before the neighbor if it is
// closer than the gap. A time within timeEpsilon of an existing transition is
// rejected: the squeeze cannot place a compensator between them.
func (s *Service) AddMuteTransition(ctx context.Context, trackID, parameterID string, time float64) (domain.Result, error) {
	start := s.nowFn()
	var err error
	defer func() { s.observe(ctx, "add_mute_transition", start, err) }()

	var res domain.Result
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindTrack(trackID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityTrack, ID: trackID}
		}
		if _, ok := tx.FindParameter(parameterID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityParameter, ID: parameterID}
		}
		transitions := tx.Snapshot().ListMuteTransitions(trackID)

		prevState := false
		var next *domain.MuteTransition
		for i := range transitions {
			if math.Abs(transitions[i].Time-time) <= timeEpsilon {
				return domain.ValidationError{Field: "time", Message: "a transition already exists at this time"}
			}
			if transitions[i].Time < time {
				prevState = transitions[i].IsMuted
			} else if next == nil {
				next = &transitions[i]
			}
		}
		inserted := domain.MuteTransition{
			TrackID:     trackID,
			ParameterID: parameterID,
			Time:        time,
			IsMuted:     !prevState,
		}
		if _, err := tx.CreateMuteTransition(inserted); err != nil {
			return err
		}
		if next != nil && next.IsMuted == inserted.IsMuted {
			comp := domain.MuteTransition{
				TrackID:     trackID,
				ParameterID: parameterID,
				Time:        math.Min(time+defaultTransitionGap, next.Time-timeEpsilon),
				IsMuted:     prevState,
			}
			if _, err := tx.CreateMuteTransition(comp); err != nil {
				return err
			}
		}
		return nil
	})
	return res, err
}

// AddClipAt classifies time against the track's derived clips and inserts the
// transitions that open a fresh clip there, or split an existing one.
func (s *Service) AddClipAt(ctx context.Context, trackID string, time float64) (domain.Result, error) {
	start := s.nowFn()
	var err error
	defer func() { s.observe(ctx, "add_clip_at", start, err) }()

	var res domain.Result
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindTrack(trackID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityTrack, ID: trackID}
		}
		snapshot := tx.Snapshot()
		parameterID, ok := resolveMuteParameter(snapshot, trackID)
		if !ok {
			return domain.ValidationError{Field: "track_id", Message: "track has no mute parameter"}
		}
		transitions := snapshot.ListMuteTransitions(trackID)
		insert := func(at float64, muted bool) error {
			_, err := tx.CreateMuteTransition(domain.MuteTransition{
				TrackID:     trackID,
				ParameterID: parameterID,
				Time:        at,
				IsMuted:     muted,
			})
			return err
		}

		for _, span := range buildClipSpans(transitions) {
			if time < span.start-timeEpsilon || (!span.openEnded() && time >= *span.end) {
				continue
			}
			// Splitting within timeEpsilon of a clip boundary would stack
			// transitions on the same instant; the boundary already carries
			// the state change.
			if time <= span.start+timeEpsilon {
				return nil
			}
			if !span.openEnded() && time >= *span.end-timeEpsilon {
				return nil
			}
			if span.openEnded() {
				return insert(time, true)
			}
			if err := insert(time, true); err != nil {
				return err
			}
			return insert(math.Min(time+clipSplitPad, *span.end-timeEpsilon), false)
		}

		// Muted gap. Locate the pre-timeline sentinel, the first real
		// transition, and the nearest transition after time.
		var sentinel, firstReal, next *domain.MuteTransition
		for i := range transitions {
			tr := &transitions[i]
			if tr.Time == domain.SentinelTime {
				sentinel = tr
				continue
			}
			if firstReal == nil {
				firstReal = tr
			}
			if next == nil && tr.Time > time {
				next = tr
			}
		}
		if sentinel != nil && firstReal == nil {
			if err := insert(time, false); err != nil {
				return err
			}
			return insert(time+clipSplitPad, true)
		}
		if sentinel != nil && firstReal != nil && time < firstReal.Time {
			if _, err := tx.UpdateMuteTransition(sentinel.ID, func(t *domain.MuteTransition) error {
				t.IsMuted = !t.IsMuted
				return nil
			}); err != nil {
				return err
			}
			return insert(time, true)
		}
		if next != nil {
			if err := insert(time, false); err != nil {
				return err
			}
			return insert(math.Min(time+clipSplitPad, next.Time-timeEpsilon), true)
		}
		return insert(time, false)
	})
	return res, err
}

// DeleteMuteTransitions removes the requested transitions while keeping the
// alternation of each affected track intact, widening the deletion to whole
// clip boundaries where necessary.
func (s *Service) DeleteMuteTransitions(ctx context.Context, ids []string) (domain.Result, error) {
	start := s.nowFn()
	var err error
	defer func() { s.observe(ctx, "delete_mute_transitions", start, err) }()

	var res domain.Result
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		perTrack := make(map[string]map[string]struct{})
		for _, id := range ids {
			tr, ok := tx.FindMuteTransition(id)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityMuteTransition, ID: id}
			}
			if perTrack[tr.TrackID] == nil {
				perTrack[tr.TrackID] = make(map[string]struct{})
			}
			perTrack[tr.TrackID][id] = struct{}{}
		}
		trackIDs := make([]string, 0, len(perTrack))
		for trackID := range perTrack {
			trackIDs = append(trackIDs, trackID)
		}
		sort.Strings(trackIDs)
		for _, trackID := range trackIDs {
			if err := deleteTransitionsForTrack(tx, trackID, perTrack[trackID]); err != nil {
				return err
			}
		}
		return nil
	})
	return res, err
}

func deleteTransitionsForTrack(tx domain.Transaction, trackID string, ids map[string]struct{}) error {
	if len(ids) == 0 {
		return nil
	}
	transitions := tx.Snapshot().ListMuteTransitions(trackID)

	var sentinel, firstReal *domain.MuteTransition
	for i := range transitions {
		if transitions[i].Time == domain.SentinelTime {
			sentinel = &transitions[i]
		} else if firstReal == nil {
			firstReal = &transitions[i]
		}
	}

	// Removing the first real transition hands its role to the sentinel:
	// flip the sentinel's state so the timeline still starts the same way,
	// then handle whatever else was requested.
	if sentinel != nil && firstReal != nil {
		if _, ok := ids[firstReal.ID]; ok {
			if err := tx.DeleteMuteTransition(firstReal.ID); err != nil {
				return err
			}
			if _, err := tx.UpdateMuteTransition(sentinel.ID, func(t *domain.MuteTransition) error {
				t.IsMuted = !t.IsMuted
				return nil
			}); err != nil {
				return err
			}
			delete(ids, firstReal.ID)
			return deleteTransitionsForTrack(tx, trackID, ids)
		}
	}

	// A lone trailing transition can go without compensation.
	if len(ids) == 1 && len(transitions) > 0 {
		last := transitions[len(transitions)-1]
		if _, ok := ids[last.ID]; ok {
			return tx.DeleteMuteTransition(last.ID)
		}
	}

	// General case: drop both boundaries of every clip the selection touches
	// so no half-open clip survives.
	removed := make(map[string]struct{})
	for _, span := range buildClipSpans(transitions) {
		_, openHit := ids[span.openID]
		_, closeHit := ids[span.closeID]
		if !openHit && !closeHit {
			continue
		}
		for _, id := range []string{span.openID, span.closeID} {
			if id == "" {
				continue
			}
			if _, done := removed[id]; done {
				continue
			}
			if err := tx.DeleteMuteTransition(id); err != nil {
				return err
			}
			removed[id] = struct{}{}
		}
	}
	for id := range ids {
		if _, done := removed[id]; done {
			continue
		}
		if err := tx.DeleteMuteTransition(id); err != nil {
			return err
		}
	}
	return nil
}

// MergeMuteTransitions fuses every clip touched by the selection, together
// with any clip lying between the earliest and latest of them, into a single
// clip. Interior boundary transitions are deleted; the outermost boundaries
// survive.
func (s *Service) MergeMuteTransitions(ctx context.Context, ids []string) (domain.Result, error) {
	start := s.nowFn()
	var err error
	defer func() { s.observe(ctx, "merge_mute_transitions", start, err) }()

	var res domain.Result
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		perTrack := make(map[string]map[string]struct{})
		for _, id := range ids {
			tr, ok := tx.FindMuteTransition(id)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityMuteTransition, ID: id}
			}
			if perTrack[tr.TrackID] == nil {
				perTrack[tr.TrackID] = make(map[string]struct{})
			}
			perTrack[tr.TrackID][id] = struct{}{}
		}
		trackIDs := make([]string, 0, len(perTrack))
		for trackID := range perTrack {
			trackIDs = append(trackIDs, trackID)
		}
		sort.Strings(trackIDs)
		for _, trackID := range trackIDs {
			if err := mergeTransitionsForTrack(tx, trackID, perTrack[trackID]); err != nil {
				return err
			}
		}
		return nil
	})
	return res, err
}

func mergeTransitionsForTrack(tx domain.Transaction, trackID string, ids map[string]struct{}) error {
	spans := buildClipSpans(tx.Snapshot().ListMuteTransitions(trackID))

	firstTouched, lastTouched := -1, -1
	for i, span := range spans {
		_, openHit := ids[span.openID]
		_, closeHit := ids[span.closeID]
		if openHit || closeHit {
			if firstTouched == -1 {
				firstTouched = i
			}
			lastTouched = i
		}
	}
	if firstTouched == -1 || firstTouched == lastTouched {
		return nil
	}

	// Everything between the outermost touched clips is absorbed, selected
	// or not. Keep the opener of the first clip and the closer of the last;
	// delete every boundary in between.
	absorbed := spans[firstTouched : lastTouched+1]
	keep := map[string]struct{}{absorbed[0].openID: {}}
	if last := absorbed[len(absorbed)-1]; !last.openEnded() {
		keep[last.closeID] = struct{}{}
	}
	for _, span := range absorbed {
		for _, id := range []string{span.openID, span.closeID} {
			if id == "" {
				continue
			}
			if _, kept := keep[id]; kept {
				continue
			}
			if err := tx.DeleteMuteTransition(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// ComputeMoveDelta clamps a requested uniform time shift for the selected
// transitions of a single track. The result never lets a selected transition
// cross time zero or come within timeEpsilon of a non-selected neighbor; the
// most constrained transition wins so relative spacing is preserved. The
// pre-timeline sentinel is never part of the selection.
func ComputeMoveDelta(transitions []domain.MuteTransition, selectedIDs []string, delta float64) float64 {
	if delta == 0 {
		return 0
	}
	selected := make(map[string]struct{}, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = struct{}{}
	}
	sorted := make([]domain.MuteTransition, len(transitions))
	copy(sorted, transitions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	allowed := delta
	any := false
	for i, tr := range sorted {
		if _, ok := selected[tr.ID]; !ok || tr.Time == domain.SentinelTime {
			continue
		}
		any = true
		if delta > 0 {
			for j := i + 1; j < len(sorted); j++ {
				if _, sel := selected[sorted[j].ID]; sel {
					continue
				}
				allowed = math.Min(allowed, sorted[j].Time-timeEpsilon-tr.Time)
				break
			}
		} else {
			floor := -tr.Time
			for j := i - 1; j >= 0; j-- {
				if _, sel := selected[sorted[j].ID]; sel {
					continue
				}
				floor = math.Max(floor, math.Max(0, sorted[j].Time+timeEpsilon)-tr.Time)
				break
			}
			allowed = math.Max(allowed, floor)
		}
	}
	if !any {
		return 0
	}
	if delta > 0 {
		return math.Max(0, allowed)
	}
	return math.Min(0, allowed)
}

// MoveMuteTransitions shifts the selected transitions by the largest uniform
// delta not exceeding the request that every affected track can accommodate,
// and returns the delta actually applied.
func (s *Service) MoveMuteTransitions(ctx context.Context, ids []string, delta float64) (float64, domain.Result, error) {
	start := s.nowFn()
	var err error
	defer func() { s.observe(ctx, "move_mute_transitions", start, err) }()

	var applied float64
	var res domain.Result
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		perTrack := make(map[string][]string)
		for _, id := range ids {
			tr, ok := tx.FindMuteTransition(id)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityMuteTransition, ID: id}
			}
			perTrack[tr.TrackID] = append(perTrack[tr.TrackID], id)
		}
		applied = delta
		for trackID, trackIDs := range perTrack {
			trackDelta := ComputeMoveDelta(tx.Snapshot().ListMuteTransitions(trackID), trackIDs, delta)
			if math.Abs(trackDelta) < math.Abs(applied) {
				applied = trackDelta
			}
		}
		if applied == 0 {
			return nil
		}
		for _, id := range ids {
			if tr, _ := tx.FindMuteTransition(id); tr.Time == domain.SentinelTime {
				continue
			}
			if _, err := tx.UpdateMuteTransition(id, func(t *domain.MuteTransition) error {
				t.Time += applied
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, res, err
	}
	return applied, res, nil
}
