package core

import (
	"context"
	"math"

	"liveline/pkg/domain"
)

// playbackPrecision is the number of decimal places playback values are
// rounded to before delta-encoding.
const playbackPrecision = 4

// ValueEvent is one interpolated sample handed to a playback consumer.
type ValueEvent struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// MuteEvent is one mute flip handed to a playback consumer.
type MuteEvent struct {
	Time    float64 `json:"time"`
	IsMuted bool    `json:"is_muted"`
}

func roundValue(v float64) float64 {
	scale := math.Pow(10, playbackPrecision)
	return math.Round(v*scale) / scale
}

// InterpolatedValuesToPlay samples a parameter's automation over [start, end]
// at the given granularity. A flat curve collapses to a single initial-state
// event, emitted only at the beginning of a playback run; otherwise samples
// are delta-encoded against the last emitted value so a downstream real-time
// consumer is not flooded with duplicates.
func (s *Service) InterpolatedValuesToPlay(ctx context.Context, parameterID string, start, end, granularity float64, isBeginningPlay bool) ([]ValueEvent, error) {
	began := s.nowFn()
	var err error
	defer func() { s.observe(ctx, "interpolated_values_to_play", began, err) }()

	if granularity <= 0 {
		err = domain.ValidationError{Field: "granularity", Message: "must be positive"}
		return nil, err
	}

	var fetched []domain.AutomationPoint
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindParameter(parameterID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityParameter, ID: parameterID}
		}
		fetched = windowWithNeighbors(view.ListAutomationPoints(parameterID), start, end)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		return nil, nil
	}

	flat := true
	for _, p := range fetched[1:] {
		if p.Value != fetched[0].Value {
			flat = false
			break
		}
	}
	if flat {
		if !isBeginningPlay {
			return nil, nil
		}
		return []ValueEvent{{Time: start, Value: roundValue(fetched[0].Value)}}, nil
	}

	var events []ValueEvent
	last := math.NaN()
	first := true
	for t := start; t <= end+timeEpsilon/2; t += granularity {
		v := roundValue(interpolateAt(fetched, t))
		if (first && isBeginningPlay) || v != last {
			events = append(events, ValueEvent{Time: t, Value: v})
			last = v
		}
		first = false
	}
	return events, nil
}

// windowWithNeighbors returns the time-sorted points inside [start, end) plus
// the single nearest point on either side of the window.
func windowWithNeighbors(points []domain.AutomationPoint, start, end float64) []domain.AutomationPoint {
	var before, after *domain.AutomationPoint
	var inside []domain.AutomationPoint
	for i := range points {
		p := &points[i]
		switch {
		case p.Time < start:
			before = p
		case p.Time >= end:
			if after == nil {
				after = p
			}
		default:
			inside = append(inside, *p)
		}
	}
	var out []domain.AutomationPoint
	if before != nil {
		out = append(out, *before)
	}
	out = append(out, inside...)
	if after != nil {
		out = append(out, *after)
	}
	return out
}

// interpolateAt evaluates the piecewise-linear curve through the time-sorted
// points at t, extending flat beyond either end.
func interpolateAt(points []domain.AutomationPoint, t float64) float64 {
	if t <= points[0].Time {
		return points[0].Value
	}
	for i := 1; i < len(points); i++ {
		if t > points[i].Time {
			continue
		}
		prev, next := points[i-1], points[i]
		if next.Time == prev.Time {
			return next.Value
		}
		ratio := (t - prev.Time) / (next.Time - prev.Time)
		return prev.Value + ratio*(next.Value-prev.Value)
	}
	return points[len(points)-1].Value
}

// MuteTransitionsToPlay returns a track's mute flips inside [start, end). At
// the beginning of a playback run the state in effect at start is asserted by
// re-stamping the most recent earlier transition to start, unless a flip
// already sits exactly there.
func (s *Service) MuteTransitionsToPlay(ctx context.Context, trackID string, start, end float64, isBeginningPlay bool) ([]MuteEvent, error) {
	began := s.nowFn()
	var err error
	defer func() { s.observe(ctx, "mute_transitions_to_play", began, err) }()

	var events []MuteEvent
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindTrack(trackID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityTrack, ID: trackID}
		}
		var prior *domain.MuteTransition
		for _, tr := range view.ListMuteTransitions(trackID) {
			switch {
			case tr.Time < start:
				tr := tr
				prior = &tr
			case tr.Time < end:
				events = append(events, MuteEvent{Time: tr.Time, IsMuted: tr.IsMuted})
			}
		}
		if isBeginningPlay && prior != nil {
			if len(events) == 0 || events[0].Time != start {
				events = append([]MuteEvent{{Time: start, IsMuted: prior.IsMuted}}, events...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
