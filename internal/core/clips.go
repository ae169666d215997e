package core

import (
	"context"
	"math"

	"liveline/pkg/domain"
)

// ClipsForTrack derives the active spans of a track. Preference order:
// explicit mute transitions, then raw boolean automation on the mute
// parameter with a >0.5 threshold, then the inverse of the track's static
// default-mute flag. Starts are clamped to time zero; the pre-timeline
// sentinel only decides the initial state.
func (s *Service) ClipsForTrack(ctx context.Context, trackID string) ([]domain.Clip, error) {
	start := s.nowFn()
	var err error
	defer func() { s.observe(ctx, "clips_for_track", start, err) }()

	var clips []domain.Clip
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		track, ok := view.FindTrack(trackID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityTrack, ID: trackID}
		}

		transitions := view.ListMuteTransitions(trackID)
		if len(transitions) > 0 {
			clips = spansToClips(trackID, buildClipSpans(transitions))
			return nil
		}

		if parameterID, ok := resolveMuteParameter(view, trackID); ok {
			points := view.ListAutomationPoints(parameterID)
			if len(points) > 0 {
				clips = spansToClips(trackID, spansFromBoolAutomation(points))
				return nil
			}
		}

		if !track.DefaultMuted {
			clips = []domain.Clip{{TrackID: trackID, Start: 0}}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clips, nil
}

func spansToClips(trackID string, spans []clipSpan) []domain.Clip {
	clips := make([]domain.Clip, 0, len(spans))
	for _, span := range spans {
		clip := domain.Clip{TrackID: trackID, Start: math.Max(0, span.start), End: span.end}
		if clip.End != nil && *clip.End <= clip.Start {
			continue
		}
		clips = append(clips, clip)
	}
	return clips
}

// spansFromBoolAutomation treats point values above 0.5 as muted and walks
// the resulting step function the same way buildClipSpans walks transitions.
func spansFromBoolAutomation(points []domain.AutomationPoint) []clipSpan {
	var spans []clipSpan
	open := false
	for _, p := range points {
		muted := p.Value > 0.5
		switch {
		case !muted && !open:
			spans = append(spans, clipSpan{start: p.Time})
			open = true
		case muted && open:
			end := p.Time
			spans[len(spans)-1].end = &end
			open = false
		}
	}
	return spans
}
