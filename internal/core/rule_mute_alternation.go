package core

import (
	"context"
	"fmt"

	"liveline/pkg/domain"
)

// MuteAlternationRule audits the per-track alternation of mute transitions.
// The state-machine operations guarantee the invariant themselves, so a
// violation here is a warn-severity audit signal, never the enforcement
// mechanism: it must not surface to users as a failed edit.
func MuteAlternationRule() domain.Rule {
	return muteAlternationRule{}
}

type muteAlternationRule struct{}

func (muteAlternationRule) Name() string { return "mute-alternation" }

func (muteAlternationRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityMuteTransition {
			continue
		}
		for _, payload := range []any{change.After, change.Before} {
			if transition, ok := payload.(domain.MuteTransition); ok {
				touched[transition.TrackID] = struct{}{}
			}
		}
	}

	var result domain.Result
	for trackID := range touched {
		transitions := view.ListMuteTransitions(trackID)
		for i := 1; i < len(transitions); i++ {
			if transitions[i].IsMuted == transitions[i-1].IsMuted {
				result.Violations = append(result.Violations, domain.Violation{
					Rule:     "mute-alternation",
					Severity: domain.SeverityWarn,
					Message: fmt.Sprintf("track %s has adjacent transitions at %v and %v with equal state",
						trackID, transitions[i-1].Time, transitions[i].Time),
					Entity:   domain.EntityMuteTransition,
					EntityID: transitions[i].ID,
				})
			}
		}
	}
	return result, nil
}
