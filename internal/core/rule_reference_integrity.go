package core

import (
	"context"
	"fmt"

	"liveline/pkg/domain"
)

// ReferenceIntegrityRule blocks transactions that would commit records whose
// owners are missing: tracks without devices, parameters without tracks,
// points without parameters, transitions without tracks.
func ReferenceIntegrityRule() domain.Rule {
	return referenceIntegrityRule{}
}

type referenceIntegrityRule struct{}

func (referenceIntegrityRule) Name() string { return "reference-integrity" }

func (referenceIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	missing := func(entity domain.EntityType, id string, owner domain.EntityType, ownerID string) {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "reference-integrity",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%s %s references missing %s %s", entity, id, owner, ownerID),
			Entity:   entity,
			EntityID: id,
		})
	}
	for _, change := range changes {
		if change.Action == domain.ActionDelete {
			continue
		}
		switch change.Entity {
		case domain.EntityTrack:
			track, ok := change.After.(domain.Track)
			if !ok {
				continue
			}
			if _, ok := view.FindDevice(track.DeviceID); !ok {
				missing(domain.EntityTrack, track.ID, domain.EntityDevice, track.DeviceID)
			}
		case domain.EntityParameter:
			parameter, ok := change.After.(domain.Parameter)
			if !ok {
				continue
			}
			if _, ok := view.FindTrack(parameter.TrackID); !ok {
				missing(domain.EntityParameter, parameter.ID, domain.EntityTrack, parameter.TrackID)
			}
		case domain.EntityAutomationPoint:
			point, ok := change.After.(domain.AutomationPoint)
			if !ok {
				continue
			}
			if _, ok := view.FindParameter(point.ParameterID); !ok {
				missing(domain.EntityAutomationPoint, point.ID, domain.EntityParameter, point.ParameterID)
			}
		case domain.EntityMuteTransition:
			transition, ok := change.After.(domain.MuteTransition)
			if !ok {
				continue
			}
			if _, ok := view.FindTrack(transition.TrackID); !ok {
				missing(domain.EntityMuteTransition, transition.ID, domain.EntityTrack, transition.TrackID)
			}
		}
	}
	return result, nil
}
