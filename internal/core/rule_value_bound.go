package core

import (
	"context"
	"fmt"

	"liveline/pkg/domain"
)

// ValueBoundRule blocks any transaction that would commit an automation point
// whose value lies outside [0, 1]. The service rejects such values before any
// mutation; the rule keeps the bound enforced for every write path.
func ValueBoundRule() domain.Rule {
	return valueBoundRule{}
}

type valueBoundRule struct{}

func (valueBoundRule) Name() string { return "automation-value-bound" }

func (valueBoundRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		if change.Entity != domain.EntityAutomationPoint || change.Action == domain.ActionDelete {
			continue
		}
		point, ok := change.After.(domain.AutomationPoint)
		if !ok {
			continue
		}
		if point.Value < 0 || point.Value > 1 {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "automation-value-bound",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("value %v outside [0, 1]", point.Value),
				Entity:   domain.EntityAutomationPoint,
				EntityID: point.ID,
			})
		}
	}
	return result, nil
}
