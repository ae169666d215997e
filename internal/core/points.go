package core

import (
	"context"
	"math"
	"sort"

	"liveline/pkg/domain"
)

// Order selects the sort direction of range query results.
type Order string

// Range query orderings.
const (
	OrderAscending  Order = "asc"
	OrderDescending Order = "desc"
)

func validateValue(v float64) error {
	if v < 0 || v > 1 {
		return domain.ValidationError{Field: "value", Message: "must be within [0, 1]"}
	}
	return nil
}

// CreateAutomationPoint validates and persists a new automation point.
//
// When the parameter currently holds exactly one point and that point sits at
// the pre-timeline sentinel, the sentinel's value is overwritten first so the
// flat-line segment ahead of the visible timeline matches the first real
// edit.
func (s *Service) CreateAutomationPoint(ctx context.Context, parameterID string, time, value float64) (domain.AutomationPoint, domain.Result, error) {
	start := s.nowFn()
	var created domain.AutomationPoint
	var res domain.Result
	var err error
	defer func() { s.observe(ctx, "create_automation_point", start, err) }()

	if err = validateValue(value); err != nil {
		return domain.AutomationPoint{}, domain.Result{}, err
	}
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindParameter(parameterID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityParameter, ID: parameterID}
		}
		existing := tx.Snapshot().ListAutomationPoints(parameterID)
		if len(existing) == 1 && existing[0].Time == domain.SentinelTime {
			if _, err := tx.UpdateAutomationPoint(existing[0].ID, func(p *domain.AutomationPoint) error {
				p.Value = value
				return nil
			}); err != nil {
				return err
			}
		}
		var err error
		created, err = tx.CreateAutomationPoint(domain.AutomationPoint{
			ParameterID: parameterID,
			Time:        time,
			Value:       value,
		})
		return err
	})
	return created, res, err
}

// UpdateAutomationPoint validates and applies new coordinates to an existing
// point, preserving its creation timestamp.
//
// Mirroring CreateAutomationPoint: when the parameter holds exactly two
// points and the earliest sits at the pre-timeline sentinel, the sentinel's
// value is updated in lockstep.
func (s *Service) UpdateAutomationPoint(ctx context.Context, id, parameterID string, time, value float64) (domain.AutomationPoint, domain.Result, error) {
	start := s.nowFn()
	var updated domain.AutomationPoint
	var res domain.Result
	var err error
	defer func() { s.observe(ctx, "update_automation_point", start, err) }()

	if err = validateValue(value); err != nil {
		return domain.AutomationPoint{}, domain.Result{}, err
	}
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindParameter(parameterID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityParameter, ID: parameterID}
		}
		if _, ok := tx.FindAutomationPoint(id); !ok {
			return domain.ErrNotFound{Entity: domain.EntityAutomationPoint, ID: id}
		}
		existing := tx.Snapshot().ListAutomationPoints(parameterID)
		if len(existing) == 2 && existing[0].Time == domain.SentinelTime && existing[0].ID != id {
			if _, err := tx.UpdateAutomationPoint(existing[0].ID, func(p *domain.AutomationPoint) error {
				p.Value = value
				return nil
			}); err != nil {
				return err
			}
		}
		var err error
		updated, err = tx.UpdateAutomationPoint(id, func(p *domain.AutomationPoint) error {
			p.ParameterID = parameterID
			p.Time = time
			p.Value = value
			return nil
		})
		return err
	})
	return updated, res, err
}

// DeleteAutomationPoints removes the given points. Missing ids reject the
// whole call before any mutation.
func (s *Service) DeleteAutomationPoints(ctx context.Context, ids []string) (domain.Result, error) {
	start := s.nowFn()
	var err error
	defer func() { s.observe(ctx, "delete_automation_points", start, err) }()

	var res domain.Result
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, id := range ids {
			if _, ok := tx.FindAutomationPoint(id); !ok {
				return domain.ErrNotFound{Entity: domain.EntityAutomationPoint, ID: id}
			}
		}
		for _, id := range ids {
			if err := tx.DeleteAutomationPoint(id); err != nil {
				return err
			}
		}
		return nil
	})
	return res, err
}

// AutomationPointsInRange returns the points of the given parameters whose
// time lies in [start, end], both bounds inclusive, ordered by time. A limit
// of 0 means unbounded.
func (s *Service) AutomationPointsInRange(ctx context.Context, parameterIDs []string, startTime, endTime float64, order Order, limit int) ([]domain.AutomationPoint, error) {
	start := s.nowFn()
	var err error
	defer func() { s.observe(ctx, "automation_points_in_range", start, err) }()

	var out []domain.AutomationPoint
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		out = view.PointsInRange(parameterIDs, startTime, endTime)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if order == OrderDescending {
		sort.Slice(out, func(i, j int) bool { return out[i].Time > out[j].Time })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PointInput describes one create-or-update item for BulkSetAutomationPoints.
// An empty ID requests a create.
type PointInput struct {
	ID          string
	ParameterID string
	Time        float64
	Value       float64
}

// BulkSetOutcome reports the per-item result of a bulk set.
type BulkSetOutcome struct {
	Input PointInput
	Point domain.AutomationPoint
	Err   error
}

// BulkSetAutomationPoints applies each input independently; one failed item
// does not abort the rest.
func (s *Service) BulkSetAutomationPoints(ctx context.Context, inputs []PointInput) []BulkSetOutcome {
	outcomes := make([]BulkSetOutcome, 0, len(inputs))
	for _, input := range inputs {
		var point domain.AutomationPoint
		var err error
		if input.ID == "" {
			point, _, err = s.CreateAutomationPoint(ctx, input.ParameterID, input.Time, input.Value)
		} else {
			point, _, err = s.UpdateAutomationPoint(ctx, input.ID, input.ParameterID, input.Time, input.Value)
		}
		if err != nil {
			s.logger.Warn("bulk set item failed", "parameter_id", input.ParameterID, "error", err)
		}
		outcomes = append(outcomes, BulkSetOutcome{Input: input, Point: point, Err: err})
	}
	return outcomes
}

// SimplifyAutomationPoints removes redundant interior points from the
// time-ordered subsequences formed by ids, partitioned per parameter. A point
// is redundant when its perpendicular distance to the segment joining its
// immediate neighbors is strictly below tolerance. A pass that removes
// nothing doubles the tolerance; at most 3 passes run. Endpoints of a
// parameter's own series are never removed.
func (s *Service) SimplifyAutomationPoints(ctx context.Context, ids []string, tolerance float64) ([]string, error) {
	start := s.nowFn()
	var err error
	defer func() { s.observe(ctx, "simplify_automation_points", start, err) }()

	if tolerance <= 0 {
		err = domain.ValidationError{Field: "tolerance", Message: "must be positive"}
		return nil, err
	}

	var removed []string
	for attempt := 0; attempt < 3; attempt++ {
		var toRemove []string
		err = s.store.View(ctx, func(view domain.TransactionView) error {
			toRemove = collectRedundantPoints(view, ids, tolerance)
			return nil
		})
		if err != nil {
			return removed, err
		}
		if len(toRemove) == 0 {
			tolerance *= 2
			continue
		}
		if _, err = s.DeleteAutomationPoints(ctx, toRemove); err != nil {
			return removed, err
		}
		removed = append(removed, toRemove...)
		break
	}
	return removed, nil
}

func collectRedundantPoints(view domain.TransactionView, ids []string, tolerance float64) []string {
	selected := make(map[string]struct{}, len(ids))
	byParameter := make(map[string][]domain.AutomationPoint)
	for _, id := range ids {
		if _, dup := selected[id]; dup {
			continue
		}
		point, ok := view.FindAutomationPoint(id)
		if !ok {
			continue
		}
		selected[id] = struct{}{}
		byParameter[point.ParameterID] = append(byParameter[point.ParameterID], point)
	}

	var toRemove []string
	parameterIDs := make([]string, 0, len(byParameter))
	for parameterID := range byParameter {
		parameterIDs = append(parameterIDs, parameterID)
	}
	sort.Strings(parameterIDs)
	for _, parameterID := range parameterIDs {
		subsequence := byParameter[parameterID]
		sortPoints(subsequence)
		series := view.ListAutomationPoints(parameterID)
		endpoints := map[string]struct{}{}
		if len(series) > 0 {
			endpoints[series[0].ID] = struct{}{}
			endpoints[series[len(series)-1].ID] = struct{}{}
		}
		for i := 1; i < len(subsequence)-1; i++ {
			if _, isEndpoint := endpoints[subsequence[i].ID]; isEndpoint {
				continue
			}
			d := perpendicularDistance(subsequence[i], subsequence[i-1], subsequence[i+1])
			if d < tolerance {
				toRemove = append(toRemove, subsequence[i].ID)
			}
		}
	}
	return toRemove
}

func sortPoints(points []domain.AutomationPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].Time != points[j].Time {
			return points[i].Time < points[j].Time
		}
		return points[i].ID < points[j].ID
	})
}

// perpendicularDistance measures how far p strays from the segment joining a
// and b.
func perpendicularDistance(p, a, b domain.AutomationPoint) float64 {
	dx := b.Time - a.Time
	dy := b.Value - a.Value
	length := math.Hypot(dx, dy)
	if length == 0 {
		return math.Hypot(p.Time-a.Time, p.Value-a.Value)
	}
	return math.Abs(dx*(a.Value-p.Value)-dy*(a.Time-p.Time)) / length
}
