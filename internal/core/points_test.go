package core

import (
	"context"
	"errors"
	"math"
	"testing"

	"liveline/pkg/domain"
)

func TestCreateAutomationPointRejectsOutOfRange(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	for _, v := range []float64{-0.1, 1.5} {
		_, _, err := fx.svc.CreateAutomationPoint(ctx, fx.contParamID, 1, v)
		var ve domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("value %v: expected validation error, got %v", v, err)
		}
	}
	if len(fx.store.ListAutomationPoints(fx.contParamID)) != 0 {
		t.Fatalf("rejected create must leave store unchanged")
	}
}

func TestCreateAutomationPointUnknownParameter(t *testing.T) {
	fx := newFixture(t)
	_, _, err := fx.svc.CreateAutomationPoint(context.Background(), "missing", 1, 0.5)
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) || nf.Entity != domain.EntityParameter {
		t.Fatalf("expected parameter not-found, got %v", err)
	}
}

func TestCreateSyncsLoneSentinelValue(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedPoints(t, fx.contParamID, [2]float64{domain.SentinelTime, 0.2})

	if _, _, err := fx.svc.CreateAutomationPoint(ctx, fx.contParamID, 4, 0.8); err != nil {
		t.Fatalf("create: %v", err)
	}
	points := fx.store.ListAutomationPoints(fx.contParamID)
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].Time != domain.SentinelTime || points[0].Value != 0.8 {
		t.Fatalf("sentinel not synced: %+v", points[0])
	}
}

func TestCreateLeavesSentinelWhenSeriesLarger(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedPoints(t, fx.contParamID,
		[2]float64{domain.SentinelTime, 0.2},
		[2]float64{2, 0.3},
	)
	if _, _, err := fx.svc.CreateAutomationPoint(ctx, fx.contParamID, 4, 0.9); err != nil {
		t.Fatalf("create: %v", err)
	}
	points := fx.store.ListAutomationPoints(fx.contParamID)
	if points[0].Value != 0.2 {
		t.Fatalf("sentinel must stay untouched with more than one existing point: %+v", points[0])
	}
}

func TestUpdateSyncsSentinelOnTwoPointSeries(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	ids := fx.seedPoints(t, fx.contParamID,
		[2]float64{domain.SentinelTime, 0.2},
		[2]float64{4, 0.2},
	)

	updated, _, err := fx.svc.UpdateAutomationPoint(ctx, ids[1], fx.contParamID, 6, 0.75)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Time != 6 || updated.Value != 0.75 {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	points := fx.store.ListAutomationPoints(fx.contParamID)
	if points[0].Time != domain.SentinelTime || points[0].Value != 0.75 {
		t.Fatalf("sentinel not synced in lockstep: %+v", points[0])
	}
}

func TestUpdatePreservesCreationTimestamp(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	ids := fx.seedPoints(t, fx.contParamID, [2]float64{4, 0.2})
	before := fx.store.ListAutomationPoints(fx.contParamID)[0]

	updated, _, err := fx.svc.UpdateAutomationPoint(ctx, ids[0], fx.contParamID, 5, 0.3)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("creation timestamp must survive update")
	}
}

func TestDeleteAutomationPointsRejectsMissingBeforeMutation(t *testing.T) {
	fx := newFixture(t)
	ids := fx.seedPoints(t, fx.contParamID, [2]float64{1, 0.1})
	_, err := fx.svc.DeleteAutomationPoints(context.Background(), []string{ids[0], "missing"})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if len(fx.store.ListAutomationPoints(fx.contParamID)) != 1 {
		t.Fatalf("partial delete must not happen")
	}
}

func TestAutomationPointsInRangeOrderAndLimit(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.seedPoints(t, fx.contParamID,
		[2]float64{1, 0.1}, [2]float64{2, 0.2}, [2]float64{3, 0.3}, [2]float64{9, 0.9},
	)

	asc, err := fx.svc.AutomationPointsInRange(ctx, []string{fx.contParamID}, 1, 3, OrderAscending, 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(asc) != 3 || asc[0].Time != 1 || asc[2].Time != 3 {
		t.Fatalf("ascending inclusive range mismatch: %+v", asc)
	}

	desc, err := fx.svc.AutomationPointsInRange(ctx, []string{fx.contParamID}, 1, 9, OrderDescending, 2)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(desc) != 2 || desc[0].Time != 9 || desc[1].Time != 3 {
		t.Fatalf("descending limited range mismatch: %+v", desc)
	}
}

func TestBulkSetPartialSuccess(t *testing.T) {
	fx := newFixture(t)
	outcomes := fx.svc.BulkSetAutomationPoints(context.Background(), []PointInput{
		{ParameterID: fx.contParamID, Time: 1, Value: 0.4},
		{ParameterID: fx.contParamID, Time: 2, Value: 1.4},
		{ParameterID: fx.contParamID, Time: 3, Value: 0.6},
	})
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes")
	}
	if outcomes[0].Err != nil || outcomes[2].Err != nil {
		t.Fatalf("valid items must succeed: %v %v", outcomes[0].Err, outcomes[2].Err)
	}
	if outcomes[1].Err == nil {
		t.Fatalf("out-of-range item must fail")
	}
	if len(fx.store.ListAutomationPoints(fx.contParamID)) != 2 {
		t.Fatalf("one failed item must not abort the rest")
	}
}

func TestSimplifyRemovesColinearMiddle(t *testing.T) {
	fx := newFixture(t)
	ids := fx.seedPoints(t, fx.contParamID,
		[2]float64{0, 0}, [2]float64{1, 0.5}, [2]float64{2, 1},
	)
	removed, err := fx.svc.SimplifyAutomationPoints(context.Background(), ids, 0.005)
	if err != nil {
		t.Fatalf("simplify: %v", err)
	}
	if len(removed) != 1 || removed[0] != ids[1] {
		t.Fatalf("expected middle point removed, got %v", removed)
	}
	if len(fx.store.ListAutomationPoints(fx.contParamID)) != 2 {
		t.Fatalf("expected 2 surviving points")
	}
}

func TestSimplifyNeverRemovesSeriesEndpoints(t *testing.T) {
	fx := newFixture(t)
	// Perfectly colinear series: everything but the endpoints is removable.
	ids := fx.seedPoints(t, fx.contParamID,
		[2]float64{0, 0}, [2]float64{1, 0.25}, [2]float64{2, 0.5}, [2]float64{3, 0.75}, [2]float64{4, 1},
	)
	removed, err := fx.svc.SimplifyAutomationPoints(context.Background(), ids, 0.01)
	if err != nil {
		t.Fatalf("simplify: %v", err)
	}
	for _, id := range removed {
		if id == ids[0] || id == ids[len(ids)-1] {
			t.Fatalf("series endpoint removed")
		}
	}
	survivors := fx.store.ListAutomationPoints(fx.contParamID)
	if survivors[0].Time != 0 || survivors[len(survivors)-1].Time != 4 {
		t.Fatalf("endpoints must survive: %+v", survivors)
	}
}

func TestSimplifyDoublesToleranceUpToThreeAttempts(t *testing.T) {
	fx := newFixture(t)
	// Middle point deviates ~0.00894 from the chord; only the third attempt
	// (tolerance 0.012) clears it.
	ids := fx.seedPoints(t, fx.contParamID,
		[2]float64{0, 0}, [2]float64{1, 0.51}, [2]float64{2, 1},
	)
	removed, err := fx.svc.SimplifyAutomationPoints(context.Background(), ids, 0.003)
	if err != nil {
		t.Fatalf("simplify: %v", err)
	}
	if len(removed) != 1 || removed[0] != ids[1] {
		t.Fatalf("expected back-off to remove middle point, got %v", removed)
	}
}

func TestSimplifyRejectsNonPositiveTolerance(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.SimplifyAutomationPoints(context.Background(), nil, 0)
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPerpendicularDistance(t *testing.T) {
	a := domain.AutomationPoint{Time: 0, Value: 0}
	b := domain.AutomationPoint{Time: 2, Value: 0}
	p := domain.AutomationPoint{Time: 1, Value: 0.5}
	if d := perpendicularDistance(p, a, b); math.Abs(d-0.5) > 1e-9 {
		t.Fatalf("expected distance 0.5, got %v", d)
	}
	// Degenerate segment falls back to point distance.
	if d := perpendicularDistance(p, a, a); math.Abs(d-math.Hypot(1, 0.5)) > 1e-9 {
		t.Fatalf("unexpected degenerate distance %v", d)
	}
}
