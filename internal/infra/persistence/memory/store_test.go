package memory

import (
	"context"
	"testing"

	"liveline/pkg/domain"
)

// seedTimeline creates a device, one track, and a mute parameter, returning
// their ids.
func seedTimeline(t *testing.T, store *Store) (deviceID, trackID, parameterID string) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		device, err := tx.CreateDevice(Device{Name: "Rack", Class: "query:Plugins#demo"})
		if err != nil {
			return err
		}
		track, err := tx.CreateTrack(Track{DeviceID: device.ID, Number: 1, Name: "T1"})
		if err != nil {
			return err
		}
		param, err := tx.CreateParameter(Parameter{TrackID: track.ID, Name: "T1 Mute", PointeeID: "101", HostID: 7, IsMute: true})
		if err != nil {
			return err
		}
		deviceID, trackID, parameterID = device.ID, track.ID, param.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return deviceID, trackID, parameterID
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, trackID, parameterID := seedTimeline(t, store)

	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, ok := tx.FindTrack("missing"); ok {
			t.Fatalf("expected missing track lookup")
		}
		created, err := tx.CreateAutomationPoint(AutomationPoint{ParameterID: parameterID, Time: 4, Value: 0.5})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if created.CreatedAt.IsZero() {
			t.Fatalf("expected creation timestamp")
		}
		view := tx.Snapshot()
		if len(view.ListAutomationPoints(parameterID)) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListAutomationPoints(parameterID)) != 1 {
		t.Fatalf("expected persisted point")
	}
	if _, ok := store.GetTrack(trackID); !ok {
		t.Fatalf("expected persisted track")
	}

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListDevices()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListAutomationPoints(parameterID)) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
}

func TestTransactionRollbackOnError(t *testing.T) {
	store := NewStore(nil)
	_, _, parameterID := seedTimeline(t, store)

	wantErr := domain.ValidationError{Field: "boom", Message: "forced"}
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateAutomationPoint(AutomationPoint{ParameterID: parameterID, Time: 1, Value: 0.2}); err != nil {
			return err
		}
		return wantErr
	})
	if err == nil {
		t.Fatalf("expected forced error")
	}
	if len(store.ListAutomationPoints(parameterID)) != 0 {
		t.Fatalf("failed transaction must leave state untouched")
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, e := tx.CreateDevice(Device{Name: "Fail"})
		return e
	})
	if err == nil {
		t.Fatalf("expected rule violation error")
	}
	if len(store.ListDevices()) != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(ctx context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

func TestTrackValidation(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		device, err := tx.CreateDevice(Device{Name: "Rack"})
		if err != nil {
			return err
		}
		if _, err := tx.CreateTrack(Track{DeviceID: device.ID, Number: 0}); err == nil {
			t.Fatalf("expected rejection of non-positive track number")
		}
		if _, err := tx.CreateTrack(Track{DeviceID: "missing", Number: 1}); err == nil {
			t.Fatalf("expected rejection of orphan track")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
}

func TestCascadeDelete(t *testing.T) {
	store := NewStore(nil)
	deviceID, trackID, parameterID := seedTimeline(t, store)
	ctx := context.Background()

	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.CreateAutomationPoint(AutomationPoint{ParameterID: parameterID, Time: 0, Value: 0}); err != nil {
			return err
		}
		if _, err := tx.CreateMuteTransition(MuteTransition{TrackID: trackID, ParameterID: parameterID, Time: 0, IsMuted: false}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("populate: %v", err)
	}

	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteDevice(deviceID)
	}); err != nil {
		t.Fatalf("delete device: %v", err)
	}
	if len(store.ListTracks()) != 0 {
		t.Fatalf("expected cascaded track delete")
	}
	if len(store.ListParameters()) != 0 {
		t.Fatalf("expected cascaded parameter delete")
	}
	if len(store.ListAutomationPoints(parameterID)) != 0 {
		t.Fatalf("expected cascaded point delete")
	}
	if len(store.ListMuteTransitions(trackID)) != 0 {
		t.Fatalf("expected cascaded transition delete")
	}
}

func TestListOrderingAndPointsInRange(t *testing.T) {
	store := NewStore(nil)
	_, trackID, parameterID := seedTimeline(t, store)
	ctx := context.Background()

	times := []float64{8, domain.SentinelTime, 2, 5}
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		for _, at := range times {
			if _, err := tx.CreateAutomationPoint(AutomationPoint{ParameterID: parameterID, Time: at, Value: 0.5}); err != nil {
				return err
			}
		}
		if _, err := tx.CreateMuteTransition(MuteTransition{TrackID: trackID, ParameterID: parameterID, Time: 6, IsMuted: true}); err != nil {
			return err
		}
		_, err := tx.CreateMuteTransition(MuteTransition{TrackID: trackID, ParameterID: parameterID, Time: 1, IsMuted: false})
		return err
	})
	if err != nil {
		t.Fatalf("populate: %v", err)
	}

	points := store.ListAutomationPoints(parameterID)
	for i := 1; i < len(points); i++ {
		if points[i-1].Time > points[i].Time {
			t.Fatalf("points not sorted: %v after %v", points[i].Time, points[i-1].Time)
		}
	}
	transitions := store.ListMuteTransitions(trackID)
	if len(transitions) != 2 || transitions[0].Time != 1 {
		t.Fatalf("transitions not sorted by time: %+v", transitions)
	}

	if err := store.View(ctx, func(view TransactionView) error {
		got := view.PointsInRange([]string{parameterID}, 2, 8)
		if len(got) != 3 {
			t.Fatalf("inclusive range expected 3 points, got %d", len(got))
		}
		if got[0].Time != 2 || got[len(got)-1].Time != 8 {
			t.Fatalf("range bounds must be inclusive: %+v", got)
		}
		if len(view.PointsInRange([]string{"other"}, 0, 100)) != 0 {
			t.Fatalf("foreign parameter must not match")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestImportStateDropsOrphans(t *testing.T) {
	store := NewStore(nil)
	store.ImportState(Snapshot{
		Points: map[string]AutomationPoint{
			"p": {Base: domain.Base{ID: "p"}, ParameterID: "gone", Time: 0, Value: 0.5},
		},
		Transitions: map[string]MuteTransition{
			"m": {Base: domain.Base{ID: "m"}, TrackID: "gone", Time: 0},
		},
	})
	if len(store.ListAutomationPoints("gone")) != 0 {
		t.Fatalf("orphan point must be dropped")
	}
	if len(store.ListMuteTransitions("gone")) != 0 {
		t.Fatalf("orphan transition must be dropped")
	}
}
