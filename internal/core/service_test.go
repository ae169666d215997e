package core

import (
	"context"
	"errors"
	"testing"

	"liveline/internal/infra/persistence/memory"
	"liveline/pkg/domain"
)

type fixture struct {
	svc         *Service
	store       *memory.Store
	trackID     string
	muteParamID string
	contParamID string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore(DefaultRulesEngine())
	svc := NewService(store)
	fx := fixture{svc: svc, store: store}
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		device, err := tx.CreateDevice(domain.Device{Name: "Rack", Class: "query:Plugins#demo"})
		if err != nil {
			return err
		}
		track, err := tx.CreateTrack(domain.Track{DeviceID: device.ID, Number: 1, Name: "T1"})
		if err != nil {
			return err
		}
		mute, err := tx.CreateParameter(domain.Parameter{TrackID: track.ID, Name: "T1 Mute", PointeeID: "101", HostID: 7, IsMute: true})
		if err != nil {
			return err
		}
		cont, err := tx.CreateParameter(domain.Parameter{TrackID: track.ID, Name: "T1 Cutoff", PointeeID: "102", HostID: 8})
		if err != nil {
			return err
		}
		fx.trackID, fx.muteParamID, fx.contParamID = track.ID, mute.ID, cont.ID
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return fx
}

// seedTransitions inserts raw transitions bypassing the state machine, so
// tests can start from a precise timeline shape.
func (fx fixture) seedTransitions(t *testing.T, specs ...domain.MuteTransition) []string {
	t.Helper()
	ids := make([]string, 0, len(specs))
	_, err := fx.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for _, spec := range specs {
			spec.TrackID = fx.trackID
			spec.ParameterID = fx.muteParamID
			created, err := tx.CreateMuteTransition(spec)
			if err != nil {
				return err
			}
			ids = append(ids, created.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed transitions: %v", err)
	}
	return ids
}

func (fx fixture) seedPoints(t *testing.T, parameterID string, pairs ...[2]float64) []string {
	t.Helper()
	ids := make([]string, 0, len(pairs))
	_, err := fx.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for _, pair := range pairs {
			created, err := tx.CreateAutomationPoint(domain.AutomationPoint{ParameterID: parameterID, Time: pair[0], Value: pair[1]})
			if err != nil {
				return err
			}
			ids = append(ids, created.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed points: %v", err)
	}
	return ids
}

func (fx fixture) transitions(t *testing.T) []domain.MuteTransition {
	t.Helper()
	return fx.store.ListMuteTransitions(fx.trackID)
}

func assertAlternating(t *testing.T, transitions []domain.MuteTransition) {
	t.Helper()
	for i := 1; i < len(transitions); i++ {
		if transitions[i].IsMuted == transitions[i-1].IsMuted {
			t.Fatalf("alternation broken at %v: %+v", transitions[i].Time, transitions)
		}
	}
}

func TestInitializeSingleFlight(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if err := fx.svc.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := fx.svc.Initialize(ctx); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestMuteParameterForTrack(t *testing.T) {
	fx := newFixture(t)
	param, ok := fx.svc.MuteParameterForTrack(fx.trackID)
	if !ok || param.ID != fx.muteParamID {
		t.Fatalf("expected mute parameter %s, got %+v", fx.muteParamID, param)
	}
	if _, ok := fx.svc.MuteParameterForTrack("missing"); ok {
		t.Fatalf("expected no mute parameter for unknown track")
	}
}
