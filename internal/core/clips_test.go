package core

import (
	"context"
	"testing"

	"liveline/pkg/domain"
)

func TestClipsFromTransitions(t *testing.T) {
	fx := newFixture(t)
	fx.seedTransitions(t,
		domain.MuteTransition{Time: 0, IsMuted: false},
		domain.MuteTransition{Time: 10, IsMuted: true},
		domain.MuteTransition{Time: 20, IsMuted: false},
	)
	clips, err := fx.svc.ClipsForTrack(context.Background(), fx.trackID)
	if err != nil {
		t.Fatalf("clips: %v", err)
	}
	if len(clips) != 2 {
		t.Fatalf("expected 2 clips, got %+v", clips)
	}
	if clips[0].Start != 0 || clips[0].End == nil || *clips[0].End != 10 {
		t.Fatalf("expected [0,10), got %+v", clips[0])
	}
	if clips[1].Start != 20 || !clips[1].Open() {
		t.Fatalf("expected open clip from 20, got %+v", clips[1])
	}
}

func TestClipsClampSentinelStartToZero(t *testing.T) {
	fx := newFixture(t)
	fx.seedTransitions(t,
		domain.MuteTransition{Time: domain.SentinelTime, IsMuted: false},
		domain.MuteTransition{Time: 8, IsMuted: true},
	)
	clips, err := fx.svc.ClipsForTrack(context.Background(), fx.trackID)
	if err != nil {
		t.Fatalf("clips: %v", err)
	}
	if len(clips) != 1 || clips[0].Start != 0 || clips[0].End == nil || *clips[0].End != 8 {
		t.Fatalf("expected [0,8) after clamping, got %+v", clips)
	}
}

func TestClipsDropNegativeWidthAfterClamp(t *testing.T) {
	fx := newFixture(t)
	fx.seedTransitions(t,
		domain.MuteTransition{Time: -4, IsMuted: false},
		domain.MuteTransition{Time: -2, IsMuted: true},
		domain.MuteTransition{Time: 6, IsMuted: false},
	)
	clips, err := fx.svc.ClipsForTrack(context.Background(), fx.trackID)
	if err != nil {
		t.Fatalf("clips: %v", err)
	}
	if len(clips) != 1 || clips[0].Start != 6 {
		t.Fatalf("pre-zero clip must vanish, got %+v", clips)
	}
}

func TestClipsFromBoolAutomationFallback(t *testing.T) {
	fx := newFixture(t)
	fx.seedPoints(t, fx.muteParamID, [2]float64{0, 0}, [2]float64{8, 1}, [2]float64{16, 0})
	clips, err := fx.svc.ClipsForTrack(context.Background(), fx.trackID)
	if err != nil {
		t.Fatalf("clips: %v", err)
	}
	if len(clips) != 2 {
		t.Fatalf("expected 2 clips, got %+v", clips)
	}
	if clips[0].Start != 0 || clips[0].End == nil || *clips[0].End != 8 {
		t.Fatalf("expected [0,8), got %+v", clips[0])
	}
	if clips[1].Start != 16 || !clips[1].Open() {
		t.Fatalf("expected open clip from 16, got %+v", clips[1])
	}
}

func TestClipsDefaultMuteFallback(t *testing.T) {
	fx := newFixture(t)
	clips, err := fx.svc.ClipsForTrack(context.Background(), fx.trackID)
	if err != nil {
		t.Fatalf("clips: %v", err)
	}
	if len(clips) != 1 || clips[0].Start != 0 || !clips[0].Open() {
		t.Fatalf("unmuted-by-default track must yield one open clip, got %+v", clips)
	}

	_, err = fx.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateTrack(fx.trackID, func(tr *domain.Track) error {
			tr.DefaultMuted = true
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update track: %v", err)
	}
	clips, err = fx.svc.ClipsForTrack(context.Background(), fx.trackID)
	if err != nil {
		t.Fatalf("clips: %v", err)
	}
	if len(clips) != 0 {
		t.Fatalf("muted-by-default track must yield no clips, got %+v", clips)
	}
}

func TestClipsUnknownTrack(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.svc.ClipsForTrack(context.Background(), "missing"); err == nil {
		t.Fatalf("expected not-found error")
	}
}
