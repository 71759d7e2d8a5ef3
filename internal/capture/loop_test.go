package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/screenshare/backend/internal/frame"
	"github.com/screenshare/backend/internal/viewer"
)

func TestRatePolicyDefaults(t *testing.T) {
	tests := []struct {
		viewers int
		want    int
	}{
		{0, 20},
		{1, 20},
		{2, 20},
		{3, 15},
		{5, 15},
		{6, 12},
		{10, 12},
		{11, 8},
		{100, 8},
	}

	p := DefaultCapturePolicy()
	for _, tt := range tests {
		if got := p.FPSFor(tt.viewers); got != tt.want {
			t.Errorf("FPSFor(%d) = %d, want %d", tt.viewers, got, tt.want)
		}
	}
}

// Target FPS must never increase as viewers grow, and must stay positive
// for any count.
func TestRatePolicyMonotoneWithFloor(t *testing.T) {
	for _, p := range []RatePolicy{DefaultCapturePolicy(), DefaultDeliveryPolicy()} {
		if err := p.Validate(); err != nil {
			t.Fatalf("default policy invalid: %v", err)
		}
		prev := p.FPSFor(0)
		for viewers := 1; viewers <= 50; viewers++ {
			fps := p.FPSFor(viewers)
			if fps > prev {
				t.Fatalf("FPSFor(%d) = %d > FPSFor(%d) = %d", viewers, fps, viewers-1, prev)
			}
			if fps <= 0 {
				t.Fatalf("FPSFor(%d) = %d, want positive", viewers, fps)
			}
			prev = fps
		}
	}
}

func TestRatePolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RatePolicy
		wantErr bool
	}{
		{"valid", DefaultCapturePolicy(), false},
		{"zero floor", RatePolicy{Floor: 0}, true},
		{"increasing fps", RatePolicy{
			Steps: []RateStep{{MaxViewers: 2, FPS: 10}, {MaxViewers: 5, FPS: 20}},
			Floor: 5,
		}, true},
		{"non-ascending breakpoints", RatePolicy{
			Steps: []RateStep{{MaxViewers: 5, FPS: 20}, {MaxViewers: 5, FPS: 15}},
			Floor: 5,
		}, true},
		{"floor above last step", RatePolicy{
			Steps: []RateStep{{MaxViewers: 2, FPS: 10}},
			Floor: 15,
		}, true},
		{"zero fps step", RatePolicy{
			Steps: []RateStep{{MaxViewers: 2, FPS: 0}},
			Floor: 5,
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// Measured target FPS must fall from the 0-viewer tier to the >10-viewer
// tier as the registry fills.
func TestLoopAdaptsRateToViewerCount(t *testing.T) {
	registry := viewer.NewRegistry()
	cache := frame.NewCache(map[frame.Tier]frame.TierSettings{
		frame.Low: {ScalePercent: 50, JPEGQuality: 60},
	})
	loop := NewLoop(NewSynthetic(64, 48), cache, registry, DefaultCapturePolicy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return loop.RateState().CurrentFPS == 20 })

	for i := 0; i < 12; i++ {
		registry.Add(&viewer.Session{ID: fmt.Sprintf("v%d", i)})
	}
	waitFor(t, func() bool {
		s := loop.RateState()
		return s.ActiveViewers == 12 && s.CurrentFPS == 8
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

type failingSource struct {
	calls atomic.Int32
}

func (f *failingSource) Grab() (image.Image, error) {
	f.calls.Add(1)
	return nil, errors.New("grab exploded")
}

func (f *failingSource) Close() error { return nil }

// A grab failure is a skipped cycle with backoff, never a loop exit.
func TestLoopSurvivesGrabFailure(t *testing.T) {
	cache := frame.NewCache(frame.DefaultTierSettings())
	src := &failingSource{}
	loop := NewLoop(src, cache, viewer.NewRegistry(), DefaultCapturePolicy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return src.calls.Load() >= 1 })
	select {
	case <-done:
		t.Fatal("loop exited on grab failure")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	if cache.FramesCaptured() != 0 {
		t.Errorf("FramesCaptured = %d, want 0", cache.FramesCaptured())
	}
}

func TestRefreshPublishesImmediately(t *testing.T) {
	cache := frame.NewCache(map[frame.Tier]frame.TierSettings{
		frame.Low: {ScalePercent: 50, JPEGQuality: 60},
	})
	loop := NewLoop(NewSynthetic(64, 48), cache, viewer.NewRegistry(), DefaultCapturePolicy())

	if err := loop.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := cache.Read(frame.Low); !ok {
		t.Error("cache empty after Refresh")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
