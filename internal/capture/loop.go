package capture

import (
	"context"
	"image"
	"log"
	"sync"
	"time"

	"github.com/screenshare/backend/internal/frame"
	"github.com/screenshare/backend/internal/viewer"
)

// errBackoff is how long the loop pauses after a failed grab before the
// next attempt. A transient capture fault is a skipped cycle, never a loop
// exit.
const errBackoff = time.Second

// RateState is the capture loop's view of load: how many viewers are
// connected and the FPS currently targeted for them.
type RateState struct {
	ActiveViewers int `json:"activeViewers"`
	CurrentFPS    int `json:"currentFps"`
}

// Loop pulls frames from a Source on an adaptive cadence and publishes them
// into the cache. It never blocks on viewer I/O; slow viewers only ever
// re-read a stale cache entry.
type Loop struct {
	source   Source
	cache    *frame.Cache
	registry *viewer.Registry
	policy   RatePolicy

	grabMu sync.Mutex // serializes Grab between the loop and Refresh

	mu    sync.RWMutex
	state RateState
}

func NewLoop(source Source, cache *frame.Cache, registry *viewer.Registry, policy RatePolicy) *Loop {
	return &Loop{
		source:   source,
		cache:    cache,
		registry: registry,
		policy:   policy,
		state:    RateState{CurrentFPS: policy.FPSFor(0)},
	}
}

// Run drives grab→encode→publish cycles until ctx is cancelled, then
// releases the source. Encode cost is amortized against the frame period:
// the sleep is the period minus the time the cycle already spent.
func (l *Loop) Run(ctx context.Context) {
	defer l.source.Close()
	log.Println("Capture loop started")

	for {
		select {
		case <-ctx.Done():
			log.Println("Capture loop stopped")
			return
		default:
		}

		cycleStart := time.Now()

		viewers := l.registry.ActiveCount()
		fps := l.policy.FPSFor(viewers)
		l.setState(viewers, fps)

		img, err := l.grab()
		if err != nil {
			log.Printf("capture: grab failed, skipping cycle: %v", err)
			if !sleepCtx(ctx, errBackoff) {
				return
			}
			continue
		}
		l.cache.Publish(img)

		period := time.Second / time.Duration(fps)
		if remaining := period - time.Since(cycleStart); remaining > 0 {
			if !sleepCtx(ctx, remaining) {
				return
			}
		}
	}
}

// Refresh grabs and publishes one frame immediately, outside the loop's
// cadence. Used after a quality change so the next served frame reflects
// the new tier without waiting a full cycle.
func (l *Loop) Refresh() error {
	img, err := l.grab()
	if err != nil {
		return err
	}
	l.cache.Publish(img)
	return nil
}

func (l *Loop) grab() (image.Image, error) {
	l.grabMu.Lock()
	defer l.grabMu.Unlock()
	return l.source.Grab()
}

// RateState returns the most recent load snapshot.
func (l *Loop) RateState() RateState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Loop) setState(viewers, fps int) {
	l.mu.Lock()
	l.state = RateState{ActiveViewers: viewers, CurrentFPS: fps}
	l.mu.Unlock()
}

// sleepCtx sleeps for d unless ctx is cancelled first. Reports whether the
// full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
