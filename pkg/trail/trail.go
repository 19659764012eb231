// Package trail implements the trail recorder (§4.8, §4.11): while a
// recording session is active and the engine is Tracking, it samples the
// synced telemetry stream at a fixed cadence and, on stop, hands the
// collected trail off to a store client.
package trail

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aerofollow/gcs/pkg/model"
)

// Store persists a finished recording. DynamoDBStore is the production
// implementation; tests use an in-memory fake.
type Store interface {
	Put(ctx context.Context, obj model.RecordedObject) error
}

// Config holds the recorder's cadence knob.
type Config struct {
	RecordEveryNth int // default 10
}

// DefaultConfig returns the spec's stated default.
func DefaultConfig() Config {
	return Config{RecordEveryNth: 10}
}

// Recorder owns the in-progress trail buffer. It is driven by one caller per
// synced tick (the engine driver); it holds no goroutine of its own.
type Recorder struct {
	cfg   Config
	store Store

	active         bool
	intervalCount  int
	className      string
	startedAt      time.Time
	points         []model.TrailPoint
}

// New constructs a Recorder in the inactive state.
func New(cfg Config, store Store) *Recorder {
	return &Recorder{cfg: cfg, store: store}
}

// Start begins a new recording session, discarding any prior unflushed
// buffer (the UI is expected to have already stopped a prior session before
// starting another).
func (r *Recorder) Start() {
	r.active = true
	r.intervalCount = 0
	r.className = ""
	r.startedAt = time.Time{}
	r.points = nil
}

// Active reports whether a recording session is in progress.
func (r *Recorder) Active() bool {
	return r.active
}

// Tick is called once per synced telemetry+tracking tick (§4.8): when
// active and tracking, it increments the interval counter and appends a
// TrailPoint every RecordEveryNth tick.
func (r *Recorder) Tick(telemetry model.TelemetrySample, tracking bool, className string) {
	if !r.active || !tracking {
		return
	}
	r.intervalCount++
	if r.intervalCount < r.cfg.RecordEveryNth {
		return
	}
	r.intervalCount = 0

	if r.startedAt.IsZero() {
		r.startedAt = telemetry.TS
	}
	r.className = className

	r.points = append(r.points, model.TrailPoint{
		Telemetry:  telemetry,
		ClassName:  className,
		RecordedAt: telemetry.TS,
	})
}

// Stop ends the recording session, constructs a RecordedObject with a fresh
// UUID (or "unknown" classification if no class was ever observed), and
// hands it off to the store. The buffer and active flag are only cleared
// once the store write succeeds: on failure the caller gets a non-nil error
// to surface as a 500, and the buffered points survive so a retried stop
// request can hand the same trail to the store again. Stop is a no-op if
// no recording was active.
func (r *Recorder) Stop(ctx context.Context) error {
	if !r.active {
		return nil
	}

	if len(r.points) == 0 {
		r.active = false
		r.points = nil
		return nil
	}

	className := r.className
	if className == "" {
		className = "unknown"
	}

	obj := model.RecordedObject{
		ObjectID:       uuid.NewString(),
		Classification: className,
		Positions:      r.points,
		StartedAt:      r.startedAt,
		EndedAt:        r.points[len(r.points)-1].RecordedAt,
	}

	if err := r.store.Put(ctx, obj); err != nil {
		return err
	}

	r.active = false
	r.points = nil
	return nil
}
