// Package follow implements the follow controller (§4.7): while the engine
// is Tracking, it sends waypoint commands to the drone at a bounded cadence,
// coalescing any geolocations that arrive faster than that cadence to the
// latest one.
package follow

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aerofollow/gcs/pkg/geo"
	"github.com/aerofollow/gcs/pkg/logger"
)

// Commander is the drone-facing side of the command bridge (C10); the
// controller never talks to the drone link directly.
type Commander interface {
	SendMoveToLocation(lat, lon, alt float64) error
	SendStopFollowing() error
}

// Config holds the knobs named in §4.7.
type Config struct {
	Tick  time.Duration // FOLLOW_TICK, default 2s
	Stale time.Duration // FOLLOW_STALE, default 4s
	AltM  float64       // FOLLOW_ALT, default 15m
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{Tick: 2 * time.Second, Stale: 4 * time.Second, AltM: 15}
}

// latest is the most recent geolocation reported by the engine/geo pipeline,
// overwritten on every arrival regardless of whether the ticker has fired —
// "coalesced to the last" per §4.7's rate-limiting rule.
type latest struct {
	point     geo.Point
	computed  time.Time
	tracking  bool
}

// Controller runs the follow ticker as a background goroutine and exposes
// ReportGeolocation and AcquisitionLost for the engine driver to call.
type Controller struct {
	cfg       Config
	commander Commander
	logger    *logger.Logger
	limiter   *rate.Limiter

	mu     sync.Mutex
	state  latest

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Controller and starts its ticker loop under ctx.
func New(ctx context.Context, cfg Config, commander Commander, log *logger.Logger) *Controller {
	loopCtx, cancel := context.WithCancel(ctx)
	c := &Controller{
		cfg:       cfg,
		commander: commander,
		logger:    log,
		limiter:   rate.NewLimiter(rate.Every(cfg.Tick), 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.run(loopCtx)
	return c
}

// ReportGeolocation is called once per synced-frame tick by the engine
// driver when the target is being tracked and a geolocation was computed
// this tick. It records the state and makes an immediate send attempt, so
// the first waypoint after acquisition goes out right away rather than
// waiting up to FOLLOW_TICK for the background ticker's first fire; the
// rate limiter still caps the drone to one command per FOLLOW_TICK
// regardless of whether this call or the ticker triggers it.
func (c *Controller) ReportGeolocation(p geo.Point, computedAt time.Time) {
	c.mu.Lock()
	c.state = latest{point: p, computed: computedAt, tracking: true}
	c.mu.Unlock()
	c.tick()
}

// AcquisitionLost tells the controller tracking has stopped; if it was
// tracking, stop_following is sent right away, and no further waypoints will
// be sent until ReportGeolocation is called again.
func (c *Controller) AcquisitionLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasTracking := c.state.tracking
	c.state = latest{}
	if wasTracking {
		if err := c.commander.SendStopFollowing(); err != nil {
			c.logger.DebugFollow("stop_following send failed", "error", err)
		}
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	if !st.tracking {
		return
	}
	if time.Since(st.computed) > c.cfg.Stale {
		c.logger.DebugFollow("geolocation stale, withholding waypoint", "age", time.Since(st.computed))
		return
	}
	if !c.limiter.Allow() {
		return
	}
	if err := c.commander.SendMoveToLocation(st.point.Lat, st.point.Lon, c.cfg.AltM); err != nil {
		c.logger.DebugFollow("move_to_location send failed", "error", err)
	}
}

// Close stops the ticker loop and waits for it to exit.
func (c *Controller) Close() error {
	c.cancel()
	<-c.done
	return nil
}
