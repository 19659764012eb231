package bridge

import "sync/atomic"

type trackingSnapshot struct {
	tracking  bool
	className string
	distanceM float64
}

// StatusPublisher is the engine driver's single-writer handle on the
// tracking state the drone bridge augments each telemetry message with; it
// satisfies TrackingStatus for the many-reader side.
type StatusPublisher struct {
	slot atomic.Pointer[trackingSnapshot]
}

// NewStatusPublisher constructs a publisher reporting no active track.
func NewStatusPublisher() *StatusPublisher {
	p := &StatusPublisher{}
	p.slot.Store(&trackingSnapshot{})
	return p
}

// Publish overwrites the latest tracking snapshot; called once per engine
// tick from the single-threaded engine driver.
func (p *StatusPublisher) Publish(tracking bool, className string, distanceM float64) {
	p.slot.Store(&trackingSnapshot{tracking: tracking, className: className, distanceM: distanceM})
}

// Snapshot implements TrackingStatus.
func (p *StatusPublisher) Snapshot() (bool, string, float64) {
	s := p.slot.Load()
	if s == nil {
		return false, "", 0
	}
	return s.tracking, s.className, s.distanceM
}
