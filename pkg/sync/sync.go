// Package sync implements C4: it aligns frames and telemetry samples by
// timestamp for deployments where the two travel on separate channels rather
// than paired in-band by the KLV muxer.
package sync

import (
	"sync"
	"time"

	"github.com/aerofollow/gcs/pkg/model"
)

// Config carries the skew tolerances named in §4.3.
type Config struct {
	MaxSkew      time.Duration // default 200ms
	DegradedSkew time.Duration // default 600ms, tolerated while degraded
	RingSize     int           // default 300
}

// Synchronizer owns an ordered ring of the last N telemetry samples and pairs
// incoming frames against it by nearest timestamp.
type Synchronizer struct {
	cfg Config

	mu      sync.Mutex
	ring    []model.TelemetrySample
	next    int
	filled  bool
	noTelem uint64
}

// New constructs a Synchronizer with the given config, filling in the
// documented defaults for any zero field.
func New(cfg Config) *Synchronizer {
	if cfg.MaxSkew == 0 {
		cfg.MaxSkew = 200 * time.Millisecond
	}
	if cfg.DegradedSkew == 0 {
		cfg.DegradedSkew = 600 * time.Millisecond
	}
	if cfg.RingSize == 0 {
		cfg.RingSize = 300
	}
	return &Synchronizer{
		cfg:  cfg,
		ring: make([]model.TelemetrySample, cfg.RingSize),
	}
}

// PushTelemetry appends a sample to the ring, evicting the oldest entry FIFO
// once full. The synchronizer exclusively owns this ring (§3 Ownership).
func (s *Synchronizer) PushTelemetry(sample model.TelemetrySample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring[s.next] = sample
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.filled = true
	}
}

// Sync pairs frame against the nearest telemetry sample by |ts - captureTS|.
// degraded relaxes the acceptance window to DegradedSkew, matching the
// demuxer's Streaming↔Degraded distinction. The scan is O(N); N (default
// 300) is small enough that a linear scan beats the bookkeeping of an
// ordered container.
func (s *Synchronizer) Sync(frame model.Frame, degraded bool) model.SyncedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.ring)
	if !s.filled {
		n = s.next
	}

	tolerance := s.cfg.MaxSkew
	if degraded {
		tolerance = s.cfg.DegradedSkew
	}

	var (
		best      model.TelemetrySample
		bestDiff  = time.Duration(1<<63 - 1)
		haveBest  bool
	)

	for i := 0; i < n; i++ {
		sample := s.ring[i]
		diff := sample.TS.Sub(frame.CaptureTS)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			best = sample
			haveBest = true
		} else if diff == bestDiff && haveBest && sample.TS.Before(best.TS) {
			// Tie-break: prefer the sample with the earlier ts (§4.3).
			best = sample
		}
	}

	out := model.SyncedFrame{Frame: frame}
	if haveBest && bestDiff <= tolerance {
		sample := best
		out.Telemetry = &sample
		out.SyncSkewMS = float64(bestDiff.Milliseconds())
		out.HasSkew = true
	} else {
		s.noTelem++
	}

	return out
}

// NoTelemetryCount reports how many Sync calls found no sample within
// tolerance, the "no telemetry" counter named in §4.3.
func (s *Synchronizer) NoTelemetryCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noTelem
}
