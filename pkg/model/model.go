// Package model defines the shared data types that flow between components:
// frames, telemetry samples, their synchronized pairing, detections and
// tracked-object state, and the trail types recorded during a follow session.
package model

import "time"

// Frame is an immutable bitmap captured at CaptureTS (drone wallclock). Pixels
// holds H*W*3 bytes in BGR row-major order, matching the OpenCV/GStreamer
// convention used throughout the capture and encode paths.
type Frame struct {
	Width     int
	Height    int
	Pixels    []byte
	CaptureTS time.Time
	FrameSeq  uint64
}

// TelemetrySample is one attitude/position fix. Coordinates are WGS-84
// decimal degrees; Roll/Pitch/Yaw are radians; HeadingDeg is degrees in
// [0,360).
type TelemetrySample struct {
	TS         time.Time
	Lat        float64
	Lon        float64
	AltAGL     float64
	AltMSL     float64
	VN, VE, VD float64
	HeadingDeg float64
	RollRad    float64
	PitchRad   float64
	YawRad     float64
	FlightMode string
}

// SyncedFrame pairs a Frame with the TelemetrySample whose TS minimizes
// |TS - CaptureTS|, provided that gap is within the synchronizer's configured
// skew tolerance. Telemetry is nil when no sample qualified.
type SyncedFrame struct {
	Frame       Frame
	Telemetry   *TelemetrySample
	SyncSkewMS  float64
	HasSkew     bool
}

// BBox is an integer-pixel, top-left-origin bounding box. Callers must
// maintain W>0, H>0 and full containment within the owning frame after
// clamping; NewBBox enforces both.
type BBox struct {
	X, Y, W, H int
}

// NewBBox clamps (x,y,w,h) to lie fully inside a frameW x frameH frame and
// rejects a degenerate result.
func NewBBox(x, y, w, h, frameW, frameH int) (BBox, bool) {
	if x < 0 {
		w += x
		x = 0
	}
	if y < 0 {
		h += y
		y = 0
	}
	if x+w > frameW {
		w = frameW - x
	}
	if y+h > frameH {
		h = frameH - y
	}
	if w <= 0 || h <= 0 {
		return BBox{}, false
	}
	return BBox{X: x, Y: y, W: w, H: h}, true
}

// IoU computes the intersection-over-union of two boxes, 0 when disjoint.
func (b BBox) IoU(other BBox) float64 {
	x1 := max(b.X, other.X)
	y1 := max(b.Y, other.Y)
	x2 := min(b.X+b.W, other.X+other.W)
	y2 := min(b.Y+b.H, other.Y+other.H)

	iw := x2 - x1
	ih := y2 - y1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	union := float64(b.W*b.H+other.W*other.H) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Area returns the box's pixel area.
func (b BBox) Area() int { return b.W * b.H }

// Center returns the box's integer-pixel center.
func (b BBox) Center() (int, int) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Detection is one candidate produced by the detector before a track is
// selected: a class, confidence, and bounding box.
type Detection struct {
	BBox       BBox
	ClassID    int
	ClassName  string
	Confidence float64
}

// TrackedObject is the single active target (the design is single-target;
// C6's select operation replaces it wholesale rather than adding to a set).
type TrackedObject struct {
	BBox            BBox
	ClassID         int
	ClassName       string
	StartedAt       time.Time
	LastGeolocation *GeoPoint
}

// GeoPoint is a WGS-84 geolocation estimate produced by the projector.
type GeoPoint struct {
	Lat      float64
	Lon      float64
	Computed time.Time
}

// EngineStateKind discriminates the EngineState variant.
type EngineStateKind int

const (
	// EngineDetecting is the state before a target has been selected or
	// after tracking has been explicitly dropped: detections run every
	// configured frame interval with no persistent tracker handle.
	EngineDetecting EngineStateKind = iota
	// EngineTracking holds a live tracker handle locked onto one target.
	EngineTracking
)

// EngineState is the engine's exactly-one-active variant (§3 DATA MODEL).
// Only one of the two payload groups is meaningful, selected by Kind.
type EngineState struct {
	Kind EngineStateKind

	// Detecting payload.
	LastResults          []Detection
	LastResultsFrameSeq   uint64

	// Tracking payload. TrackerHandle is an opaque pointer to the
	// gocv tracker instance; the engine package is the only owner.
	TrackerHandle         any
	BBox                  BBox
	ClassID               int
	ClassName             string
	FramesSinceCorrection int
}

// TrailPoint is one recorded telemetry fix plus the class of the object being
// followed at that instant, appended during a recording session.
type TrailPoint struct {
	Telemetry TelemetrySample
	ClassName string
	RecordedAt time.Time
}

// RecordedObject is the trail committed to the external store on
// stop-recording: a stable identity plus its ordered position history.
type RecordedObject struct {
	ObjectID       string
	Classification string
	Positions      []TrailPoint
	StartedAt      time.Time
	EndedAt        time.Time
}
