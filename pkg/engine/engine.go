// Package engine implements C5: the per-frame detection/tracking state
// machine. It owns the EngineState and the live tracker handle exclusively
// (§3 Ownership); the pipeline driving it is single-threaded by contract —
// concurrency with the rest of the system happens only at frame-slot
// boundaries.
package engine

import (
	"fmt"

	"github.com/aerofollow/gcs/pkg/logger"
	"github.com/aerofollow/gcs/pkg/model"
)

// Detector runs object detection on a frame, returning candidates above its
// own internal confidence/NMS thresholds.
type Detector interface {
	Detect(frame model.Frame) ([]model.Detection, error)
}

// Tracker is the capability set named in §4.4: init, per-frame update, and a
// self-reported confidence used to skip unnecessary drift correction.
type Tracker interface {
	Init(frame model.Frame, bbox model.BBox) error
	Update(frame model.Frame) (model.BBox, bool)
	Confidence(frame model.Frame, bbox model.BBox) float64
}

// TrackerFactory creates a fresh tracker instance, selected once at startup
// per the GPU/ONNX-model probe described in §4.4 and implemented by the
// concrete gocv-backed trackers in tracker.go.
type TrackerFactory func() (Tracker, error)

// Interaction is satisfied by pkg/interaction.Router (C6): the engine only
// ever reads its consume-once accessors.
type Interaction interface {
	CursorPos() (int, int, bool)
	TakePendingClick() (int, int, bool)
	TakePendingCommand() (string, bool)
}

// Config holds the explicit knobs named in §4.4; every value is part of the
// contract, not an implementation detail.
type Config struct {
	DetectionFrameSkip   int
	TrackerFrameSkip     int
	RedetectInterval      int
	DriftIoUAccept        float64
	MinDetectionIoU       float64
	HistorySize           int
	TrackerConfidenceSkip float64
}

// Status is published once per tick for downstream consumers (geolocation,
// follow controller, UI).
type Status struct {
	Tracking        bool
	ClassName       string
	BBox            model.BBox
	AcquisitionLost bool
	DriftDetected   bool
}

// Engine owns the EngineState and produces an annotated frame per tick.
type Engine struct {
	cfg           Config
	logger        *logger.Logger
	detector      Detector
	newTracker    TrackerFactory
	interaction   Interaction

	state      model.EngineState
	frameCount uint64

	history []*model.BBox
}

// New constructs an Engine starting in the Detecting state.
func New(cfg Config, detector Detector, newTracker TrackerFactory, interaction Interaction, log *logger.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		logger:      log,
		detector:    detector,
		newTracker:  newTracker,
		interaction: interaction,
		state:       model.EngineState{Kind: model.EngineDetecting},
	}
}

// Process runs one tick of the state machine against frame, returning the
// annotated frame and the published status.
func (e *Engine) Process(frame model.Frame) (model.Frame, Status, error) {
	e.frameCount++

	switch e.state.Kind {
	case model.EngineDetecting:
		return e.tickDetecting(frame)
	case model.EngineTracking:
		return e.tickTracking(frame)
	default:
		return frame, Status{}, fmt.Errorf("unknown engine state kind %d", e.state.Kind)
	}
}

func (e *Engine) tickDetecting(frame model.Frame) (model.Frame, Status, error) {
	if e.frameCount%uint64(e.cfg.DetectionFrameSkip+1) == 0 {
		results, err := e.detector.Detect(frame)
		if err != nil {
			e.logger.DebugEngine("detector error, reusing last results", "error", err)
		} else {
			e.state.LastResults = results
			e.state.LastResultsFrameSeq = frame.FrameSeq
		}
	}

	cx, cy, haveCursor := e.interaction.CursorPos()
	hoveredIdx := -1
	if haveCursor {
		for i, det := range e.state.LastResults {
			if containsPoint(det.BBox, cx, cy) {
				hoveredIdx = i
				break
			}
		}
	}

	out := annotateHover(frame, e.state.LastResults, hoveredIdx)

	if clickX, clickY, ok := e.interaction.TakePendingClick(); ok && hoveredIdx >= 0 {
		_ = clickX
		_ = clickY
		det := e.state.LastResults[hoveredIdx]
		tracker, err := e.newTracker()
		if err != nil {
			e.logger.DebugEngine("tracker creation failed, staying in Detecting", "error", err)
			return out, Status{}, nil
		}
		if err := tracker.Init(frame, det.BBox); err != nil {
			e.logger.DebugEngine("tracker init failed, staying in Detecting", "error", err)
			return out, Status{}, nil
		}
		e.state = model.EngineState{
			Kind:          model.EngineTracking,
			TrackerHandle: tracker,
			BBox:          det.BBox,
			ClassID:       det.ClassID,
			ClassName:     det.ClassName,
		}
		e.history = nil
		e.logger.DebugEngine("selected target, entering Tracking", "class", det.ClassName)
	}

	return out, Status{}, nil
}

func (e *Engine) tickTracking(frame model.Frame) (model.Frame, Status, error) {
	tracker := e.state.TrackerHandle.(Tracker)

	if cmd, ok := e.interaction.TakePendingCommand(); ok && (cmd == "StopTracking" || cmd == "ReselectObject") {
		e.dropTracking()
		return frame, Status{AcquisitionLost: true}, nil
	}

	bbox := e.state.BBox
	if e.frameCount%uint64(e.cfg.TrackerFrameSkip+1) == 0 {
		updated, ok := tracker.Update(frame)
		if !ok {
			e.logger.DebugEngine("tracker update failed, acquisition lost")
			e.dropTracking()
			return frame, Status{AcquisitionLost: true}, nil
		}
		bbox = updated
		e.state.BBox = bbox
	}

	status := Status{Tracking: true, ClassName: e.state.ClassName, BBox: bbox}

	e.state.FramesSinceCorrection++
	if e.state.FramesSinceCorrection >= e.cfg.RedetectInterval {
		e.state.FramesSinceCorrection = 0
		e.driftCorrect(frame, tracker, &status)
	}

	out := annotateTracking(frame, bbox, e.state.ClassName)
	return out, status, nil
}

// driftCorrect implements the sub-protocol of §4.4 step 3.
func (e *Engine) driftCorrect(frame model.Frame, tracker Tracker, status *Status) {
	if conf := tracker.Confidence(frame, e.state.BBox); conf >= e.cfg.TrackerConfidenceSkip {
		e.history = nil
		return
	}

	detections, err := e.detector.Detect(frame)
	if err != nil {
		e.logger.DebugEngine("drift-correction detect failed", "error", err)
		return
	}

	var best *model.Detection
	bestIoU := 0.0
	for i := range detections {
		det := detections[i]
		if det.ClassID != e.state.ClassID {
			continue
		}
		iou := det.BBox.IoU(e.state.BBox)
		if iou >= e.cfg.MinDetectionIoU && iou > bestIoU {
			bestIoU = iou
			best = &detections[i]
		}
	}

	var candidate *model.BBox
	if best != nil {
		b := best.BBox
		candidate = &b
	}
	e.history = append(e.history, candidate)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[len(e.history)-e.cfg.HistorySize:]
	}

	if len(e.history) < e.cfg.HistorySize {
		return
	}

	nonNull := 0
	var sumX, sumY, sumW, sumH int
	for _, h := range e.history {
		if h == nil {
			continue
		}
		nonNull++
		sumX += h.X
		sumY += h.Y
		sumW += h.W
		sumH += h.H
	}
	if nonNull < e.cfg.HistorySize-1 {
		return
	}

	smoothed := model.BBox{
		X: sumX / nonNull,
		Y: sumY / nonNull,
		W: sumW / nonNull,
		H: sumH / nonNull,
	}

	iou := smoothed.IoU(e.state.BBox)
	if iou > e.cfg.DriftIoUAccept {
		if err := tracker.Init(frame, smoothed); err != nil {
			e.logger.DebugEngine("drift re-init failed", "error", err)
			return
		}
		e.state.BBox = smoothed
		e.history = nil
		status.BBox = smoothed
	} else if iou > 0 {
		status.DriftDetected = true
	}
}

func (e *Engine) dropTracking() {
	if closer, ok := e.state.TrackerHandle.(interface{ Close() error }); ok && closer != nil {
		if err := closer.Close(); err != nil {
			e.logger.DebugEngine("tracker close failed", "error", err)
		}
	}
	e.state = model.EngineState{Kind: model.EngineDetecting}
	e.history = nil
}

func containsPoint(b model.BBox, x, y int) bool {
	return x >= b.X && x < b.X+b.W && y >= b.Y && y < b.Y+b.H
}
