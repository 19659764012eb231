// Package muxer implements C2: the drone-side GStreamer pipeline that
// captures the camera, H.264-encodes it at low latency, multiplexes it into a
// single MPEG-TS stream alongside a KLV metadata sub-stream, and pushes it out
// as UDP. One KLV buffer is emitted per video frame, PTS-aligned to that
// frame, so a receiver grouping by PTS reconstructs the (frame, telemetry)
// pair without heuristics.
package muxer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/aerofollow/gcs/pkg/logger"
	"github.com/aerofollow/gcs/pkg/model"
)

// TelemetrySource is satisfied by pkg/telemetry.Source: a non-blocking
// snapshot read, never more.
type TelemetrySource interface {
	Snapshot() (model.TelemetrySample, bool)
}

// Config describes the camera and network parameters of the outbound stream.
type Config struct {
	Device      string
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
	KeyIntMax   int
	GCSAddr     string
	GCSPort     int
}

// Muxer owns the GStreamer pipeline and the per-frame KLV push goroutine.
type Muxer struct {
	logger   *logger.Logger
	pipeline *gst.Pipeline
	klvSrc   *app.Source
	cfg      Config
	telem    TelemetrySource

	frameNumber uint64
}

// New builds the v4l2src → x264enc → mpegtsmux → udpsink pipeline plus a
// parallel appsrc → mux KLV branch, reproducing the topology of the drone's
// original GStreamer stream publisher.
func New(cfg Config, telem TelemetrySource, log *logger.Logger) (*Muxer, error) {
	pipelineStr := fmt.Sprintf(
		"mpegtsmux name=mux alignment=7 ! "+
			"udpsink host=%s port=%d sync=false "+
			"v4l2src device=%s ! "+
			"video/x-raw,width=%d,height=%d,framerate=%d/1 ! "+
			"videoconvert ! "+
			"x264enc tune=zerolatency speed-preset=ultrafast bitrate=%d key-int-max=%d aud=true ! "+
			"mux. "+
			"appsrc name=klv_src format=time is-live=true do-timestamp=true "+
			`caps="meta/x-klv, parsed=true, sparse=true" ! mux.`,
		cfg.GCSAddr, cfg.GCSPort, cfg.Device, cfg.Width, cfg.Height, cfg.FPS, cfg.BitrateKbps, cfg.KeyIntMax,
	)

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("build mux pipeline: %w", err)
	}

	klvElem, err := pipeline.GetElementByName("klv_src")
	if err != nil {
		return nil, fmt.Errorf("find klv_src: %w", err)
	}

	m := &Muxer{
		logger:   log,
		pipeline: pipeline,
		klvSrc:   app.SrcFromElement(klvElem),
		cfg:      cfg,
		telem:    telem,
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start mux pipeline: %w", err)
	}

	return m, nil
}

// klvPayload is the JSON shape carried in each KLV buffer: the frame index,
// the wallclock capture timestamp, and a flattened telemetry snapshot.
type klvPayload struct {
	FrameNumber    uint64  `json:"frame_number"`
	VideoTimestamp float64 `json:"video_timestamp"`
	Lat            float64 `json:"lat,omitempty"`
	Lon            float64 `json:"lon,omitempty"`
	AltAGL         float64 `json:"alt_agl,omitempty"`
	AltMSL         float64 `json:"alt_msl,omitempty"`
	VN             float64 `json:"vn,omitempty"`
	VE             float64 `json:"ve,omitempty"`
	VD             float64 `json:"vd,omitempty"`
	HeadingDeg     float64 `json:"heading_deg,omitempty"`
	RollRad        float64 `json:"roll_rad,omitempty"`
	PitchRad       float64 `json:"pitch_rad,omitempty"`
	YawRad         float64 `json:"yaw_rad,omitempty"`
	FlightMode     string  `json:"flight_mode,omitempty"`
}

// PushFrameMetadata is invoked once per outbound camera frame (driven by the
// caller's camera capture hook): it snapshots telemetry (never blocking, and
// never skipping the video frame on a telemetry failure — an empty object is
// emitted instead), builds the KLV JSON, and stamps the metadata buffer's PTS
// to match the video frame it pairs with.
func (m *Muxer) PushFrameMetadata(capturePTS time.Duration) error {
	payload := klvPayload{
		FrameNumber:    m.frameNumber,
		VideoTimestamp: float64(time.Now().UnixNano()) / 1e9,
	}

	if sample, ok := m.telem.Snapshot(); ok {
		payload.Lat = sample.Lat
		payload.Lon = sample.Lon
		payload.AltAGL = sample.AltAGL
		payload.AltMSL = sample.AltMSL
		payload.VN = sample.VN
		payload.VE = sample.VE
		payload.VD = sample.VD
		payload.HeadingDeg = sample.HeadingDeg
		payload.RollRad = sample.RollRad
		payload.PitchRad = sample.PitchRad
		payload.YawRad = sample.YawRad
		payload.FlightMode = sample.FlightMode
	} else {
		m.logger.DebugTransport("no telemetry available for frame, emitting empty payload", "frame", m.frameNumber)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal KLV payload: %w", err)
	}

	buf := gst.NewBufferWithSize(int64(len(data)))
	buf.Map(gst.MapWrite).WriteData(data)
	buf.SetPresentationTimestamp(gst.ClockTime(capturePTS))

	if err := m.klvSrc.PushBuffer(buf); err != nil {
		return fmt.Errorf("push KLV buffer: %w", err)
	}

	m.frameNumber++
	return nil
}

// Close stops the pipeline.
func (m *Muxer) Close() error {
	return m.pipeline.SetState(gst.StateNull)
}
