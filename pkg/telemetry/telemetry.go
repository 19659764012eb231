// Package telemetry implements C1: it samples the autopilot's MAVLink stream
// at whatever cadence the autopilot emits it and exposes the latest sample as
// a non-blocking, snapshot-by-value read for the muxer (C2) to copy into each
// outgoing video frame's KLV payload.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/aerofollow/gcs/pkg/logger"
	"github.com/aerofollow/gcs/pkg/model"
)

// Source maintains the latest TelemetrySample derived from incoming MAVLink
// messages. One node connection, one writer goroutine, many non-blocking
// readers — the same single-slot-latest discipline used by the demuxer (C3)
// and the WebRTC egress frame slot (C9), applied here to attitude/position
// state instead of video.
type Source struct {
	logger *logger.Logger
	node   *gomavlib.Node

	latest atomic.Pointer[model.TelemetrySample]

	mu           sync.Mutex
	lastHeard    time.Time
	haveSample   bool
	targetSystem uint8
	targetComp   uint8
}

// Config describes how to reach the autopilot. Addr accepts any gomavlib
// endpoint string recognized by the caller's chosen transport; New dials it
// as a UDP client endpoint.
type Config struct {
	Addr string
}

// New opens a MAVLink node and starts the background listener. The returned
// Source has no sample until the first GLOBAL_POSITION_INT, ATTITUDE,
// VFR_HUD or HEARTBEAT message arrives; Snapshot reports this via its second
// return value.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Source, error) {
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointUDPClient{Address: cfg.Addr},
		},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: 254,
	})
	if err != nil {
		return nil, fmt.Errorf("open MAVLink node at %q: %w", cfg.Addr, err)
	}

	s := &Source{
		logger: log,
		node:   node,
	}

	go s.listen(ctx)

	return s, nil
}

func (s *Source) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.node.Events():
			if !ok {
				return
			}
			frm, ok := evt.(*gomavlib.EventFrame)
			if !ok {
				continue
			}
			s.handle(frm.Message(), frm.SystemID(), frm.ComponentID())
		}
	}
}

// handle folds one MAVLink message into the latest sample. Each message type
// only updates the fields it carries; a full sample accumulates across the
// GLOBAL_POSITION_INT / ATTITUDE / VFR_HUD / HEARTBEAT quartet the way the
// autopilot naturally interleaves them, never blocking on a complete set.
func (s *Source) handle(msg any, sysID, compID uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.targetSystem = sysID
	s.targetComp = compID

	prev := s.latest.Load()
	var sample model.TelemetrySample
	if prev != nil {
		sample = *prev
	}

	updated := true
	switch m := msg.(type) {
	case *common.MessageGlobalPositionInt:
		sample.Lat = float64(m.Lat) / 1e7
		sample.Lon = float64(m.Lon) / 1e7
		sample.AltMSL = float64(m.Alt) / 1000.0
		sample.AltAGL = float64(m.RelativeAlt) / 1000.0
		sample.VN = float64(m.Vx) / 100.0
		sample.VE = float64(m.Vy) / 100.0
		sample.VD = float64(m.Vz) / 100.0
	case *common.MessageAttitude:
		sample.RollRad = float64(m.Roll)
		sample.PitchRad = float64(m.Pitch)
		sample.YawRad = float64(m.Yaw)
	case *common.MessageVfrHud:
		sample.HeadingDeg = float64(m.Heading)
	case *common.MessageHeartbeat:
		sample.FlightMode = flightModeName(m.CustomMode, m.BaseMode)
	default:
		updated = false
	}

	if !updated {
		return
	}

	sample.TS = time.Now()
	s.latest.Store(&sample)
	s.lastHeard = sample.TS
	s.haveSample = true

	s.logger.DebugTransport("telemetry sample updated", "lat", sample.Lat, "lon", sample.Lon, "mode", sample.FlightMode)
}

// Snapshot returns a copy of the latest telemetry sample. It never blocks: the
// atomic pointer load is the entire critical section, matching the "obtain a
// telemetry snapshot from C1 (non-blocking copy)" contract the muxer relies
// on for every outbound frame.
func (s *Source) Snapshot() (model.TelemetrySample, bool) {
	p := s.latest.Load()
	if p == nil {
		return model.TelemetrySample{}, false
	}
	return *p, true
}

// Connected reports whether a MAVLink message has been heard in the last 3
// seconds.
func (s *Source) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haveSample && time.Since(s.lastHeard) < 3*time.Second
}

// Close shuts down the MAVLink node.
func (s *Source) Close() error {
	s.node.Close()
	return nil
}

// copterModes is ArduCopter's custom_mode table (mode.py's COPTER_MODES):
// unlike PX4, custom_mode *is* the mode number, with no main-mode/sub-mode
// bit-packing to undo.
var copterModes = map[string]uint32{
	"STABILIZE": 0,
	"ACRO":      1,
	"ALTHOLD":   2,
	"AUTO":      3,
	"GUIDED":    4,
	"LOITER":    5,
	"RTL":       6,
	"LAND":      9,
}

var copterModeNames = func() map[uint32]string {
	m := make(map[uint32]string, len(copterModes))
	for name, id := range copterModes {
		m[id] = name
	}
	return m
}()

// flightModeName renders ArduCopter's base_mode/custom_mode heartbeat pair
// into the mode names §6 forwards to the follow controller and UI; unknown
// custom_mode values fall back to a numeric tag rather than failing.
func flightModeName(customMode uint32, baseMode common.MAV_MODE_FLAG) string {
	if baseMode&common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED == 0 {
		return "UNKNOWN"
	}
	if name, ok := copterModeNames[customMode]; ok {
		return name
	}
	return fmt.Sprintf("MODE_%d", customMode)
}

// SetMode encodes MAV_CMD_DO_SET_MODE as a COMMAND_LONG targeted at the
// connected autopilot, grounded on mode.py's set_mode: param1 carries
// MAV_MODE_FLAG_CUSTOM_MODE_ENABLED and param2 carries the numeric
// COPTER_MODES id looked up from modeName. An unrecognized mode name is
// rejected before anything is sent.
func (s *Source) SetMode(modeName string) error {
	modeID, ok := copterModes[strings.ToUpper(modeName)]
	if !ok {
		return fmt.Errorf("unknown flight mode %q", modeName)
	}

	s.mu.Lock()
	sysID, compID := s.targetSystem, s.targetComp
	s.mu.Unlock()

	return s.node.WriteMessageAll(&common.MessageCommandLong{
		TargetSystem:    sysID,
		TargetComponent: compID,
		Command:         common.MAV_CMD_DO_SET_MODE,
		Param1:          float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		Param2:          float32(modeID),
	})
}

// MoveToLocation encodes SET_POSITION_TARGET_GLOBAL_INT, grounded on
// commandToLocation.py's move_to_location: a relative-to-home-altitude
// position setpoint with velocity/acceleration/yaw fields masked out (the
// original's `0b110111111000` type_mask, position-only).
func (s *Source) MoveToLocation(lat, lon, alt float64) error {
	const positionOnlyMask = 0b110111111000

	s.mu.Lock()
	sysID, compID := s.targetSystem, s.targetComp
	s.mu.Unlock()

	return s.node.WriteMessageAll(&common.MessageSetPositionTargetGlobalInt{
		TimeBootMs:      0,
		TargetSystem:    sysID,
		TargetComponent: compID,
		CoordinateFrame: common.MAV_FRAME_GLOBAL_RELATIVE_ALT,
		TypeMask:        common.POSITION_TARGET_TYPEMASK(positionOnlyMask),
		LatInt:          int32(lat * 1e7),
		LonInt:          int32(lon * 1e7),
		Alt:             float32(alt),
	})
}

// SetFollowDistance records the operator's desired follow distance. The
// follow controller (§4.7) computes its own waypoints from geolocation and
// does not consult this value; it exists so the bridge's set_follow_distance
// command has somewhere to land, matching the original flight-computer
// server's setFollowDistance stub.
func (s *Source) SetFollowDistance(distanceM float64) error {
	if distanceM <= 0 {
		return fmt.Errorf("follow distance must be positive, got %v", distanceM)
	}
	s.logger.Info("follow distance set", "distance_m", distanceM)
	return nil
}

// StopFollowing logs the stop_following command. Actual tracking cancellation
// happens on the GCS side (the follow controller and interaction router);
// this is the flight-computer-side acknowledgment, matching the original
// stopFollowingTarget stub.
func (s *Source) StopFollowing() {
	s.logger.Info("stop_following received from ground control station")
}
