package bridge

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aerofollow/gcs/pkg/logger"
	"github.com/aerofollow/gcs/pkg/model"
)

// TelemetrySource is the companion computer's non-blocking telemetry read,
// satisfied by *pkg/telemetry.Source.
type TelemetrySource interface {
	Snapshot() (model.TelemetrySample, bool)
}

// FlightCommander executes the commands the ground control station sends
// over the flight-computer control-plane connection, satisfied by
// *pkg/telemetry.Source.
type FlightCommander interface {
	SetMode(modeName string) error
	MoveToLocation(lat, lon, alt float64) error
	SetFollowDistance(distanceM float64) error
	StopFollowing()
}

// fcCommand is the wire envelope for one inbound command on the
// flight-computer connection, mirroring the original flight computer
// server's {"command": ...} dispatch.
type fcCommand struct {
	Command  string  `json:"command"`
	Mode     string  `json:"mode,omitempty"`
	Distance float64 `json:"distance,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
	Alt      float64 `json:"alt,omitempty"`
}

// FlightComputerServer is the drone-side half of C10: a websocket server the
// ground control station's DroneBridge dials into, grounded on the original
// flight computer server.py's `/ws/flight-computer` endpoint. It pushes a
// telemetry envelope once a second and decodes inbound commands into calls
// against a FlightCommander.
type FlightComputerServer struct {
	upgrader  websocket.Upgrader
	logger    *logger.Logger
	source    TelemetrySource
	commander FlightCommander

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewFlightComputerServer constructs a FlightComputerServer reading
// telemetry from source and executing commands against commander.
func NewFlightComputerServer(source TelemetrySource, commander FlightCommander, log *logger.Logger) *FlightComputerServer {
	return &FlightComputerServer{
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:    log,
		source:    source,
		commander: commander,
	}
}

// ServeWS upgrades the ground control station's connection and runs its
// telemetry push loop and command read loop until the connection drops. A
// new connection replaces any prior one, matching the single active
// ground-control-station assumption of §4.10.
func (f *FlightComputerServer) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.DebugBridge("flight computer websocket upgrade failed", "error", err)
		return
	}

	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.conn = conn
	f.mu.Unlock()

	done := make(chan struct{})
	go f.pushLoop(conn, done)
	f.readLoop(conn)
	close(done)

	f.mu.Lock()
	if f.conn == conn {
		f.conn = nil
	}
	f.mu.Unlock()
}

// pushLoop sends one telemetry envelope per second, matching
// send_telemetry_data's asyncio.sleep(1) cadence.
func (f *FlightComputerServer) pushLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sample, ok := f.source.Snapshot()
			if !ok {
				continue
			}
			raw, err := json.Marshal(telemetryEnvelope(sample))
			if err != nil {
				f.logger.DebugBridge("marshal telemetry envelope failed", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				f.logger.DebugBridge("flight computer telemetry write failed", "error", err)
				return
			}
		}
	}
}

func (f *FlightComputerServer) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		f.dispatch(raw)
	}
}

// dispatch decodes one inbound command and executes it against the
// commander, matching server.py's command/if-elif dispatch.
func (f *FlightComputerServer) dispatch(raw []byte) {
	var cmd fcCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		f.logger.DebugBridge("malformed flight computer command", "error", err)
		return
	}

	switch cmd.Command {
	case "set_flight_mode":
		if err := f.commander.SetMode(cmd.Mode); err != nil {
			f.logger.DebugBridge("set_flight_mode failed", "error", err)
		}
	case "set_follow_distance":
		if err := f.commander.SetFollowDistance(cmd.Distance); err != nil {
			f.logger.DebugBridge("set_follow_distance failed", "error", err)
		}
	case "move_to_location":
		if err := f.commander.MoveToLocation(cmd.Lat, cmd.Lon, cmd.Alt); err != nil {
			f.logger.DebugBridge("move_to_location failed", "error", err)
		}
	case "stop_following":
		f.commander.StopFollowing()
	default:
		f.logger.DebugBridge("unknown flight computer command", "command", cmd.Command)
	}
}

// telemetryEnvelope renders a TelemetrySample into the flat JSON shape the
// original flight computer server streamed to the ground control station.
func telemetryEnvelope(s model.TelemetrySample) map[string]any {
	return map[string]any{
		"timestamp":   s.TS.Unix(),
		"latitude":    s.Lat,
		"longitude":   s.Lon,
		"altitude":    s.AltMSL,
		"alt_agl":     s.AltAGL,
		"speed":       math.Hypot(s.VN, s.VE),
		"heading":     s.HeadingDeg,
		"roll":        s.RollRad,
		"pitch":       s.PitchRad,
		"yaw":         s.YawRad,
		"flight_mode": s.FlightMode,
	}
}

// Close disconnects the active ground-control-station connection, if any.
func (f *FlightComputerServer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	return nil
}
