package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aerofollow/gcs/pkg/logger"
)

// Interaction is the subset of pkg/interaction.Router the UI bridge drives.
type Interaction interface {
	MouseMove(x, y int)
	Click(x, y int)
	StopTracking()
	ReselectObject()
}

// Recorder is the subset of pkg/trail.Recorder the UI bridge drives.
type Recorder interface {
	Start()
	Stop(ctx context.Context) error
}

// uiMessage is the wire envelope for every inbound UI websocket frame,
// reproducing the original frontend's {"type": "..."} discriminator plus the
// REST-only command fields now folded into the same channel.
type uiMessage struct {
	Type     string  `json:"type"`
	X        *int    `json:"x,omitempty"`
	Y        *int    `json:"y,omitempty"`
	Mode     string  `json:"mode,omitempty"`
	Distance float64 `json:"distance,omitempty"`
	Active   bool    `json:"active,omitempty"`
}

// UIBridge is the broadcast hub described in §4.10: multiple subscribers,
// each fed the same telemetry stream, each able to independently dispatch
// commands to the Interaction Router, the drone bridge, or the trail
// recorder.
type UIBridge struct {
	upgrader    websocket.Upgrader
	logger      *logger.Logger
	interaction Interaction
	drone       *DroneBridge
	recorder    Recorder

	mu          sync.Mutex
	subscribers map[*websocket.Conn]chan []byte
}

// NewUIBridge constructs a UIBridge wired to its three command destinations.
// drone may be nil at construction time and supplied later via
// SetDroneBridge: the drone bridge's own constructor takes a
// TelemetryListener (satisfied by *UIBridge) and starts dialing immediately,
// so the two bridges cannot be fully wired in a single linear step.
func NewUIBridge(interaction Interaction, drone *DroneBridge, recorder Recorder, log *logger.Logger) *UIBridge {
	return &UIBridge{
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:      log,
		interaction: interaction,
		drone:       drone,
		recorder:    recorder,
		subscribers: make(map[*websocket.Conn]chan []byte),
	}
}

// SetDroneBridge completes construction when the drone bridge is created
// after this UIBridge (see NewUIBridge).
func (u *UIBridge) SetDroneBridge(drone *DroneBridge) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.drone = drone
}

// ServeWS upgrades an HTTP request to a websocket subscriber, matching the
// original `/ws/gcs` endpoint: it both receives commands from and
// broadcasts telemetry to this connection.
func (u *UIBridge) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		u.logger.DebugBridge("ui websocket upgrade failed", "error", err)
		return
	}

	out := make(chan []byte, 16)
	u.mu.Lock()
	u.subscribers[conn] = out
	u.mu.Unlock()

	go u.writePump(conn, out)
	u.readPump(conn, out)
}

func (u *UIBridge) writePump(conn *websocket.Conn, out chan []byte) {
	for raw := range out {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}

func (u *UIBridge) readPump(conn *websocket.Conn, out chan []byte) {
	defer u.remove(conn, out)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		u.dispatch(raw)
	}
}

func (u *UIBridge) remove(conn *websocket.Conn, out chan []byte) {
	u.mu.Lock()
	_, present := u.subscribers[conn]
	delete(u.subscribers, conn)
	u.mu.Unlock()
	if present {
		close(out)
	}
	conn.Close()
}

// dispatch routes one inbound UI command to its destination component, per
// the table in §4.10.
func (u *UIBridge) dispatch(raw []byte) {
	var msg uiMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		u.logger.DebugBridge("malformed ui message", "error", err)
		return
	}

	u.mu.Lock()
	drone := u.drone
	u.mu.Unlock()

	switch msg.Type {
	case "mouse_move":
		if msg.X != nil && msg.Y != nil {
			u.interaction.MouseMove(*msg.X, *msg.Y)
		}
	case "click":
		if msg.X != nil && msg.Y != nil {
			u.interaction.Click(*msg.X, *msg.Y)
		}
	case "stop_tracking":
		u.interaction.StopTracking()
	case "reselect_object":
		u.interaction.ReselectObject()
	case "set_flight_mode":
		if drone == nil {
			return
		}
		if err := drone.Send(map[string]any{"command": "set_flight_mode", "mode": msg.Mode}); err != nil {
			u.logger.DebugBridge("set_flight_mode dispatch failed", "error", err)
		}
	case "set_follow_distance":
		if drone == nil {
			return
		}
		if err := drone.Send(map[string]any{"command": "set_follow_distance", "distance": msg.Distance}); err != nil {
			u.logger.DebugBridge("set_follow_distance dispatch failed", "error", err)
		}
	case "stop_following":
		u.interaction.StopTracking()
		if drone != nil {
			if err := drone.Send(map[string]any{"command": "stop_following"}); err != nil {
				u.logger.DebugBridge("stop_following dispatch failed", "error", err)
			}
		}
	case "record":
		if msg.Active {
			u.recorder.Start()
		} else if err := u.recorder.Stop(context.Background()); err != nil {
			u.logger.DebugBridge("trail recorder stop failed", "error", err)
		}
	default:
		u.logger.DebugBridge("unknown ui message type", "type", msg.Type)
	}
}

// BroadcastTelemetry fans an augmented telemetry envelope out to every
// connected subscriber; a subscriber whose send buffer is full is dropped
// rather than letting a slow client stall the broadcast (§5's
// "mutations during broadcast tolerate drop-on-error").
func (u *UIBridge) BroadcastTelemetry(envelope map[string]any) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		u.logger.DebugBridge("marshal telemetry envelope failed", "error", err)
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	for conn, out := range u.subscribers {
		select {
		case out <- raw:
		default:
			delete(u.subscribers, conn)
			close(out)
			conn.Close()
		}
	}
}

// Close disconnects every active subscriber.
func (u *UIBridge) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for conn, out := range u.subscribers {
		delete(u.subscribers, conn)
		close(out)
		conn.Close()
	}
	return nil
}
