// Package bridge implements C10: the drone command/telemetry bridge and the
// UI websocket broadcaster, and the command routing between them.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aerofollow/gcs/pkg/logger"
)

// TelemetryListener receives one augmented telemetry envelope per message
// read from the flight computer; the UI broadcaster implements this.
type TelemetryListener interface {
	BroadcastTelemetry(envelope map[string]any)
}

// TrackingStatus is read once per received telemetry message to augment it
// with tracking/tracked_class/distance_to_target, matching the original
// flight_computer_background_task's enrichment of each sample before
// forwarding it to the UI.
type TrackingStatus interface {
	// Snapshot reports whether a target is currently tracked, its class
	// name, and the last computed slant distance in meters (0 if unknown).
	Snapshot() (tracking bool, className string, distanceM float64)
}

// DroneConfig holds the flight-computer websocket endpoint and reconnect
// backoff knobs.
type DroneConfig struct {
	URL           string // e.g. ws://192.168.1.66:8081/ws/flight-computer
	BackoffStart  time.Duration
	BackoffMax    time.Duration
}

// DefaultDroneConfig returns the documented default backoff (§4.10: "5s
// default").
func DefaultDroneConfig(addr string) DroneConfig {
	return DroneConfig{URL: addr, BackoffStart: 5 * time.Second, BackoffMax: 60 * time.Second}
}

// DroneBridge maintains a long-lived websocket connection to the flight
// computer: it receives telemetry JSON and forwards an augmented copy to
// every UI subscriber, and serializes outbound JSON command envelopes onto
// the same connection, retaining send order (§5's "waypoint commands are
// serialized on the drone bridge").
type DroneBridge struct {
	cfg      DroneConfig
	logger   *logger.Logger
	listener TelemetryListener
	status   TrackingStatus

	mu   sync.Mutex
	conn *websocket.Conn

	sendCh chan []byte
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDroneBridge constructs a DroneBridge and starts its connect/receive and
// send-serialization loops under ctx.
func NewDroneBridge(ctx context.Context, cfg DroneConfig, listener TelemetryListener, status TrackingStatus, log *logger.Logger) *DroneBridge {
	loopCtx, cancel := context.WithCancel(ctx)
	b := &DroneBridge{
		cfg:      cfg,
		logger:   log,
		listener: listener,
		status:   status,
		sendCh:   make(chan []byte, 32),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go b.run(loopCtx)
	return b
}

// Send enqueues a JSON command envelope for delivery on the next available
// connection; it never blocks the caller on network I/O.
func (b *DroneBridge) Send(envelope map[string]any) error {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	select {
	case b.sendCh <- raw:
		return nil
	default:
		return fmt.Errorf("command queue full, dropping %v", envelope["command"])
	}
}

func (b *DroneBridge) run(ctx context.Context) {
	defer close(b.done)

	backoff := b.cfg.BackoffStart
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := url.Parse(b.cfg.URL); err != nil {
			b.logger.DebugBridge("invalid flight computer URL", "url", b.cfg.URL, "error", err)
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.cfg.URL, nil)
		if err != nil {
			b.logger.DebugBridge("flight computer connect failed, backing off", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > b.cfg.BackoffMax {
				backoff = b.cfg.BackoffMax
			}
			continue
		}

		b.logger.Info("connected to flight computer", "url", b.cfg.URL)
		backoff = b.cfg.BackoffStart

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()

		b.serve(ctx, conn)

		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
	}
}

// serve runs the receive loop and drains sendCh onto the connection until
// either fails; it returns when the connection should be replaced.
func (b *DroneBridge) serve(ctx context.Context, conn *websocket.Conn) {
	readErr := make(chan struct{})
	go func() {
		defer close(readErr)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				b.logger.DebugBridge("flight computer read error", "error", err)
				return
			}
			b.handleTelemetry(raw)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-readErr:
			conn.Close()
			return
		case raw := <-b.sendCh:
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				b.logger.DebugBridge("flight computer write error", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (b *DroneBridge) handleTelemetry(raw []byte) {
	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		b.logger.DebugBridge("malformed telemetry from flight computer", "error", err)
		return
	}

	tracking, className, distance := b.status.Snapshot()
	envelope["tracking"] = tracking
	if tracking && className != "" {
		envelope["tracked_class"] = className
	} else {
		envelope["tracked_class"] = nil
	}
	if tracking && distance > 0 {
		envelope["distance_to_target"] = distance
	}

	b.listener.BroadcastTelemetry(envelope)
}

// Close stops the connect/receive loops and releases the active connection.
func (b *DroneBridge) Close() error {
	b.cancel()
	<-b.done
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return nil
}
