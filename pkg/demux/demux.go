// Package demux implements C3: it consumes the drone's UDP MPEG-TS stream,
// decodes the H.264 video branch and the KLV metadata branch, and publishes
// each as a single-slot "latest" cell. Consumers that lag drop frames rather
// than build a queue — the same latest-wins discipline used by the WebRTC
// egress frame slot (C9) and the telemetry source (C1).
//
// One UDP socket receives the multiplex. Each datagram is forwarded
// loopback-local to a second port that gocv's FFmpeg-backed VideoCapture
// reads the video branch from, and piped in-process into a go-astits
// demuxer that extracts the KLV data-PID branch — two consumers of one
// ingress socket without a raw-socket SO_REUSEPORT dance.
package demux

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astits"
	"gocv.io/x/gocv"

	"github.com/aerofollow/gcs/pkg/logger"
	"github.com/aerofollow/gcs/pkg/model"
)

// State is the demuxer's connection state machine (§4.2).
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateStreaming
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// KLVPayload mirrors the muxer's (C2) JSON shape.
type KLVPayload struct {
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

// Snapshot is the tuple (frame, telemetry_json_or_none, receive_ts) the
// demuxer's read() method returns (§4.2).
type Snapshot struct {
	Frame      model.Frame
	HasFrame   bool
	Telemetry  *KLVPayload
	ReceivedAt time.Time
	LatencyMS  float64
}

// Config describes the UDP listen endpoint and reconnect backoff.
type Config struct {
	ListenAddr     string // e.g. "0.0.0.0:5000", the drone-facing socket
	VideoLoopAddr  string // e.g. "127.0.0.1:5500", forwarded to gocv's capture
	ReconnectGap   time.Duration
}

// Demuxer owns the latest-frame and latest-telemetry slots plus the
// Connecting→Connected→{Streaming↔Degraded}→Closed state machine.
type Demuxer struct {
	cfg    Config
	logger *logger.Logger

	state atomic.Int32

	mu          sync.Mutex
	latestFrame model.Frame
	haveFrame   bool
	latestTelem *KLVPayload
	receivedAt  time.Time

	frameSeq uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Demuxer and starts its connect/read/reconnect loop.
func New(ctx context.Context, cfg Config, log *logger.Logger) *Demuxer {
	if cfg.ReconnectGap == 0 {
		cfg.ReconnectGap = 2 * time.Second
	}
	if cfg.VideoLoopAddr == "" {
		cfg.VideoLoopAddr = "127.0.0.1:0"
	}

	runCtx, cancel := context.WithCancel(ctx)
	d := &Demuxer{
		cfg:    cfg,
		logger: log,
		cancel: cancel,
	}
	d.setState(StateConnecting)

	d.wg.Add(1)
	go d.run(runCtx)

	return d
}

func (d *Demuxer) setState(s State) {
	d.state.Store(int32(s))
}

// State reports the current connection state.
func (d *Demuxer) State() State {
	return State(d.state.Load())
}

// run is the reconnect loop: open the source, stream until it errors, back
// off, repeat. Individual decode errors never kill the loop — only a
// socket/container-level failure triggers reconnect.
func (d *Demuxer) run(ctx context.Context) {
	defer d.wg.Done()
	defer d.setState(StateClosed)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := d.streamOnce(ctx); err != nil {
			d.logger.DebugTransport("stream session ended", "error", err)
		}

		if ctx.Err() != nil {
			return
		}

		d.setState(StateConnecting)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.ReconnectGap):
		}
	}
}

// streamOnce binds the ingress socket, fans each datagram out to the
// loopback video port and an in-process TS demuxer, and reads both branches
// until either fails.
func (d *Demuxer) streamOnce(ctx context.Context) error {
	ingress, err := net.ListenPacket("udp", d.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", d.cfg.ListenAddr, err)
	}
	defer ingress.Close()

	videoLoop, err := net.ListenPacket("udp", d.cfg.VideoLoopAddr)
	if err != nil {
		return fmt.Errorf("bind video loop socket: %w", err)
	}
	videoLoopAddr := videoLoop.LocalAddr().String()
	videoLoop.Close()

	forwardConn, err := net.Dial("udp", videoLoopAddr)
	if err != nil {
		return fmt.Errorf("dial video loop %q: %w", videoLoopAddr, err)
	}
	defer forwardConn.Close()

	klvReader, klvWriter := io.Pipe()
	defer klvWriter.Close()

	d.setState(StateConnected)
	d.setState(StateStreaming)

	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	go func() { errCh <- d.fanIn(groupCtx, ingress, forwardConn, klvWriter) }()
	go func() { errCh <- d.readVideo(groupCtx, "udp://"+videoLoopAddr+
		"?fifo_size=0&overrun_nonfatal=1&rtbufsize=0&fflags=nobuffer&flags=low_delay&probesize=32") }()
	go func() { errCh <- d.readKLV(groupCtx, klvReader) }()

	err = <-errCh
	cancel()
	return err
}

// fanIn reads each datagram from the ingress socket once and duplicates it to
// the loopback video forwarder and the in-process KLV pipe.
func (d *Demuxer) fanIn(ctx context.Context, ingress net.PacketConn, forward net.Conn, klv *io.PipeWriter) error {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ingress.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := ingress.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("read ingress datagram: %w", err)
		}

		if _, err := forward.Write(buf[:n]); err != nil {
			d.logger.DebugTransport("video loop forward failed", "error", err)
		}
		if _, err := klv.Write(buf[:n]); err != nil {
			return fmt.Errorf("write KLV pipe: %w", err)
		}
	}
}

func (d *Demuxer) readVideo(ctx context.Context, url string) error {
	video := gocv.OpenVideoCapture(url)
	if video == nil {
		return fmt.Errorf("open video capture %q", url)
	}
	defer video.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	degradedSince := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if ok := video.Read(&mat); !ok {
			return fmt.Errorf("video capture read failed")
		}
		if mat.Empty() {
			if degradedSince.IsZero() {
				degradedSince = time.Now()
				d.setState(StateDegraded)
			}
			if time.Since(degradedSince) > 3*time.Second {
				return fmt.Errorf("no frames for 3s, forcing reconnect")
			}
			continue
		}
		degradedSince = time.Time{}
		d.setState(StateStreaming)

		now := time.Now()
		frame := model.Frame{
			Width:     mat.Cols(),
			Height:    mat.Rows(),
			Pixels:    append([]byte(nil), mat.ToBytes()...),
			CaptureTS: now,
			FrameSeq:  atomic.AddUint64(&d.frameSeq, 1),
		}

		d.mu.Lock()
		d.latestFrame = frame
		d.haveFrame = true
		d.receivedAt = now
		d.mu.Unlock()
	}
}

// readKLV demuxes the TS stream for its data PID and decodes each PES
// payload as the muxer's JSON KLV shape.
func (d *Demuxer) readKLV(ctx context.Context, r io.Reader) error {
	dmx := astits.NewDemuxer(ctx, r)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := dmx.NextData()
		if err != nil {
			if err == astits.ErrNoMorePackets {
				return err
			}
			// Corrupted packets are skipped silently (§4.2 Failure).
			continue
		}
		if data.PES == nil {
			continue
		}

		var payload KLVPayload
		if err := json.Unmarshal(data.PES.Data, &payload); err != nil {
			continue
		}

		receivedAt := time.Now()
		latencyMS := float64(receivedAt.UnixMilli()) - payload.VideoTimestamp*1000.0

		d.mu.Lock()
		d.latestTelem = &payload
		d.mu.Unlock()

		d.logger.DebugTransport("KLV payload received", "frame", payload.FrameNumber, "latency_ms", latencyMS)
	}
}

// Read returns a snapshot of both latest slots, matching the "read() method
// returns both slots as a snapshot" contract of §4.2.
func (d *Demuxer) Read() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := Snapshot{
		Frame:      d.latestFrame,
		HasFrame:   d.haveFrame,
		Telemetry:  d.latestTelem,
		ReceivedAt: d.receivedAt,
	}
	if d.latestTelem != nil {
		snap.LatencyMS = float64(d.receivedAt.UnixMilli()) - d.latestTelem.VideoTimestamp*1000.0
	}
	return snap
}

// Close stops the demuxer's goroutines.
func (d *Demuxer) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}
