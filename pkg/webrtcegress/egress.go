// Package webrtcegress implements C9: it negotiates per-viewer WebRTC peer
// connections and republishes the engine's latest annotated frame as a single
// H.264 video track. There is no audio track and no data channel.
package webrtcegress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"

	"github.com/aerofollow/gcs/pkg/model"
)

// FrameSource is satisfied by the engine-facing latest-annotated-frame slot.
// Snapshot must never block for long: it is read on the pacer's own goroutine,
// never across an await, matching the locking discipline of §5.
type FrameSource interface {
	Snapshot() (model.Frame, bool)
}

// Egress owns the set of active WebRTC peers and the encode pipeline that
// turns the latest annotated frame into H.264 RTP. One Egress serves many
// peer connections; each peer reads the same latest-frame slot (§4.9).
type Egress struct {
	logger *slog.Logger
	source FrameSource
	fps    int

	encoder *frameEncoder

	ingestCancel context.CancelFunc

	mu    sync.Mutex
	peers map[string]*peer

	api *webrtc.API
}

type peer struct {
	id          string
	pc          *webrtc.PeerConnection
	track       *webrtc.TrackLocalStaticRTP
	payloader   *codecs.H264Payloader
	seq         uint16
	cancel      context.CancelFunc
}

// New constructs an Egress reading annotated frames from source at the given
// source frame rate (used to derive the 90kHz RTP pacing ticker).
func New(source FrameSource, fps int, logger *slog.Logger) (*Egress, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264 codec: %w", err)
	}

	enc, err := newFrameEncoder(fps, logger)
	if err != nil {
		return nil, fmt.Errorf("start annotated-frame encoder: %w", err)
	}

	ingestCtx, cancel := context.WithCancel(context.Background())
	e := &Egress{
		logger:       logger,
		source:       source,
		fps:          fps,
		encoder:      enc,
		ingestCancel: cancel,
		peers:        make(map[string]*peer),
		api:          webrtc.NewAPI(webrtc.WithMediaEngine(m)),
	}

	go e.ingestLoop(ingestCtx)

	return e, nil
}

// ingestLoop is the single producer for the encode pipeline: it snapshots the
// engine's latest annotated frame at the source frame rate and pushes it into
// the encoder. Reading the same slot many times between ticks instead of
// blocking on engine ticks keeps engine drift from ever stalling the egress
// path (§5's "never hold a lock across an await" discipline).
func (e *Egress) ingestLoop(ctx context.Context) {
	interval := time.Second / time.Duration(maxInt(e.fps, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, ok := e.source.Snapshot()
			if !ok {
				continue
			}
			if err := e.encoder.push(frame); err != nil {
				e.logger.Debug("drop annotated frame push", "error", err)
			}
		}
	}
}

// HandleOffer implements the `/offer` wire contract of §6: it accepts a
// browser-supplied SDP offer and returns an SDP answer after creating a fresh
// peer connection with one video track.
func (e *Egress) HandleOffer(ctx context.Context, offerSDP string) (string, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"annotated-video", "aerofollow",
	)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create video track: %w", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("add video track: %w", err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		pc.Close()
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", fmt.Errorf("set local description: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gatherComplete:
	case <-time.After(10 * time.Second):
		pc.Close()
		return "", fmt.Errorf("ICE gathering timeout")
	case <-ctx.Done():
		pc.Close()
		return "", ctx.Err()
	}

	id := fmt.Sprintf("peer-%d", time.Now().UnixNano())
	peerCtx, cancel := context.WithCancel(context.Background())
	p := &peer{
		id:        id,
		pc:        pc,
		track:     track,
		payloader: &codecs.H264Payloader{},
		seq:       uint16(time.Now().UnixNano() & 0xffff),
		cancel:    cancel,
	}

	e.mu.Lock()
	e.peers[id] = p
	e.mu.Unlock()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.logger.Info("peer connection state changed", "peer", id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			e.evict(id)
		}
	})

	go e.sendLoop(peerCtx, p)
	go e.readRTCP(peerCtx, id, sender)

	return pc.LocalDescription().SDP, nil
}

// readRTCP drains PLI/REMB/receiver-report feedback for one peer's video
// track so a viewer's keyframe request or loss signal is at least visible in
// the logs; the encoder itself ignores PLI and keeps emitting on its own
// key-int-max cadence.
func (e *Egress) readRTCP(ctx context.Context, id string, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			switch pkt := packet.(type) {
			case *rtcp.PictureLossIndication:
				e.logger.Warn("RTCP PLI received", "peer", id, "media_ssrc", pkt.MediaSSRC)
			case *rtcp.FullIntraRequest:
				e.logger.Warn("RTCP FIR received", "peer", id, "media_ssrc", pkt.MediaSSRC)
			case *rtcp.ReceiverEstimatedMaximumBitrate:
				e.logger.Debug("RTCP REMB received", "peer", id, "bitrate_bps", pkt.Bitrate)
			case *rtcp.ReceiverReport:
				e.logger.Debug("RTCP RR received", "peer", id, "reports", len(pkt.Reports))
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (e *Egress) evict(id string) {
	e.mu.Lock()
	p, ok := e.peers[id]
	if ok {
		delete(e.peers, id)
	}
	e.mu.Unlock()
	if ok {
		p.cancel()
		p.pc.Close()
	}
}

// sendLoop is the per-peer read side of the latest-frame slot (§4.9, §5 T2):
// it ticks at the source frame rate, snapshots the latest encoded sample, and
// writes it to this peer's track. A slow peer never blocks another peer or
// the encoder, since each tick only reads the single most-recent sample.
func (e *Egress) sendLoop(ctx context.Context, p *peer) {
	interval := time.Second / time.Duration(maxInt(e.fps, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendCtx, cancel := context.WithTimeout(ctx, 8*time.Millisecond)
			e.writeOneFrame(sendCtx, p)
			cancel()
		}
	}
}

// writeOneFrame snapshots the encoder's latest sample and writes it within the
// 8ms best-effort deadline from §5; a miss simply drops this tick's frame for
// this peer, matching "the frame is dropped for that peer and the next tick
// proceeds."
func (e *Egress) writeOneFrame(ctx context.Context, p *peer) {
	sample, pts, ok := e.encoder.latest()
	if !ok {
		return
	}

	nalus, err := splitAVCUnits(sample)
	if err != nil {
		e.logger.Warn("drop malformed annotated-frame sample", "peer", p.id, "error", err)
		return
	}

	const mtu = 1200
	for i, nalu := range nalus {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payloads := p.payloader.Payload(mtu, nalu)
		for j, payload := range payloads {
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    96,
					SequenceNumber: p.seq,
					Timestamp:      pts,
					Marker:         i == len(nalus)-1 && j == len(payloads)-1,
				},
				Payload: payload,
			}
			if err := p.track.WriteRTP(pkt); err != nil {
				if err != io.ErrClosedPipe {
					e.logger.Debug("write RTP failed", "peer", p.id, "error", err)
				}
				return
			}
			p.seq++
		}
	}
}

// Close tears down every active peer and stops the encode pipeline.
func (e *Egress) Close() error {
	e.ingestCancel()

	e.mu.Lock()
	ids := make([]string, 0, len(e.peers))
	for id := range e.peers {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.evict(id)
	}
	return e.encoder.close()
}

// splitAVCUnits extracts NAL units from 4-byte-length-prefixed AVC data,
// mirroring the teacher's extractNALUs.
func splitAVCUnits(data []byte) ([][]byte, error) {
	var nalus [][]byte
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("incomplete NAL unit at offset %d", offset)
		}
		n := int(data[offset])<<24 | int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4
		if offset+n > len(data) {
			return nil, fmt.Errorf("NAL unit length %d exceeds bounds at offset %d", n, offset-4)
		}
		nalus = append(nalus, data[offset:offset+n])
		offset += n
	}
	return nalus, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
