package webrtcegress

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/aerofollow/gcs/pkg/model"
)

const videoClockRate = 90000

// frameEncoder wraps a GStreamer pipeline that turns pushed BGR annotated
// frames into AVC-framed H.264 samples. Its RTP timestamp derivation
// generalizes the teacher's leaky-bucket calculateVideoDelay: rather than
// pacing packet writes against a source's timestamp deltas, it stamps each
// encoded sample against a free-running 90kHz clock so every peer's sendLoop
// can compute consistent RTP timestamps without sharing state.
type frameEncoder struct {
	logger   *slog.Logger
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink

	startedAt time.Time

	latestMu   sync.Mutex
	latestBuf  []byte
	latestPTS  uint32
	haveLatest bool

	closed atomic.Bool
}

// newFrameEncoder builds and starts the appsrc ! videoconvert ! x264enc !
// appsink pipeline. One encoder is shared by every viewer peer; each peer
// only ever reads the resulting latest sample (§4.9), never the pipeline.
func newFrameEncoder(fps int, logger *slog.Logger) (*frameEncoder, error) {
	if fps <= 0 {
		fps = 30
	}

	pipelineStr := fmt.Sprintf(
		"appsrc name=src format=time is-live=true do-timestamp=true block=false "+
			"caps=video/x-raw,format=BGR,framerate=%d/1 ! "+
			"videoconvert ! "+
			"x264enc tune=zerolatency speed-preset=ultrafast key-int-max=60 aud=true bitrate=2000 ! "+
			"video/x-h264,stream-format=byte-stream,alignment=au ! "+
			"appsink name=sink sync=false max-buffers=1 drop=true",
		fps,
	)

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("build annotated-frame encode pipeline: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("find appsrc: %w", err)
	}
	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("find appsink: %w", err)
	}

	fe := &frameEncoder{
		logger:    logger,
		pipeline:  pipeline,
		src:       app.SrcFromElement(srcElem),
		sink:      app.SinkFromElement(sinkElem),
		startedAt: time.Now(),
	}

	fe.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: fe.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start encode pipeline: %w", err)
	}

	return fe, nil
}

// onNewSample runs on the GStreamer streaming thread each time x264enc
// produces an access unit. The byte-stream caps above keep the data in
// Annex-B form; it is reframed to AVC here so splitAVCUnits (and the RTP
// packetizer) can treat it the same way as any other AVC source.
func (fe *frameEncoder) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}
	buf := sample.GetBuffer()
	if buf == nil {
		return gst.FlowOK
	}

	data := buf.Bytes()
	pts := uint32(uint64(time.Since(fe.startedAt).Nanoseconds()) * videoClockRate / uint64(time.Second))

	fe.latestMu.Lock()
	fe.latestBuf = annexBToAVC(data)
	fe.latestPTS = pts
	fe.haveLatest = true
	fe.latestMu.Unlock()

	return gst.FlowOK
}

// push feeds one annotated frame into the encoder. Called from the Egress
// ingest loop on each frame-rate tick; never blocks, since the appsrc is configured
// block=false — a slow encoder simply drops frames rather than stalling the
// engine's own latest-frame slot.
func (fe *frameEncoder) push(frame model.Frame) error {
	if fe.closed.Load() {
		return nil
	}
	buf := gst.NewBufferWithSize(int64(len(frame.Pixels)))
	buf.Map(gst.MapWrite).WriteData(frame.Pixels)
	return fe.src.PushBuffer(buf)
}

// latest returns the most recently encoded AVC sample and its RTP timestamp.
func (fe *frameEncoder) latest() ([]byte, uint32, bool) {
	fe.latestMu.Lock()
	defer fe.latestMu.Unlock()
	if !fe.haveLatest {
		return nil, 0, false
	}
	return fe.latestBuf, fe.latestPTS, true
}

func (fe *frameEncoder) close() error {
	if fe.closed.Swap(true) {
		return nil
	}
	return fe.pipeline.SetState(gst.StateNull)
}

// annexBToAVC reframes Annex-B (00 00 00 01-delimited) NAL units into the
// 4-byte-length-prefixed AVC format splitAVCUnits expects.
func annexBToAVC(data []byte) []byte {
	starts := findStartCodes(data)
	out := make([]byte, 0, len(data)+4*len(starts))
	for i, start := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1].prevEnd
		}
		nalu := data[start.naluStart:end]
		n := len(nalu)
		out = append(out, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		out = append(out, nalu...)
	}
	return out
}

type startCode struct {
	naluStart int
	prevEnd   int
}

func findStartCodes(data []byte) []startCode {
	var codes []startCode
	for i := 0; i+3 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			codes = append(codes, startCode{naluStart: i + 4, prevEnd: i})
			i += 3
		} else if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			codes = append(codes, startCode{naluStart: i + 3, prevEnd: i})
			i += 2
		}
	}
	return codes
}
