package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/aerofollow/gcs/pkg/api"
	"github.com/aerofollow/gcs/pkg/bridge"
	"github.com/aerofollow/gcs/pkg/config"
	"github.com/aerofollow/gcs/pkg/demux"
	"github.com/aerofollow/gcs/pkg/engine"
	"github.com/aerofollow/gcs/pkg/follow"
	"github.com/aerofollow/gcs/pkg/geo"
	"github.com/aerofollow/gcs/pkg/interaction"
	"github.com/aerofollow/gcs/pkg/logger"
	"github.com/aerofollow/gcs/pkg/model"
	syncpkg "github.com/aerofollow/gcs/pkg/sync"
	"github.com/aerofollow/gcs/pkg/trail"
	"github.com/aerofollow/gcs/pkg/webrtcegress"
)

func main() {
	fs := flag.NewFlagSet("gcs", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	envPath := fs.String("env", ".env", "path to the .env-style configuration file")
	detectorModel := fs.String("detector-model", "models/detector.onnx", "path to the ONNX detection model")
	trackerModel := fs.String("tracker-model", "models/vittrack.onnx", "path to the VitTrack ONNX model (falls back to CSRT if absent)")
	classNames := fs.String("class-names", "person,car,truck,boat,bicycle", "comma-separated detector class names")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Ground control station: video/telemetry ingest, detection/tracking, geolocation, follow control, and the operator API\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting ground control station", "log_config", logFlags.String())

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	demuxer := demux.New(ctx, demux.Config{
		ListenAddr: fmt.Sprintf("0.0.0.0:%d", cfg.GCS.VideoPort),
	}, log)
	defer demuxer.Close()

	synchronizer := syncpkg.New(syncpkg.Config{
		MaxSkew:      cfg.Engine.MaxSyncSkew,
		DegradedSkew: cfg.Engine.DegradedSkew,
		RingSize:     cfg.Engine.RingSize,
	})

	router := interaction.New()

	detector, err := engine.NewYOLODetector(*detectorModel, strings.Split(*classNames, ","), cfg.Engine.ConfidenceThreshold, cfg.Engine.NMSIoU)
	if err != nil {
		log.Error("failed to load detector model", "error", err)
		os.Exit(1)
	}
	defer detector.Close()

	trackerFactory := engine.SelectTrackerFactory(*trackerModel, log)

	eng := engine.New(engine.Config{
		DetectionFrameSkip:    cfg.Engine.DetectionFrameSkip,
		TrackerFrameSkip:      cfg.Engine.TrackerFrameSkip,
		RedetectInterval:      cfg.Engine.RedetectInterval,
		DriftIoUAccept:        cfg.Engine.DriftIoUAccept,
		MinDetectionIoU:       cfg.Engine.MinDetectionIoU,
		HistorySize:           cfg.Engine.HistorySize,
		TrackerConfidenceSkip: cfg.Engine.TrackerConfidenceSkip,
	}, detector, trackerFactory, router, log)

	projector := newGeoProjector(cfg.Engine)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.GCS.AWSRegion))
	if err != nil {
		log.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	store := trail.NewDynamoDBStore(dynamoClient, cfg.GCS.DynamoTable)

	recorder := trail.New(trail.Config{RecordEveryNth: cfg.Engine.RecordEveryNth}, store)

	status := bridge.NewStatusPublisher()

	// The UI bridge is constructed before the drone bridge since the drone
	// bridge needs a TelemetryListener immediately (it starts dialing in its
	// constructor); the circular reference is closed with SetDroneBridge
	// once the drone bridge exists.
	uiBridge := bridge.NewUIBridge(router, nil, recorder, log)

	droneURL := fmt.Sprintf("ws://%s:%d/ws/flight-computer", cfg.GCS.FlightCompIP, cfg.GCS.RPiBackendPort)
	droneBridge := bridge.NewDroneBridge(ctx, bridge.DefaultDroneConfig(droneURL), uiBridge, status, log)
	defer droneBridge.Close()
	uiBridge.SetDroneBridge(droneBridge)
	defer uiBridge.Close()

	follower := follow.New(ctx, follow.Config{
		Tick:  cfg.Engine.FollowTick,
		Stale: cfg.Engine.FollowStale,
		AltM:  cfg.Engine.FollowAlt,
	}, &droneCommander{bridge: droneBridge}, log)
	defer follower.Close()

	slot := &frameSlot{}

	fps := cfg.Drone.FPS
	if fps <= 0 {
		fps = 30
	}

	egress, err := webrtcegress.New(slot, fps, log.Logger)
	if err != nil {
		log.Error("failed to start WebRTC egress", "error", err)
		os.Exit(1)
	}
	defer egress.Close()

	server := api.NewServer(egress, uiBridge, recorder, store, droneBridge, log)
	if err := server.Start(ctx, fmt.Sprintf(":%d", cfg.GCS.BackendPort)); err != nil {
		log.Error("failed to start HTTP server", "error", err)
		os.Exit(1)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := server.Stop(stopCtx); err != nil {
			log.Error("failed to stop HTTP server", "error", err)
		}
	}()

	log.Info("ready - press Ctrl+C to stop")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runEngineDriver(ctx, demuxer, synchronizer, eng, projector, follower, recorder, status, slot, log, fps)
	}()

	<-ctx.Done()

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		log.Warn("engine driver did not exit within shutdown deadline")
	}

	log.Info("graceful shutdown complete")
}

// geoProjector wraps whichever of the two projector implementations the
// configuration selects; exactly one field is non-nil.
type geoProjector struct {
	nadir    *geo.NadirProjector
	attitude *geo.AttitudeProjector
}

func newGeoProjector(cfg config.EngineConfig) geoProjector {
	if cfg.UseAttitudeGeo {
		return geoProjector{attitude: geo.NewAttitudeProjector(cfg.CameraFOVDeg, cfg.FrameWidth, cfg.FrameHeight)}
	}
	return geoProjector{nadir: geo.NewNadirProjector(cfg.CameraFOVDeg, cfg.FrameWidth, cfg.FrameHeight)}
}

// locate dispatches to the configured projector. cx/cy are the tracked
// bbox's top-left-origin pixel center, matching the engine's BBox.Center();
// the nadir projector takes center-origin-signed coordinates (§9 decision 3),
// so they are re-centered here rather than inside the engine.
func (p geoProjector) locate(cx, cy int, frameW, frameH int, drone geo.Point, altitude float64, att geo.Attitude) (geo.Point, bool) {
	if p.attitude != nil {
		return p.attitude.Locate(float64(cx), float64(cy), drone, altitude, att)
	}
	signedX := float64(cx) - float64(frameW)/2
	signedY := float64(cy) - float64(frameH)/2
	return p.nadir.Locate(drone, altitude, signedX, signedY)
}

// droneCommander adapts the drone bridge's generic envelope Send into the
// follow controller's typed Commander interface.
type droneCommander struct {
	bridge *bridge.DroneBridge
}

func (c *droneCommander) SendMoveToLocation(lat, lon, alt float64) error {
	return c.bridge.Send(map[string]any{"command": "move_to_location", "lat": lat, "lon": lon, "alt": alt})
}

func (c *droneCommander) SendStopFollowing() error {
	return c.bridge.Send(map[string]any{"command": "stop_following"})
}

// frameSlot is the latest-annotated-frame cell the engine driver writes and
// the WebRTC egress pipeline reads, matching the single-producer/many-reader
// discipline used throughout the rest of the pipeline.
type frameSlot struct {
	mu    sync.Mutex
	frame model.Frame
	have  bool
}

func (s *frameSlot) store(f model.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = f
	s.have = true
}

func (s *frameSlot) Snapshot() (model.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.have
}

// runEngineDriver is the per-frame pipeline task (§5 M1): pull the latest
// demuxed frame/telemetry, synchronize them, run one engine tick, geolocate
// the tracked target if any, and fan the results out to the follow
// controller, trail recorder, and tracking-status publisher.
func runEngineDriver(
	ctx context.Context,
	demuxer *demux.Demuxer,
	synchronizer *syncpkg.Synchronizer,
	eng *engine.Engine,
	projector geoProjector,
	follower *follow.Controller,
	recorder *trail.Recorder,
	status *bridge.StatusPublisher,
	slot *frameSlot,
	log *logger.Logger,
	fps int,
) {
	interval := time.Second / time.Duration(fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := demuxer.Read()
			if !snap.HasFrame {
				continue
			}

			if snap.Telemetry != nil {
				synchronizer.PushTelemetry(telemetrySampleFromKLV(*snap.Telemetry))
			}

			degraded := demuxer.State() == demux.StateDegraded
			synced := synchronizer.Sync(snap.Frame, degraded)

			annotated, st, err := eng.Process(synced.Frame)
			if err != nil {
				log.Error("engine tick failed", "error", err)
				continue
			}
			slot.store(annotated)

			if synced.Telemetry != nil {
				recorder.Tick(*synced.Telemetry, st.Tracking, st.ClassName)
			}

			switch {
			case st.Tracking && synced.Telemetry != nil:
				cx, cy := st.BBox.Center()
				drone := geo.Point{Lat: synced.Telemetry.Lat, Lon: synced.Telemetry.Lon}
				att := geo.Attitude{RollRad: synced.Telemetry.RollRad, PitchRad: synced.Telemetry.PitchRad, YawRad: synced.Telemetry.YawRad}

				point, ok := projector.locate(cx, cy, synced.Frame.Width, synced.Frame.Height, drone, synced.Telemetry.AltAGL, att)
				if !ok {
					log.DebugGeo("no geolocation solution this tick", "class", st.ClassName)
					status.Publish(true, st.ClassName, 0)
					continue
				}

				follower.ReportGeolocation(point, synced.Frame.CaptureTS)
				distance := geo.VincentyDistance(drone.Lat, drone.Lon, point.Lat, point.Lon)
				status.Publish(true, st.ClassName, distance)

			case st.AcquisitionLost:
				follower.AcquisitionLost()
				status.Publish(false, "", 0)

			default:
				status.Publish(st.Tracking, st.ClassName, 0)
			}
		}
	}
}

func telemetrySampleFromKLV(p demux.KLVPayload) model.TelemetrySample {
	sec := int64(p.VideoTimestamp)
	nsec := int64((p.VideoTimestamp - float64(sec)) * 1e9)
	return model.TelemetrySample{
		TS:         time.Unix(sec, nsec),
		Lat:        p.Lat,
		Lon:        p.Lon,
		AltAGL:     p.AltAGL,
		AltMSL:     p.AltMSL,
		VN:         p.VN,
		VE:         p.VE,
		VD:         p.VD,
		HeadingDeg: p.HeadingDeg,
		RollRad:    p.RollRad,
		PitchRad:   p.PitchRad,
		YawRad:     p.YawRad,
		FlightMode: p.FlightMode,
	}
}
