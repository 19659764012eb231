package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aerofollow/gcs/pkg/bridge"
	"github.com/aerofollow/gcs/pkg/config"
	"github.com/aerofollow/gcs/pkg/logger"
	"github.com/aerofollow/gcs/pkg/muxer"
	"github.com/aerofollow/gcs/pkg/telemetry"
)

func main() {
	fs := flag.NewFlagSet("drone", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	envPath := fs.String("env", ".env", "path to the .env-style configuration file")
	width := fs.Int("width", 1280, "capture frame width")
	height := fs.Int("height", 720, "capture frame height")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Companion-computer process: captures video, reads autopilot telemetry, and streams the muxed MPEG-TS/KLV feed to the ground control station\n\n")
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

	log.Info("starting companion-computer streaming process", "log_config", logFlags.String())

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

	telemSource, err := telemetry.New(ctx, telemetry.Config{Addr: cfg.Drone.MAVLinkAddr}, log)
	if err != nil {
		log.Error("failed to open MAVLink connection", "error", err)
		os.Exit(1)
	}
	defer telemSource.Close()

	mux, err := muxer.New(muxer.Config{
		Device:      cfg.Drone.CameraDevice,
		Width:       *width,
		Height:      *height,
		FPS:         cfg.Drone.FPS,
		BitrateKbps: cfg.Drone.BitrateKbps,
		KeyIntMax:   cfg.Drone.KeyIntMax,
		GCSAddr:     cfg.Drone.GCSIP,
		GCSPort:     cfg.Drone.GCSVideoPort,
	}, telemSource, log)
	if err != nil {
		log.Error("failed to start video/KLV mux pipeline", "error", err)
		os.Exit(1)
	}
	defer mux.Close()

	fcServer := bridge.NewFlightComputerServer(telemSource, telemSource, log)
	controlMux := http.NewServeMux()
	controlMux.HandleFunc("/ws/flight-computer", fcServer.ServeWS)
	controlAddr := fmt.Sprintf(":%d", cfg.Drone.ControlPort)
	controlSrv := &http.Server{Addr: controlAddr, Handler: controlMux}
	go func() {
		if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("flight computer control-plane server failed", "error", err)
		}
	}()
	defer controlSrv.Close()

	log.Info("ready - streaming to ground control station", "gcs_addr", cfg.Drone.GCSIP, "gcs_port", cfg.Drone.GCSVideoPort, "control_port", cfg.Drone.ControlPort)

	fps := cfg.Drone.FPS
	if fps <= 0 {
		fps = 30
	}
	interval := time.Second / time.Duration(fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	var frame uint64
	for {
		select {
		case <-ctx.Done():
			log.Info("graceful shutdown complete")
			return
		case <-ticker.C:
			// PushFrameMetadata is keyed to the PTS GStreamer itself assigns the
			// matching video frame; elapsed-since-start at the configured frame
			// rate approximates that clock closely enough to pair the KLV buffer
			// with its video frame (§4.1's PTS-alignment contract).
			capturePTS := time.Since(start)
			if err := mux.PushFrameMetadata(capturePTS); err != nil {
				log.Error("push frame metadata failed", "error", err, "frame", frame)
			}
			frame++
		}
	}
}
