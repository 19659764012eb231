package logger_test

import (
	"fmt"
	"os"

	"github.com/aerofollow/gcs/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info("application started", "version", "1.0.0")
	log.Warn("deprecated endpoint used", "endpoint", "/v1/objects")
	log.Error("failed to connect", "error", "connection timeout")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugEngine)
	cfg.EnableCategory(logger.DebugGeo)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.DebugEngine("tracker update", "frame_seq", 412, "bbox", "100,100,50,50")
	log.DebugGeo("projection computed", "lat", 51.0, "lon", -114.0)
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// fs := flag.NewFlagSet("gcs", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/gcs/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "app.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("app.json")

	log.Info("operator connected",
		"remote_addr", "192.168.1.1",
		"duration_ms", 250)
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugBridge)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Category methods automatically check if enabled; zero cost if disabled.
	log.DebugBridge("command dispatched", "command", "move_to_location")
}
