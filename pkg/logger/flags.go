package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel       string
	LogFormat      string
	LogFile        string
	DebugTransport bool
	DebugEngine    bool
	DebugGeo       bool
	DebugBridge    bool
	DebugFollow    bool
	DebugAll       bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	fs.BoolVar(&f.DebugTransport, "debug-transport", false,
		"Enable stream muxer/demuxer and KLV framing debugging")
	fs.BoolVar(&f.DebugEngine, "debug-engine", false,
		"Enable detection/tracking state machine debugging")
	fs.BoolVar(&f.DebugGeo, "debug-geo", false,
		"Enable geolocation projector debugging")
	fs.BoolVar(&f.DebugBridge, "debug-bridge", false,
		"Enable drone/UI command-telemetry bridge debugging")
	fs.BoolVar(&f.DebugFollow, "debug-follow", false,
		"Enable follow-controller cadence debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		if f.DebugTransport {
			cfg.EnableCategory(DebugTransport)
			cfg.Level = LevelDebug
		}
		if f.DebugEngine {
			cfg.EnableCategory(DebugEngine)
			cfg.Level = LevelDebug
		}
		if f.DebugGeo {
			cfg.EnableCategory(DebugGeo)
			cfg.Level = LevelDebug
		}
		if f.DebugBridge {
			cfg.EnableCategory(DebugBridge)
			cfg.Level = LevelDebug
		}
		if f.DebugFollow {
			cfg.EnableCategory(DebugFollow)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./gcs

  Enable DEBUG level:
    ./gcs --log-level debug
    ./gcs -l debug

  Log to file:
    ./gcs --log-file gcs.log
    ./gcs -o gcs.log

  JSON format for structured logging:
    ./gcs --log-format json -o gcs.json

  Debug the tracking engine only:
    ./gcs --debug-engine

  Debug multiple categories:
    ./gcs --debug-transport --debug-geo --debug-bridge

  Debug everything:
    ./gcs --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./gcs -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugTransport {
			debugCategories = append(debugCategories, "transport")
		}
		if f.DebugEngine {
			debugCategories = append(debugCategories, "engine")
		}
		if f.DebugGeo {
			debugCategories = append(debugCategories, "geo")
		}
		if f.DebugBridge {
			debugCategories = append(debugCategories, "bridge")
		}
		if f.DebugFollow {
			debugCategories = append(debugCategories, "follow")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
