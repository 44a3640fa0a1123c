// Losant MQTT device agent
//
// This is an example agent built on the losantmqtt package. It connects a
// single device to the Losant platform, reports a simulated sensor reading
// on a fixed interval, logs received commands, and (optionally) buffers
// state reports locally while the broker is unreachable so they can be
// replayed after reconnection.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	losantmqtt "github.com/losant/losant-mqtt-go"
	"github.com/losant/losant-mqtt-go/internal/infrastructure/config"
	"github.com/losant/losant-mqtt-go/internal/infrastructure/logging"
	"github.com/losant/losant-mqtt-go/statebuffer"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// loopTimeout paces the non-blocking network service loop.
const loopTimeout = time.Second

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual agent logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Losant device agent",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Optional offline state buffer
	var buffer *statebuffer.Buffer
	if cfg.Buffer.Enabled {
		buffer, err = statebuffer.Open(cfg.Buffer.Path)
		if err != nil {
			return fmt.Errorf("opening state buffer: %w", err)
		}
		defer func() {
			if closeErr := buffer.Close(); closeErr != nil {
				log.Error("error closing state buffer", "error", closeErr)
			}
		}()
		log.Info("state buffer open", "path", cfg.Buffer.Path)
	}

	device := losantmqtt.New(cfg.Device.ID, cfg.Device.Key, cfg.Device.Secret, deviceOptions(cfg, log)...)

	device.AddEventObserver(losantmqtt.EventCommand, func(_ *losantmqtt.Device, data any) {
		log.Info("command received", "device_id", cfg.Device.ID, "command", data)
	})

	// Replay buffered state once a connection is (re)established.
	replay := func(d *losantmqtt.Device, _ any) {
		replayBuffered(ctx, d, buffer, log)
	}
	device.AddEventObserver(losantmqtt.EventConnect, replay)
	device.AddEventObserver(losantmqtt.EventReconnect, replay)

	if err := device.Connect(false); err != nil {
		return fmt.Errorf("connecting to Losant: %w", err)
	}
	log.Info("connected", "device_id", cfg.Device.ID)

	ticker := time.NewTicker(time.Duration(cfg.Report.Interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return device.Close()
		case <-ticker.C:
			report(ctx, device, buffer, log)
		default:
			if err := device.Loop(loopTimeout); err != nil {
				device.Close() //nolint:errcheck // already failing, best effort
				return fmt.Errorf("servicing connection: %w", err)
			}
		}
	}
}

// deviceOptions translates agent configuration into device options.
func deviceOptions(cfg *config.Config, log *logging.Logger) []losantmqtt.Option {
	opts := []losantmqtt.Option{
		losantmqtt.WithLogger(log),
		losantmqtt.WithQoS(byte(cfg.Device.QoS)),
	}
	if !cfg.Device.Secure {
		opts = append(opts, losantmqtt.WithInsecure())
	}
	if cfg.Device.Transport == "websockets" {
		opts = append(opts, losantmqtt.WithTransport(losantmqtt.TransportWebSocket))
	}
	if cfg.Device.Endpoint != "" {
		opts = append(opts, losantmqtt.WithEndpoint(cfg.Device.Endpoint))
	}
	if cfg.Device.RootCA != "" {
		opts = append(opts, losantmqtt.WithRootCAFile(cfg.Device.RootCA))
	}
	return opts
}

// report sends one state reading, queueing it locally when the publish
// fails and buffering is enabled.
func report(ctx context.Context, device *losantmqtt.Device, buffer *statebuffer.Buffer, log *logging.Logger) {
	now := time.Now()
	state := losantmqtt.State{"temperature": readTemperature()}

	err := device.SendState(state, losantmqtt.StateTimeAt(now))
	if err == nil {
		return
	}
	log.Warn("state publish failed", "error", err)

	if buffer == nil {
		return
	}
	if qErr := buffer.Enqueue(ctx, state, now.UnixMilli()); qErr != nil {
		log.Error("failed to queue state", "error", qErr)
	}
}

// replayBuffered drains the offline queue through the device, oldest first.
// A failure mid-drain leaves the remaining entries queued.
func replayBuffered(ctx context.Context, device *losantmqtt.Device, buffer *statebuffer.Buffer, log *logging.Logger) {
	if buffer == nil {
		return
	}

	drained, err := buffer.Drain(ctx, func(state losantmqtt.State, millis int64) error {
		return device.SendState(state, losantmqtt.StateTimeMillis(millis))
	})
	if err != nil {
		log.Warn("state replay interrupted", "replayed", drained, "error", err)
		return
	}
	if drained > 0 {
		log.Info("replayed buffered state", "count", drained)
	}
}

// readTemperature simulates a sensor reading.
func readTemperature() float64 {
	return 20 + rand.Float64()*5
}

// getConfigPath returns the configuration file path.
// Uses LOSANT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LOSANT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
