// Command affectd is the main entry point for the affectd emotion fusion
// engine server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/affectd/affectd/internal/app"
	"github.com/affectd/affectd/internal/config"
	"github.com/affectd/affectd/internal/observe"
	"github.com/affectd/affectd/pkg/provider/infer"
	"github.com/affectd/affectd/pkg/provider/infer/mock"
	"github.com/affectd/affectd/pkg/provider/infer/onnx"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "affectd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "affectd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("affectd starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "affectd",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	// ── Instantiate backends ──────────────────────────────────────────────────
	backends, err := buildBackends(cfg, reg)
	if err != nil {
		slog.Error("failed to build backends", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, backends, app.WithMetrics(observe.DefaultMetrics()))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.ApplyConfig(d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// builtinBackends maps modalities to the backend implementations that ship
// with affectd. Used for startup logging.
var builtinBackends = map[string][]string{
	"vision": {"ferplus-onnx", "mock"},
	"audio":  {"prosody-onnx", "mock"},
}

// registerBuiltinBackends wires all built-in backend factories into reg.
// Each factory receives a config.ProviderEntry and constructs the backend
// from the real implementation packages.
func registerBuiltinBackends(reg *config.Registry) {
	// ── Vision ────────────────────────────────────────────────────────────────

	reg.RegisterVision("ferplus-onnx", func(entry config.ProviderEntry) (infer.Backend, error) {
		var opts []onnx.VisionOption
		if entry.LibraryPath != "" {
			opts = append(opts, onnx.WithVisionLibraryPath(entry.LibraryPath))
		}
		if entry.CPUOnly {
			opts = append(opts, onnx.WithVisionCPUOnly())
		}
		return onnx.NewVision(entry.ModelPath, opts...)
	})

	reg.RegisterVision("mock", func(config.ProviderEntry) (infer.Backend, error) {
		return &mock.Backend{}, nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("prosody-onnx", func(entry config.ProviderEntry) (infer.Backend, error) {
		var opts []onnx.AudioOption
		if entry.LibraryPath != "" {
			opts = append(opts, onnx.WithAudioLibraryPath(entry.LibraryPath))
		}
		if entry.CPUOnly {
			opts = append(opts, onnx.WithAudioCPUOnly())
		}
		input := optString(entry.Options, "input_node")
		output := optString(entry.Options, "output_node")
		if input != "" || output != "" {
			opts = append(opts, onnx.WithAudioIONames(input, output))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, onnx.WithAudioSampleRate(rate))
		}
		return onnx.NewAudio(entry.ModelPath, opts...)
	})

	reg.RegisterAudio("mock", func(config.ProviderEntry) (infer.Backend, error) {
		return &mock.Backend{}, nil
	})

	// Debug log of all registered backends.
	for modality, names := range builtinBackends {
		for _, name := range names {
			slog.Debug("registered backend", "modality", modality, "name", name)
		}
	}
}

// buildBackends instantiates the backends named in cfg using the registry and
// returns them in an [app.Backends] struct. A modality with no backend name
// is left nil; the engine degrades to whatever modalities remain.
func buildBackends(cfg *config.Config, reg *config.Registry) (*app.Backends, error) {
	bs := &app.Backends{}

	if name := cfg.Providers.Vision.Name; name != "" {
		b, err := reg.CreateVision(cfg.Providers.Vision)
		if err != nil {
			return nil, fmt.Errorf("create vision backend %q: %w", name, err)
		}
		bs.Vision = b
		slog.Info("backend created", "modality", "vision", "name", name)
	}

	if name := cfg.Providers.Audio.Name; name != "" {
		b, err := reg.CreateAudio(cfg.Providers.Audio)
		if err != nil {
			return nil, fmt.Errorf("create audio backend %q: %w", name, err)
		}
		bs.Audio = b
		slog.Info("backend created", "modality", "audio", "name", name)
	}

	if bs.Vision == nil && bs.Audio == nil {
		return nil, errors.New("no backends configured — set providers.vision.name or providers.audio.name")
	}

	return bs, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         affectd — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printBackend("Vision", cfg.Providers.Vision.Name, cfg.Providers.Vision.ModelPath)
	printBackend("Audio", cfg.Providers.Audio.Name, cfg.Providers.Audio.ModelPath)
	mode := cfg.Mode.Default
	if mode == "" {
		mode = config.ModeLive
	}
	fmt.Printf("║  Mode            : %-19s ║\n", mode)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printBackend(modality, name, modelPath string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if modelPath != "" {
		value = name + " / " + modelPath
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", modality, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a backend Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a backend Options map[string]any.
// YAML decodes integers as int; returns 0 on absence or type mismatch.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}
