package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nadzzz/liveprompt/internal/bridge"
	"github.com/nadzzz/liveprompt/internal/completion"
	localcompletion "github.com/nadzzz/liveprompt/internal/completion/local"
	openaicompletion "github.com/nadzzz/liveprompt/internal/completion/openai"
	"github.com/nadzzz/liveprompt/internal/config"
	"github.com/nadzzz/liveprompt/internal/device"
	"github.com/nadzzz/liveprompt/internal/device/ableton"
	"github.com/nadzzz/liveprompt/internal/dispatch"
	"github.com/nadzzz/liveprompt/internal/health"
	"github.com/nadzzz/liveprompt/internal/transport"
	grpctransport "github.com/nadzzz/liveprompt/internal/transport/grpc"
	httptransport "github.com/nadzzz/liveprompt/internal/transport/http"
	mqtttransport "github.com/nadzzz/liveprompt/internal/transport/mqtt"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the prompt daemon",
	Long: `serve starts the enabled transports (HTTP, gRPC, MQTT) and the health server.
Every prompt is completed by the configured language model and the resulting
command is executed on the Ableton Live remote script. The connection to Live
is opened by the first prompt, not at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&configFile, "config", "", "path to config file (e.g. configs/liveprompt.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) error {
	// Load configuration.
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// Setup structured logging.
	logFile, err := config.SetupLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer logFile.Close()
	slog.Info("liveprompt starting", "version", version)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	completer, err := newCompleter(cfg.Completion)
	if err != nil {
		return err
	}
	defer completer.Close()

	// The device connection is opened by the first prompt and reopened after
	// a transport failure.
	dispatcher := dispatch.New(func(ctx context.Context) (device.Conn, error) {
		client := ableton.New(cfg.Device)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	})
	defer dispatcher.Close()

	b := bridge.New(completer, dispatcher)

	// Initialize enabled transports.
	var transports []transport.Transport
	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC.Port))
	}
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP.Port))
	}
	if cfg.Transports.MQTT.Enabled {
		transports = append(transports, mqtttransport.New(cfg.Transports.MQTT))
	}
	if len(transports) == 0 {
		return fmt.Errorf("no transports enabled: enable at least one in config")
	}

	// Start health check server.
	healthServer := health.New(cfg.Server.HealthPort, dispatcher.Connected)
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	// Start all transports.
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx, b.Handle); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
			}
		}(t)
	}

	healthServer.SetReady(true)
	slog.Info("liveprompt ready",
		"transports", len(transports),
		"completion", completer.Name(),
		"device", cfg.Device.Address,
		"health_port", cfg.Server.HealthPort)

	// Block until shutdown signal.
	<-ctx.Done()
	healthServer.SetReady(false)
	slog.Info("shutdown signal received, draining...")

	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	wg.Wait()
	slog.Info("liveprompt stopped")
	return nil
}

func newCompleter(cfg config.CompletionConfig) (completion.Completer, error) {
	switch cfg.Backend {
	case "openai":
		slog.Info("using OpenAI completion", "model", cfg.OpenAI.Model, "base_url", cfg.OpenAI.BaseURL)
		return openaicompletion.New(cfg.OpenAI), nil
	case "local":
		c := localcompletion.New(cfg.Local)
		slog.Info("using local completion", "model", cfg.Local.Model, "endpoint", c.Endpoint())
		return c, nil
	default:
		return nil, fmt.Errorf("unknown completion backend %q", cfg.Backend)
	}
}
