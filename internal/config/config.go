// Package config handles loading and validating the liveprompt configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the root configuration for the liveprompt daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	Completion CompletionConfig `mapstructure:"completion"`
	Device     DeviceConfig     `mapstructure:"device"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
	MQTT MQTTConfig `mapstructure:"mqtt"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP transport serving POST /prompt.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Broker     string `mapstructure:"broker"`
	ClientID   string `mapstructure:"client_id"`
	Topic      string `mapstructure:"topic"`       // prompts are read from here
	ReplyTopic string `mapstructure:"reply_topic"` // envelopes go here unless the prompt names reply_to
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
}

// CompletionConfig selects and configures the completion provider.
type CompletionConfig struct {
	Backend string       `mapstructure:"backend"` // "local" or "openai"
	Local   LocalConfig  `mapstructure:"local"`
	OpenAI  OpenAIConfig `mapstructure:"openai"`
}

// LocalConfig holds settings for a self-hosted OpenAI-compatible server
// (LM Studio, llama.cpp, vLLM) or an Ollama /api/generate endpoint.
type LocalConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OpenAIConfig holds settings for the OpenAI SDK backend.
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DeviceConfig describes how to reach the Ableton Live remote script.
type DeviceConfig struct {
	Address     string        `mapstructure:"address"`      // host:port
	DialTimeout time.Duration `mapstructure:"dial_timeout"` // connection establishment
	Timeout     time.Duration `mapstructure:"timeout"`      // one request/response exchange
	SettleDelay time.Duration `mapstructure:"settle_delay"` // pause around state-changing commands
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
	File   string `mapstructure:"file"`   // optional rotating log file; stdout when empty
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./liveprompt.yaml, ./configs/liveprompt.yaml, /etc/liveprompt/liveprompt.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("liveprompt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/liveprompt")
	}

	// Environment variables: LIVEPROMPT_DEVICE_ADDRESS, LIVEPROMPT_COMPLETION_BACKEND, etc.
	v.SetEnvPrefix("LIVEPROMPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional; env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${OPENAI_API_KEY}")
	cfg.Completion.OpenAI.APIKey = resolveEnvRef(cfg.Completion.OpenAI.APIKey)
	cfg.Transports.MQTT.Password = resolveEnvRef(cfg.Transports.MQTT.Password)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8000)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.mqtt.enabled", false)
	v.SetDefault("transports.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("transports.mqtt.client_id", "liveprompt")
	v.SetDefault("transports.mqtt.topic", "liveprompt/prompt")
	v.SetDefault("transports.mqtt.reply_topic", "liveprompt/reply")
	v.SetDefault("completion.backend", "local")
	v.SetDefault("completion.local.base_url", "http://localhost:1234/v1")
	v.SetDefault("completion.local.model", "gemma-3-27b")
	v.SetDefault("completion.local.timeout", 120*time.Second)
	v.SetDefault("completion.openai.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("completion.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("completion.openai.model", "gpt-4o-mini")
	v.SetDefault("completion.openai.timeout", 60*time.Second)
	v.SetDefault("device.address", "localhost:9877")
	v.SetDefault("device.dial_timeout", 5*time.Second)
	v.SetDefault("device.timeout", 15*time.Second)
	v.SetDefault("device.settle_delay", 100*time.Millisecond)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Completion.Backend {
	case "local", "openai":
	default:
		return fmt.Errorf("unknown completion backend %q (want local or openai)", c.Completion.Backend)
	}
	if strings.TrimSpace(c.Device.Address) == "" {
		return fmt.Errorf("device.address must not be empty")
	}
	if c.Device.Timeout <= 0 {
		return fmt.Errorf("device.timeout must be positive, got %s", c.Device.Timeout)
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
// An unset variable resolves to the empty string.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		return os.Getenv(val[2 : len(val)-1])
	}
	return val
}

const (
	maxLogSizeMB  = 10
	maxLogBackups = 5
	maxLogAgeDays = 14
)

// SetupLogging configures the global slog logger based on config. When a log
// file is configured, output is written there with size-based rotation.
func SetupLogging(cfg LoggingConfig) (io.Closer, error) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if path := strings.TrimSpace(cfg.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return closer, fmt.Errorf("creating log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxLogBackups,
			MaxAge:     maxLogAgeDays,
			Compress:   true,
		}
		out, closer = rotating, rotating
	}

	slog.SetDefault(slog.New(newHandler(cfg.Format, out, opts)))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(format string, out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.ToLower(strings.TrimSpace(format)) == "text" {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}
