// Package config loads process configuration from the environment,
// with reference defaults for every protocol interval.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarSignalingBaseURL = "PAIRLINE_SIGNALING_BASE_URL"
	envVarRelayCredURL     = "PAIRLINE_RELAY_CREDENTIAL_URL"
	envVarHistoryBaseURL   = "PAIRLINE_HISTORY_BASE_URL"
	envVarDirectoryBaseURL = "PAIRLINE_DIRECTORY_BASE_URL"

	envVarLogFormat = "PAIRLINE_LOG_FORMAT"
	envVarLogLevel  = "PAIRLINE_LOG_LEVEL"

	envVarHeartbeatInterval      = "PAIRLINE_HEARTBEAT_INTERVAL"
	envVarLivenessSampleInterval = "PAIRLINE_LIVENESS_SAMPLE_INTERVAL"
	envVarLivenessThreshold      = "PAIRLINE_LIVENESS_THRESHOLD"
	envVarReconnectDelay         = "PAIRLINE_RECONNECT_DELAY"
	envVarFailedResetDelay       = "PAIRLINE_FAILED_RESET_DELAY"
	envVarHangupCooldown         = "PAIRLINE_HANGUP_COOLDOWN"
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the resolved process configuration.
type Config struct {
	SignalingBaseURL string
	RelayCredURL     string
	HistoryBaseURL   string
	DirectoryBaseURL string

	LogFormat string
	LogLevel  slog.Level

	HeartbeatInterval      time.Duration
	LivenessSampleInterval time.Duration
	LivenessThreshold      time.Duration
	ReconnectDelay         time.Duration
	FailedResetDelay       time.Duration
	HangupCooldown         time.Duration
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		SignalingBaseURL: envOrDefault(lookup, envVarSignalingBaseURL, "ws://localhost:8080"),
		RelayCredURL:     envOrDefault(lookup, envVarRelayCredURL, ""),
		HistoryBaseURL:   envOrDefault(lookup, envVarHistoryBaseURL, "http://localhost:8080"),
		DirectoryBaseURL: envOrDefault(lookup, envVarDirectoryBaseURL, "http://localhost:8080"),
		LogFormat:        envOrDefault(lookup, envVarLogFormat, LogFormatText),
	}

	level, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	durations := []struct {
		key      string
		fallback time.Duration
		dest     *time.Duration
	}{
		{envVarHeartbeatInterval, 5 * time.Second, &cfg.HeartbeatInterval},
		{envVarLivenessSampleInterval, 3 * time.Second, &cfg.LivenessSampleInterval},
		{envVarLivenessThreshold, 15 * time.Second, &cfg.LivenessThreshold},
		{envVarReconnectDelay, 3 * time.Second, &cfg.ReconnectDelay},
		{envVarFailedResetDelay, 2 * time.Second, &cfg.FailedResetDelay},
		{envVarHangupCooldown, 1 * time.Second, &cfg.HangupCooldown},
	}
	for _, d := range durations {
		value, err := envDurationOrDefault(lookup, d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		if value <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", d.key)
		}
		*d.dest = value
	}

	if !strings.HasPrefix(cfg.SignalingBaseURL, "ws://") && !strings.HasPrefix(cfg.SignalingBaseURL, "wss://") {
		return Config{}, fmt.Errorf("%s must be a ws:// or wss:// URL", envVarSignalingBaseURL)
	}

	return cfg, nil
}

// NewLogger builds the process logger from the configured format and
// level.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
