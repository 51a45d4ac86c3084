package config

import (
	"io"
	"log/slog"
	"strings"

	"github.com/lizzyg/qwenai/internal/capability"
	"github.com/lizzyg/qwenai/internal/providers/retry"
)

// RetryPolicy converts the retry section.
func (s *Settings) RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts: s.Retry.MaxAttempts,
		BaseDelay:   s.Retry.BaseDelay,
		MaxDelay:    s.Retry.MaxDelay,
		JitterRatio: s.Retry.JitterRatio,
		Budget:      s.Retry.Budget,
	}
}

// CapabilityTable returns the built-in table extended with configured endpoints.
func (s *Settings) CapabilityTable() *capability.Table {
	if len(s.Endpoints) == 0 {
		return capability.Default()
	}
	extra := make([]capability.Provider, 0, len(s.Endpoints))
	for _, ep := range s.Endpoints {
		extra = append(extra, capability.Provider{
			Name:        ep.Name,
			DisplayName: ep.DisplayName,
			Prefix:      ep.Prefix,
			Flags: capability.Flags{
				StructuredOutput: ep.StructuredOutput,
				ToolCalling:      ep.ToolCalling,
				Vision:           ep.Vision,
			},
			Adapter: capability.Adapter{
				ExtraBody:          ep.ExtraBody,
				Headers:            ep.Headers,
				AuthHeader:         ep.AuthHeader,
				RequireJSONKeyword: ep.JSONKeyword,
			},
		})
	}
	return capability.Default().With(extra...)
}

// Handler builds the slog handler described by the log section.
func (l LogConfig) Handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if strings.EqualFold(l.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
