package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the slog.Logger shared by the API server and the drain
// worker. LOG_FORMAT=json switches to the JSON handler for log shippers; both
// handlers stamp the source location so sync failures are traceable to a call
// site.
func NewLogger(cfg *Config) *slog.Logger {
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
}
