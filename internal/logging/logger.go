// Package logging configures the gateway's structured logger: JSON to
// stdout by default, shipped to Loki when a push URL is configured.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/grafana/loki-client-go/loki"
	slogloki "github.com/samber/slog-loki/v3"

	"github.com/yourorg/payment-gateway/internal/config"
)

type ctxKey string

const slogFields ctxKey = "slog_fields"

// WithAttrs returns a context carrying extra log attributes that the
// handler appends to every record logged with that context.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if existing, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		attrs = append(existing[:len(existing):len(existing)], attrs...)
	}
	return context.WithValue(ctx, slogFields, attrs)
}

// ContextHandler is a slog.Handler that merges context-carried attributes
// into each record.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if attrs, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		record.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, record)
}

// GetLogger builds the service logger from the log config.
func GetLogger(cfg config.Logs) *slog.Logger {
	if cfg.LokiURL == "" {
		return localLogger()
	}
	return remoteLogger(cfg.LokiURL)
}

func localLogger() *slog.Logger {
	return slog.New(&ContextHandler{Handler: slog.NewJSONHandler(os.Stdout, nil)})
}

func remoteLogger(url string) *slog.Logger {
	lokiConfig, _ := loki.NewDefaultConfig(url)
	client, _ := loki.New(lokiConfig)

	return slog.New(slogloki.Option{
		Level:  slog.LevelInfo,
		Client: client,
		AttrFromContext: []func(ctx context.Context) []slog.Attr{
			func(ctx context.Context) []slog.Attr {
				if attrs, ok := ctx.Value(slogFields).([]slog.Attr); ok {
					return attrs
				}
				return nil
			},
		},
	}.NewLokiHandler()).With("service", "payment-gateway")
}
