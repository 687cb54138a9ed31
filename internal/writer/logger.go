package writer

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// multiHandler fans each record out to several handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// SetupLogger creates a logger writing text to console and JSON to the session log.
// The caller closes the returned file.
func SetupLogger(sessionMgr *SessionManager, console io.Writer, logLevel slog.Level) (*slog.Logger, *os.File, error) {
	logFile, err := os.OpenFile(sessionMgr.GetLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	logger := slog.New(&multiHandler{
		handlers: []slog.Handler{
			slog.NewTextHandler(console, opts),
			slog.NewJSONHandler(logFile, opts),
		},
	})

	return logger, logFile, nil
}

// NewConsoleLogger returns a text logger for commands that have no session
func NewConsoleLogger(console io.Writer, logLevel slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(console, &slog.HandlerOptions{Level: logLevel}))
}
