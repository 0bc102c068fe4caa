// Package logging provides slog construction and wire tracing for the
// test mail servers.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// contextKey is used for storing loggers in context.
type contextKey struct{}

var loggerKey = contextKey{}

// connectionCounter generates connection ids for log correlation.
var connectionCounter atomic.Uint64

// NewLogger creates a text-handler slog.Logger on stderr with the
// specified level. Unrecognized levels fall back to info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler)
}

// WithConnection returns a logger tagged with a fresh connection id and
// the peer address. Ids are process-wide, so interleaved SMTP and POP3
// connections stay distinguishable in one stream.
func WithConnection(logger *slog.Logger, remoteAddr string) *slog.Logger {
	connID := connectionCounter.Add(1)
	return logger.With(
		slog.Uint64("conn_id", connID),
		slog.String("remote_addr", remoteAddr),
	)
}

// WithListener returns a logger tagged with the listen address and
// protocol name.
func WithListener(logger *slog.Logger, address string, protocol string) *slog.Logger {
	return logger.With(
		slog.String("listener", address),
		slog.String("protocol", protocol),
	)
}

// FromContext retrieves the logger from the context.
// Returns the default logger if none is found.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// NewContext returns a new context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WireWriter wraps an io.Writer and traces everything written through
// it at debug level, one record per flush. Both protocols are
// line-oriented, so the trailing terminator is dropped from the traced
// data to keep records readable.
type WireWriter struct {
	w         io.Writer
	logger    *slog.Logger
	direction string
}

// NewWireWriter creates a writer that traces all data written.
func NewWireWriter(w io.Writer, logger *slog.Logger, direction string) *WireWriter {
	return &WireWriter{
		w:         w,
		logger:    logger,
		direction: direction,
	}
}

// Write writes data and traces it.
func (ww *WireWriter) Write(p []byte) (n int, err error) {
	n, err = ww.w.Write(p)
	if n > 0 {
		ww.logger.Debug("wire",
			slog.String("direction", ww.direction),
			slog.String("data", trimWire(p[:n])),
		)
	}
	return n, err
}

// WireReader wraps an io.Reader and traces everything read through it
// at debug level.
type WireReader struct {
	r         io.Reader
	logger    *slog.Logger
	direction string
}

// NewWireReader creates a reader that traces all data read.
func NewWireReader(r io.Reader, logger *slog.Logger, direction string) *WireReader {
	return &WireReader{
		r:         r,
		logger:    logger,
		direction: direction,
	}
}

// Read reads data and traces it.
func (wr *WireReader) Read(p []byte) (n int, err error) {
	n, err = wr.r.Read(p)
	if n > 0 {
		wr.logger.Debug("wire",
			slog.String("direction", wr.direction),
			slog.String("data", trimWire(p[:n])),
		)
	}
	return n, err
}

// trimWire renders a traced chunk without its trailing line terminator.
func trimWire(p []byte) string {
	return strings.TrimRight(string(p), "\r\n")
}
