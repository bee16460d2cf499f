// Package logging builds the JSON slog stack shared by lendvaultd and its
// tests. Lines carry timestamp/severity/message keys so the collector side
// needs no per-service parsing rules.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a config-supplied level name onto a slog level. Unknown or
// empty names fall back to info rather than failing boot.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// Setup installs the process-wide logger: JSON to stdout at the configured
// level, tagged with the service name and environment, with the standard
// library logger bridged onto the same handler.
func Setup(service, env, level string) *slog.Logger {
	handler := newHandler(os.Stdout, ParseLevel(level), service, env)
	base := slog.New(handler)
	slog.SetDefault(base)

	stdBridge := slog.NewLogLogger(handler, slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func newHandler(w io.Writer, level slog.Level, service, env string) slog.Handler {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: renameAttr,
	})
	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	return handler.WithAttrs(attrs)
}

// renameAttr rewrites slog's default keys to the collector's schema.
func renameAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "timestamp"
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "message"
	}
	return attr
}
