package simruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	zapslog "github.com/tommoulard/zap-slog"
	"go.uber.org/zap"

	"github.com/kmrgirish/simcall/internal/prettylog"
)

// LogAttrer is implemented by tasks that want their identity attached to every
// log record emitted while they run.
type LogAttrer interface {
	LogAttrs() []slog.Attr
}

type wrapHandler struct {
	inner slog.Handler
	s     *Scheduler
}

func (w wrapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return w.inner.Enabled(ctx, level)
}

func (w wrapHandler) Handle(ctx context.Context, r slog.Record) error {
	r.Time = time.Unix(0, w.s.clock.now).UTC()
	if cur, ok := w.s.current.(LogAttrer); ok {
		r.AddAttrs(cur.LogAttrs()...)
	}
	return w.inner.Handle(ctx, r)
}

func (w wrapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return wrapHandler{inner: w.inner.WithAttrs(attrs), s: w.s}
}

func (w wrapHandler) WithGroup(name string) slog.Handler {
	return wrapHandler{inner: w.inner.WithGroup(name), s: w.s}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

type LogFormat string

const (
	LogFormatRaw      LogFormat = "raw"
	LogFormatIndented LogFormat = "indented"
	LogFormatPretty   LogFormat = "pretty"
)

func ParseLogFormat(s string) (LogFormat, error) {
	k := LogFormat(s)
	if k != LogFormatRaw && k != LogFormatIndented && k != LogFormatPretty {
		return "", fmt.Errorf("bad log kind %q", s)
	}
	return k, nil
}

// NewLogHandler returns a JSON slog handler writing to out in the given
// console format.
func NewLogHandler(out io.Writer, level slog.Level, format LogFormat) slog.Handler {
	return slog.NewJSONHandler(consoleWriter(out, format), &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
}

type indentedWriter struct {
	out io.Writer
}

func (w *indentedWriter) Write(p []byte) (n int, err error) {
	if len(p) > 0 && p[len(p)-1] == '\n' {
		var x any
		if err := json.Unmarshal(p, &x); err == nil {
			o := json.NewEncoder(w.out)
			o.SetIndent("", "  ")
			o.Encode(x)
			return len(p), nil
		}
	}
	w.out.Write(p)
	return len(p), nil
}

func consoleWriter(out io.Writer, format LogFormat) io.Writer {
	switch format {
	case LogFormatRaw:
		return out
	case LogFormatIndented:
		return &indentedWriter{out: out}
	case LogFormatPretty, "":
		return prettylog.NewWriter(out)
	default:
		panic(format)
	}
}

// NewZapLogger returns a zap logger whose output is forwarded to l, so tools
// that log with zap end up in the same stream as the simulation.
func NewZapLogger(l *slog.Logger) (*zap.Logger, error) {
	return zap.NewProduction(zapslog.WrapCore(l))
}
