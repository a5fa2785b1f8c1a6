//go:build linux && amd64

package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/kmrgirish/simcall/simruntime"
)

type logFlags struct {
	level  string
	format string
}

func (l *logFlags) register(f *flag.FlagSet) {
	f.StringVar(&l.level, "log-level", "warn", "minimum log level: debug, info, warn or error")
	f.StringVar(&l.format, "log-format", string(simruntime.LogFormatPretty), "log output: raw, indented or pretty")
}

func (l *logFlags) handler(out io.Writer) (slog.Handler, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.level)); err != nil {
		return nil, fmt.Errorf("bad -log-level: %w", err)
	}
	format, err := simruntime.ParseLogFormat(l.format)
	if err != nil {
		return nil, err
	}
	return simruntime.NewLogHandler(out, level, format), nil
}
