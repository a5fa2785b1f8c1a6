// MIT License
//
// # Copyright (c) 2017 Olivier Poitrey
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// Based on https://github.com/rs/zerolog/blob/master/console.go.

// Package prettylog turns the simulator's JSON log lines into one-line
// human-readable records.
package prettylog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35
	colorCyan    = 36

	colorBold     = 1
	colorDarkGray = 90
)

// Fields printed in fixed order before the message. Everything else follows
// sorted by name.
const (
	hostKey = "host"
	tidKey  = "tid"
)

type Writer struct {
	out       io.Writer
	formatter formatter
}

// NewWriter creates a Writer that colours its output if stdout is a terminal.
func NewWriter(out io.Writer) *Writer {
	noColor := (os.Getenv("NO_COLOR") != "") || os.Getenv("TERM") == "dumb" ||
		(!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()))
	noColor = noColor && os.Getenv("FORCE_COLOR") == ""
	return &Writer{
		out:       out,
		formatter: formatter{noColor: noColor},
	}
}

var writePool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// Write reformats one JSON record. Input that is not JSON is copied through.
func (w *Writer) Write(p []byte) (n int, err error) {
	buf := writePool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		writePool.Put(buf)
	}()

	var evt map[string]any
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	if err := d.Decode(&evt); err != nil {
		w.out.Write(p)
		return len(p), nil
	}

	w.writePart(buf, w.formatter.timestamp(evt[slog.TimeKey]))
	w.writePart(buf, w.formatter.level(evt[slog.LevelKey]))
	w.writePart(buf, w.formatter.entity(evt[hostKey], evt[tidKey]))
	w.writePart(buf, w.formatter.caller(evt[slog.SourceKey]))
	w.writePart(buf, w.formatter.message(evt[slog.LevelKey], evt[slog.MessageKey]))
	w.writeFields(evt, buf)
	buf.WriteByte('\n')

	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *Writer) writePart(buf *bytes.Buffer, s string) {
	if s == "" {
		return
	}
	if buf.Len() > 0 {
		buf.WriteByte(' ')
	}
	buf.WriteString(s)
}

// needsQuote returns true when the string s should be quoted in output.
func needsQuote(s string) bool {
	for i := range s {
		if s[i] < 0x20 || s[i] > 0x7e || s[i] == ' ' || s[i] == '\\' || s[i] == '"' {
			return true
		}
	}
	return false
}

const errorKey = "err"

func (w *Writer) writeFields(evt map[string]any, buf *bytes.Buffer) {
	fields := make([]string, 0, len(evt))
	for field := range evt {
		switch field {
		case hostKey, tidKey, slog.LevelKey, slog.TimeKey, slog.MessageKey, slog.SourceKey:
			continue
		}
		fields = append(fields, field)
	}
	sort.Slice(fields, func(i, j int) bool {
		// errors first
		if (fields[i] == errorKey) != (fields[j] == errorKey) {
			return fields[i] == errorKey
		}
		return fields[i] < fields[j]
	})

	for _, field := range fields {
		var value string
		switch v := evt[field].(type) {
		case string:
			value = v
			if needsQuote(v) {
				value = strconv.Quote(v)
			}
		case json.Number:
			value = v.String()
		default:
			b, err := json.Marshal(v)
			if err != nil {
				value = w.formatter.colorize(fmt.Sprintf("[error: %v]", err), colorRed)
			} else {
				value = string(b)
			}
		}
		w.writePart(buf, w.formatter.fieldName(field)+w.formatter.fieldValue(field, value))
	}
}

type formatter struct {
	noColor bool
}

// colorize returns s wrapped in the ANSI codes c unless colours are disabled.
func (f *formatter) colorize(s string, c ...int) string {
	if f.noColor {
		return s
	}
	for _, c := range c {
		s = fmt.Sprintf("\x1b[%dm%s\x1b[0m", c, s)
	}
	return s
}

// Simulated clocks start at midnight, so the time of day reads as elapsed
// simulated time.
const timeFormat = "15:04:05.000000"

func (f *formatter) timestamp(i any) string {
	s, ok := i.(string)
	if !ok {
		return ""
	}
	if ts, err := time.ParseInLocation(time.RFC3339Nano, s, time.UTC); err == nil {
		s = ts.In(time.UTC).Format(timeFormat)
	}
	return f.colorize(s, colorDarkGray)
}

var levelColors = map[slog.Level]int{
	slog.LevelDebug: colorMagenta,
	slog.LevelInfo:  colorGreen,
	slog.LevelWarn:  colorYellow,
	slog.LevelError: colorRed,
}

var formattedLevels = map[slog.Level]string{
	slog.LevelDebug: "DBG",
	slog.LevelInfo:  "INF",
	slog.LevelWarn:  "WRN",
	slog.LevelError: "ERR",
}

func (f *formatter) level(i any) string {
	ll, ok := i.(string)
	if !ok {
		return "???"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(ll)); err == nil {
		if fl, ok := formattedLevels[level]; ok {
			return f.colorize(fl, levelColors[level])
		}
	}
	if len(ll) > 3 {
		ll = ll[:3]
	}
	return strings.ToUpper(ll)
}

func (f *formatter) entity(host, tid any) string {
	if host == nil {
		return ""
	}
	return fmt.Sprintf("%-12s", fmt.Sprintf("%v/%v", host, tid))
}

func (f *formatter) caller(i any) string {
	m, ok := i.(map[string]any)
	if !ok {
		return ""
	}
	file, _ := m["file"].(string)
	line, _ := m["line"].(json.Number)
	c := fmt.Sprintf("%s/%s:%s", path.Base(path.Dir(file)), path.Base(file), line)
	return f.colorize(c, colorDarkGray) + f.colorize(" >", colorCyan)
}

func (f *formatter) message(level any, i any) string {
	msg, _ := i.(string)
	if msg == "" {
		return ""
	}
	switch level {
	case "INFO", "WARN", "ERROR":
		return f.colorize(msg, colorBold)
	default:
		return msg
	}
}

func (f *formatter) fieldName(name string) string {
	return f.colorize(name+"=", colorCyan)
}

func (f *formatter) fieldValue(field string, value string) string {
	if field == errorKey {
		return f.colorize(value, colorBold, colorRed)
	}
	return value
}
