// Package logging emits pipeline diagnostics to stderr as single-line
// records, either human-readable key=value text or JSON. It is
// deliberately small: a handful of levels, ordered fields, and no
// failure mode that could interrupt a patch in flight.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level gates which records are written.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "info"
	}
	return levelNames[l]
}

// ParseLevel maps a config string to a Level. Unrecognized values fall
// back to info: a typo in config must not silence or abort anything.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects the record encoding.
type Format int8

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat maps a config string to a Format, defaulting to text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

type field struct {
	key string
	val any
}

// Logger writes leveled records. Loggers derived with WithFields share
// the parent's writer and mutex, so output from every component of one
// process interleaves line-atomically.
type Logger struct {
	mu     *sync.Mutex
	out    io.Writer
	min    Level
	format Format
	base   []field
}

// New creates a logger writing records at or above min to out.
func New(out io.Writer, min Level, format Format) *Logger {
	return &Logger{mu: &sync.Mutex{}, out: out, min: min, format: format}
}

// WithFields returns a derived logger whose records carry the given
// fields before any per-call fields. Map order is not stable, so the
// keys are sorted once here; record output order is then fixed.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	base := make([]field, 0, len(l.base)+len(keys))
	base = append(base, l.base...)
	for _, k := range keys {
		base = append(base, field{key: k, val: fields[k]})
	}

	return &Logger{mu: l.mu, out: l.out, min: l.min, format: l.format, base: base}
}

func (l *Logger) Debug(msg string, fields ...map[string]any) { l.emit(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...map[string]any)  { l.emit(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...map[string]any)  { l.emit(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...map[string]any) { l.emit(LevelError, msg, fields) }

func (l *Logger) emit(level Level, msg string, extra []map[string]any) {
	if level < l.min {
		return
	}

	all := append([]field(nil), l.base...)
	for _, m := range extra {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			all = append(all, field{key: k, val: m[k]})
		}
	}

	ts := time.Now().UTC().Format(time.RFC3339Nano)

	var b strings.Builder
	if l.format == FormatJSON {
		writeJSONRecord(&b, ts, level, msg, all)
	} else {
		writeTextRecord(&b, ts, level, msg, all)
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, b.String())
}

func writeTextRecord(b *strings.Builder, ts string, level Level, msg string, fields []field) {
	b.WriteString(ts)
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(level.String()))
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range fields {
		fmt.Fprintf(b, " %s=%v", f.key, f.val)
	}
}

// writeJSONRecord builds the object by hand to keep field order: the
// fixed header first, then base fields, then call-site fields.
func writeJSONRecord(b *strings.Builder, ts string, level Level, msg string, fields []field) {
	b.WriteByte('{')
	writeJSONPair(b, "ts", ts)
	b.WriteByte(',')
	writeJSONPair(b, "level", level.String())
	b.WriteByte(',')
	writeJSONPair(b, "msg", msg)
	for _, f := range fields {
		b.WriteByte(',')
		writeJSONPair(b, f.key, f.val)
	}
	b.WriteByte('}')
}

func writeJSONPair(b *strings.Builder, key string, val any) {
	k, _ := json.Marshal(key)
	b.Write(k)
	b.WriteByte(':')
	v, err := json.Marshal(val)
	if err != nil {
		v, _ = json.Marshal(fmt.Sprintf("%v", val))
	}
	b.Write(v)
}

// std is the process-wide logger components derive from. The level can
// be seeded from the environment before config is even loaded, which
// keeps early startup (store open, migration) observable.
var (
	stdMu sync.Mutex
	std   = New(os.Stderr, ParseLevel(os.Getenv("SELFMOD_LOG_LEVEL")), FormatText)
)

// Configure replaces the process-wide logger settings. Call it once
// after loading config; loggers derived earlier keep their settings.
func Configure(level, format string) {
	stdMu.Lock()
	defer stdMu.Unlock()
	std = New(os.Stderr, ParseLevel(level), ParseFormat(format))
}

// WithFields derives a component logger from the process-wide logger.
func WithFields(fields map[string]any) *Logger {
	stdMu.Lock()
	defer stdMu.Unlock()
	return std.WithFields(fields)
}

// Debug logs to the process-wide logger.
func Debug(msg string, fields ...map[string]any) { std.Debug(msg, fields...) }

// Info logs to the process-wide logger.
func Info(msg string, fields ...map[string]any) { std.Info(msg, fields...) }

// Warn logs to the process-wide logger.
func Warn(msg string, fields ...map[string]any) { std.Warn(msg, fields...) }

// Error logs to the process-wide logger.
func Error(msg string, fields ...map[string]any) { std.Error(msg, fields...) }
