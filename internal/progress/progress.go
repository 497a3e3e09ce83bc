// Package progress implements the progress sinks the orchestrator
// reports through: a terminal bar and a structured-log line. Both
// satisfy the same Sink interface so the orchestrator is agnostic to
// which renderer is attached (spec.md treats progress renderers as an
// external, pluggable collaborator).
package progress

import (
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/rs/zerolog"
)

// Sink receives progress updates for a single download.
type Sink interface {
	// Add reports that sz additional bytes have been transferred.
	Add(sz int64)
	// Close finalizes the sink, e.g. printing a trailing newline.
	Close()
}

// noopSink discards progress updates. Used when no renderer is wired.
type noopSink struct{}

func Noop() Sink { return noopSink{} }

func (noopSink) Add(int64) {}
func (noopSink) Close()    {}

// BarSink renders a terminal progress bar via cheggaaa/pb.
type BarSink struct {
	bar *pb.ProgressBar
}

// NewBar starts a terminal progress bar for a download of the given
// name and total size.
func NewBar(name string, size int64) *BarSink {
	bar := pb.New64(size)
	bar.Set("prefix", truncate(name, 40)+" ")
	bar.SetTemplateString(`{{string . "prefix"}}{{percent . }} [{{bar . }}] {{speed . }} {{rtime . "%s"}}`)
	bar.Start()
	return &BarSink{bar: bar}
}

func (b *BarSink) Add(sz int64) { b.bar.Add64(sz) }
func (b *BarSink) Close()       { b.bar.Finish() }

// LogSink emits periodic structured log lines instead of a terminal
// bar, for non-interactive (CI, piped) contexts.
type LogSink struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	name     string
	size     int64
	progress int64
	start    time.Time
	lastLog  time.Time
}

// NewLog builds a log-based progress sink.
func NewLog(logger zerolog.Logger, name string, size int64) *LogSink {
	now := time.Now()
	return &LogSink{logger: logger, name: name, size: size, start: now, lastLog: now}
}

func (l *LogSink) Add(sz int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress += sz
	if time.Since(l.lastLog) < time.Second && l.progress < l.size {
		return
	}
	l.lastLog = time.Now()
	duration := time.Since(l.start).Seconds()
	var rate float64
	if duration > 0 {
		rate = float64(l.progress) / duration
	}
	pct := 0
	if l.size > 0 {
		pct = int(100 * l.progress / l.size)
	}
	l.logger.Info().
		Str("name", l.name).
		Int("percent", pct).
		Int64("size", l.size).
		Float64("rate_bytes_per_sec", rate).
		Float64("duration_sec", duration).
		Msg("download progress")
}

func (l *LogSink) Close() {}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
