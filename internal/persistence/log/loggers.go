// Package log writes hourly rotated, zstd compressed JSONL event files.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

type TransitionEntry struct {
	X    int32  `json:"x"`
	Y    int32  `json:"y"`
	Z    int32  `json:"z"`
	From string `json:"from"`
	To   string `json:"to"`
	Err  string `json:"err,omitempty"`
}

// StreamEntry is one tick's worth of chunk state transitions.
type StreamEntry struct {
	Time        time.Time         `json:"time"`
	WorldID     string            `json:"world_id"`
	Tick        uint64            `json:"tick"`
	Observer    [3]int32          `json:"observer"`
	Transitions []TransitionEntry `json:"transitions"`
}

type SaveEntry struct {
	Time       time.Time `json:"time"`
	WorldID    string    `json:"world_id"`
	JobID      string    `json:"job_id"`
	OK         bool      `json:"ok"`
	Kind       string    `json:"kind,omitempty"`
	Err        string    `json:"err,omitempty"`
	Bytes      int       `json:"bytes"`
	DurationMS int64     `json:"duration_ms"`
}

type EditEntry struct {
	Time    time.Time `json:"time"`
	WorldID string    `json:"world_id"`
	Tick    uint64    `json:"tick"`
	Actor   string    `json:"actor"`
	Kind    string    `json:"kind"`
	Pos     [3]int    `json:"pos"`
	Prev    string    `json:"prev,omitempty"`
	Block   string    `json:"block,omitempty"`
	Err     string    `json:"err,omitempty"`
}

// EventLogger writes stream transitions and save results (compressed).
type EventLogger struct {
	stream *JSONLZstdWriter
	saves  *JSONLZstdWriter
}

func NewEventLogger(worldDir string) *EventLogger {
	dir := filepath.Join(worldDir, "events")
	return &EventLogger{
		stream: NewJSONLZstdWriter(dir, "stream"),
		saves:  NewJSONLZstdWriter(dir, "saves"),
	}
}

func (l *EventLogger) WriteStream(v StreamEntry) error { return l.stream.Write(v) }
func (l *EventLogger) WriteSave(v SaveEntry) error     { return l.saves.Write(v) }

func (l *EventLogger) Close() error {
	err1 := l.stream.Close()
	err2 := l.saves.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// AuditLogger writes block edit entries (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(worldDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteEdit(v EditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                { return l.w.Close() }
