// Package diagnostics keeps the append-only, per-day log of every drawer
// activation attempt.
package diagnostics

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level of a diagnostics entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const (
	filePrefix = "drawer-"
	fileSuffix = ".log"
	dayLayout  = "2006-01-02"
)

// Sink appends timestamped lines to <dir>/drawer-YYYY-MM-DD.log.
//
// Each line is written with a single write on an O_APPEND descriptor, so
// several processes can share the file without further locking.
type Sink struct {
	dir    string
	now    func() time.Time
	logger *zap.SugaredLogger

	mu   sync.Mutex
	day  string
	file *os.File
}

// Option configures a Sink.
type Option func(*Sink)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithLogger mirrors every entry to a zap logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Sink) { s.logger = l }
}

// NewSink creates the log directory if needed.
func NewSink(dir string, opts ...Option) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	s := &Sink{
		dir:    dir,
		now:    time.Now,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the file today's entries go to.
func (s *Sink) Path() string {
	return s.pathFor(s.now())
}

func (s *Sink) pathFor(t time.Time) string {
	return filepath.Join(s.dir, filePrefix+t.Format(dayLayout)+fileSuffix)
}

// Log appends one entry. kv is an alternating key/value list that becomes
// the JSON payload. Failures are reported to the zap logger only.
func (s *Sink) Log(level Level, msg string, kv ...any) {
	s.write(level, msg, nil, kv)
}

// With returns a Logger that adds fields to every entry's payload.
func (s *Sink) With(kv ...any) *Logger {
	return &Logger{sink: s, fields: kv}
}

func (s *Sink) write(level Level, msg string, fields, kv []any) {
	now := s.now()
	all := make([]any, 0, len(fields)+len(kv))
	all = append(all, fields...)
	all = append(all, kv...)

	switch level {
	case LevelError:
		s.logger.Errorw(msg, all...)
	case LevelWarn:
		s.logger.Warnw(msg, all...)
	default:
		s.logger.Infow(msg, all...)
	}

	line := formatLine(now, level, msg, all)

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileFor(now)
	if err != nil {
		s.logger.Warnw("diagnostics: cannot open log file", "error", err)
		return
	}
	if _, err := f.Write(line); err != nil {
		s.logger.Warnw("diagnostics: write failed", "path", f.Name(), "error", err)
	}
}

// fileFor returns the descriptor for t's day, rotating at midnight.
func (s *Sink) fileFor(t time.Time) (*os.File, error) {
	day := t.Format(dayLayout)
	if s.file != nil && s.day == day {
		return s.file, nil
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	f, err := os.OpenFile(s.pathFor(t), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s.file = f
	s.day = day
	return f, nil
}

// Close releases the current file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Tail returns the last n lines of today's file.
func (s *Sink) Tail(n int) ([]string, error) {
	f, err := os.Open(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

// formatLine renders "[timestamp] [LEVEL] message {payload}\n".
func formatLine(t time.Time, level Level, msg string, kv []any) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.WriteString(t.UTC().Format(time.RFC3339Nano))
	buf.WriteString("] [")
	buf.WriteString(string(level))
	buf.WriteString("] ")
	buf.WriteString(msg)

	if payload := toPayload(kv); len(payload) > 0 {
		if data, err := json.Marshal(payload); err == nil {
			buf.WriteByte(' ')
			buf.Write(data)
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func toPayload(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	payload := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 >= len(kv) {
			payload[key] = nil
			break
		}
		v := kv[i+1]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		payload[key] = v
	}
	return payload
}

// Logger is a Sink view with fixed payload fields.
type Logger struct {
	sink   *Sink
	fields []any
}

func (l *Logger) Info(msg string, kv ...any)  { l.sink.write(LevelInfo, msg, l.fields, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.sink.write(LevelWarn, msg, l.fields, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.sink.write(LevelError, msg, l.fields, kv) }
