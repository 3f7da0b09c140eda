package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config selects sinks and the minimum level. Console and file can be
// combined; with neither enabled the console sink is used anyway so the
// process is never silent.
type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Field appends one structured key/value to a log event. Later fields
// with the same key win.
type Field func(e *zerolog.Event)

func String(k, v string) Field { return func(e *zerolog.Event) { e.Str(k, v) } }

func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }

func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }

func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }

func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }

func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger writes structured events. A logger obtained from a Service keeps
// following the service's sinks across Apply calls. The zero value and
// Nop() are safe no-ops.
type Logger struct {
	svc    *Service
	static zerolog.Logger
	bound  bool
	fields []Field
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return Logger{static: zerolog.Nop(), bound: true}
}

func (l Logger) IsZero() bool {
	return l.svc == nil && !l.bound && len(l.fields) == 0
}

// With returns a logger that always carries the given fields.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = append(append([]Field(nil), l.fields...), fields...)
	return out
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) sink() zerolog.Logger {
	if l.svc != nil {
		return l.svc.current()
	}
	if l.bound {
		return l.static
	}
	return zerolog.Nop()
}

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	zl := l.sink()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if at := callerAt(3); at != "" {
		e.Str(zerolog.CallerFieldName, at)
	}
	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

// callerAt reports the call site as file:line with the path stripped.
func callerAt(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok || file == "" {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Service owns the sinks. Apply swaps level and outputs at runtime;
// loggers created from the service pick the change up on their next write.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *os.File

	root atomic.Value // zerolog.Logger
}

// New builds the service, applies cfg, and returns the root logger.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{}
	s.root.Store(zerolog.Nop())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

// Logger returns a fresh logger bound to the service.
func (s *Service) Logger() Logger { return Logger{svc: s} }

// Apply reconfigures sinks and level. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter())
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./kcommit.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level)).
		With().Timestamp().Logger()
	s.root.Store(zl)
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if f != nil {
		return f.Close()
	}
	return nil
}

func (s *Service) current() zerolog.Logger {
	if zl, ok := s.root.Load().(zerolog.Logger); ok {
		return zl
	}
	return zerolog.Nop()
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO", "":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
