// Package logger provides structured logging for RowStore
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with RowStore event helpers
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error, disabled
	Pretty     bool   // console output for development
	Output     io.Writer
	WithCaller bool
}

// ParseLevel maps a config level name to a zerolog level; unknown names mean info
func ParseLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// NewLogger creates a logger tagged with service=rowstore
func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Str("service", "rowstore")
	if cfg.WithCaller {
		ctx = ctx.Caller()
	}
	return &Logger{zlog: ctx.Logger()}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) Info(msg string) *zerolog.Event  { return l.zlog.Info().Str("msg", msg) }
func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }
func (l *Logger) Warn(msg string) *zerolog.Event  { return l.zlog.Warn().Str("msg", msg) }
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }

// WithFields returns a child logger carrying fields on every entry
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{zlog: l.zlog.With().Fields(fields).Logger()}
}

// StoreLogger returns a logger for row engine operations on one store file
func (l *Logger) StoreLogger(path string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "rowstore").Str("path", path).Logger()}
}

// outcome starts an event at lvl, or at error level carrying err when set
func (l *Logger) outcome(lvl zerolog.Level, err error) *zerolog.Event {
	if err != nil {
		return l.zlog.Error().Err(err)
	}
	return l.zlog.WithLevel(lvl)
}

// LogGrpcRequest logs a finished gRPC request
func (l *Logger) LogGrpcRequest(method string, duration time.Duration, err error) {
	l.outcome(zerolog.InfoLevel, err).
		Str("component", "grpc").
		Str("method", method).
		Dur("duration_ms", duration).
		Msg("gRPC request completed")
}

// LogTxOperation logs the end of a write transaction. Successful commits
// and aborts are debug noise; failures are errors.
func (l *Logger) LogTxOperation(outcome string, duration time.Duration, version uint64, err error) {
	l.outcome(zerolog.DebugLevel, err).
		Str("component", "rowstore").
		Str("outcome", outcome).
		Dur("duration_ms", duration).
		Uint64("version", version).
		Msg("Write transaction finished")
}

// LogTableCreated logs a new table in the catalog
func (l *Logger) LogTableCreated(table string, id uint32, fields int) {
	l.zlog.Info().
		Str("table", table).
		Uint32("table_id", id).
		Int("fields", fields).
		Msg("Table created")
}

func (l *Logger) serverEvent(event string) *zerolog.Event {
	return l.zlog.Info().Str("event", event)
}

// LogServerStart logs server startup
func (l *Logger) LogServerStart(port int, dbPath string) {
	l.serverEvent("server_start").Int("port", port).Str("database", dbPath).Msg("RowStore server starting")
}

// LogServerReady logs when the server accepts connections
func (l *Logger) LogServerReady(port int) {
	l.serverEvent("server_ready").Int("port", port).Msg("RowStore server ready to accept connections")
}

// LogServerShutdown logs server shutdown
func (l *Logger) LogServerShutdown() {
	l.serverEvent("server_shutdown").Msg("RowStore server shutting down")
}

var globalLogger *Logger

// InitGlobalLogger installs the process-wide logger, also as zerolog's log.Logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = globalLogger.zlog
}

// GetGlobalLogger returns the process-wide logger, creating a pretty info
// logger on first use
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{Level: "info", Pretty: true})
	}
	return globalLogger
}
