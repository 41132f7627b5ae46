// Package logger provides context-aware and structured logging capabilities.
package logger

import (
	"context"
	"net/http"
	"os"

	"github.com/KretovDmitry/ledger-service/internal/config"
	"github.com/KretovDmitry/ledger-service/pkg/header"
	"github.com/google/uuid"
	sqldblogger "github.com/simukti/sqldb-logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a logger that supports log levels, context and structured logging.
type Logger interface {
	// With returns a logger based off the root logger and decorates it with
	// the given context and arguments.
	With(ctx context.Context, args ...any) Logger

	// Debug uses fmt.Sprint to construct and log a message at DEBUG level.
	Debug(args ...any)
	// Info uses fmt.Sprint to construct and log a message at INFO level.
	Info(args ...any)
	// Warn uses fmt.Sprint to construct and log a message at WARN level.
	Warn(args ...any)
	// Error uses fmt.Sprint to construct and log a message at ERROR level.
	Error(args ...any)

	// Debugf uses fmt.Sprintf to construct and log a message at DEBUG level.
	Debugf(format string, args ...any)
	// Infof uses fmt.Sprintf to construct and log a message at INFO level.
	Infof(format string, args ...any)
	// Warnf uses fmt.Sprintf to construct and log a message at WARN level.
	Warnf(format string, args ...any)
	// Errorf uses fmt.Sprintf to construct and log a message at ERROR level.
	Errorf(format string, args ...any)

	// Log writes a database query record. Implements sqldblogger.Logger.
	Log(ctx context.Context, level sqldblogger.Level, msg string, data map[string]any)

	// Sync flushes any buffered log entries.
	Sync() error
}

type logger struct {
	*zap.SugaredLogger
}

type contextKey int

const (
	requestIDKey contextKey = iota
	correlationIDKey
)

var _ sqldblogger.Logger = (Logger)(nil)

// New creates a new logger using the application configuration.
// Records go to stdout and, if a path is configured, to a rotated file.
func New(cfg *config.Config) Logger {
	level := zap.NewAtomicLevel()
	if l, err := zapcore.ParseLevel(cfg.Logger.Level); err == nil {
		level.SetLevel(l)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}

	if cfg.Logger.Path != "" {
		file := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Logger.Path,
			MaxSize:    cfg.Logger.MaxSizeMB,
			MaxBackups: cfg.Logger.MaxBackups,
			MaxAge:     cfg.Logger.MaxAgeDays,
		})
		cores = append(cores, zapcore.NewCore(encoder, file, level))
	}

	return NewWithZap(zap.New(zapcore.NewTee(cores...), zap.AddCaller()))
}

// NewWithZap creates a new logger using the preconfigured zap logger.
func NewWithZap(l *zap.Logger) Logger {
	return &logger{l.Sugar()}
}

// NewForTest returns a new logger and the corresponding observed logs
// which can be used in unit tests to verify log entries.
func NewForTest() (Logger, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.DebugLevel)
	return NewWithZap(zap.New(core)), recorded
}

// With returns a logger based off the root logger and decorates it with
// the given context and arguments.
//
// If the context contains request ID and/or correlation ID information
// (recorded via WithRequest()), they will be added to every log message
// generated by the new logger.
//
// The arguments should be specified as a sequence of name, value pairs
// with names being strings.
func (l *logger) With(ctx context.Context, args ...any) Logger {
	if ctx != nil {
		if id, ok := ctx.Value(requestIDKey).(string); ok {
			args = append(args, zap.String("request_id", id))
		}
		if id, ok := ctx.Value(correlationIDKey).(string); ok {
			args = append(args, zap.String("correlation_id", id))
		}
	}
	if len(args) > 0 {
		return &logger{l.SugaredLogger.With(args...)}
	}
	return l
}

func (l *logger) Log(ctx context.Context, level sqldblogger.Level, msg string, data map[string]any) {
	args := make([]any, 0, len(data)*2)
	for k, v := range data {
		args = append(args, k, v)
	}

	log := l.With(ctx, args...)

	switch level {
	case sqldblogger.LevelError:
		log.Error(msg)
	case sqldblogger.LevelInfo:
		log.Info(msg)
	default:
		log.Debug(msg)
	}
}

// WithRequest returns a context which knows the request ID and
// correlation ID in the given request. A fresh request ID is generated
// when the client did not send one.
func WithRequest(ctx context.Context, req *http.Request) context.Context {
	id := getRequestID(req)
	if id == "" {
		id = uuid.New().String()
	}
	ctx = context.WithValue(ctx, requestIDKey, id)
	if id := getCorrelationID(req); id != "" {
		ctx = context.WithValue(ctx, correlationIDKey, id)
	}
	return ctx
}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// getCorrelationID extracts the correlation ID from the HTTP request.
func getCorrelationID(req *http.Request) string {
	return req.Header.Get(header.CorrelationID)
}

// getRequestID extracts the request ID from the HTTP request.
func getRequestID(req *http.Request) string {
	return req.Header.Get(header.RequestID)
}
