package monitoring

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/logger"
)

// ZapLogger implements logger.Logger on top of zap. Its level can change at runtime.
type ZapLogger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

// NewZapLogger builds a logger writing to stdout.
func NewZapLogger(cfg *config.LogConfig) (*ZapLogger, error) {
	return newZapLogger(cfg, zapcore.AddSync(os.Stdout))
}

func newZapLogger(cfg *config.LogConfig, out zapcore.WriteSyncer) (*ZapLogger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	atomic := zap.NewAtomicLevelAt(level)

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "console":
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, out, atomic)
	return &ZapLogger{
		zl:    zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel)),
		level: atomic,
	}, nil
}

// SetLevel changes the minimum level of this logger and every logger derived from it.
func (l *ZapLogger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error { return l.zl.Sync() }

func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...logger.Field) {
	l.zl.Debug(msg, l.convertFields(ctx, fields)...)
}

func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...logger.Field) {
	l.zl.Info(msg, l.convertFields(ctx, fields)...)
}

func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...logger.Field) {
	l.zl.Warn(msg, l.convertFields(ctx, fields)...)
}

func (l *ZapLogger) Error(ctx context.Context, msg string, err error, fields ...logger.Field) {
	l.zl.Error(msg, append(l.convertFields(ctx, fields), zap.Error(err))...)
}

func (l *ZapLogger) Fatal(ctx context.Context, msg string, err error, fields ...logger.Field) {
	l.zl.Fatal(msg, append(l.convertFields(ctx, fields), zap.Error(err))...)
}

func (l *ZapLogger) WithFields(fields ...logger.Field) logger.Logger {
	return &ZapLogger{zl: l.zl.With(l.convertFields(context.Background(), fields)...), level: l.level}
}

func (l *ZapLogger) WithComponent(component string) logger.Logger {
	return &ZapLogger{zl: l.zl.With(zap.String("component", component)), level: l.level}
}

func (l *ZapLogger) convertFields(ctx context.Context, fields []logger.Field) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)+2)
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			zapFields = append(zapFields, zap.String("trace_id", sc.TraceID().String()))
		} else if traceID, ok := ctx.Value(constants.ContextKeyTraceID).(string); ok {
			zapFields = append(zapFields, zap.String("trace_id", traceID))
		}
		if requestID, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok {
			zapFields = append(zapFields, zap.String("request_id", requestID))
		}
	}
	for _, f := range fields {
		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}
	return zapFields
}
