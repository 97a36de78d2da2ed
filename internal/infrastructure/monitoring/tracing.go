package monitoring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/logger"
)

// TracingManager 管理 OpenTelemetry 追踪
type TracingManager struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	logger   logger.Logger
}

// NewTracingManager 创建追踪管理器；关闭追踪时返回全局 no-op tracer
func NewTracingManager(cfg *config.TracingConfig, log logger.Logger) (*TracingManager, error) {
	if !cfg.Enabled {
		log.Info(context.Background(), "Tracing is disabled")
		return &TracingManager{
			tracer: otel.Tracer(constants.ServiceName),
			logger: log,
		}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(
		jaeger.WithEndpoint(cfg.JaegerEndpoint),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)
	tm := newTracingManager(provider, log)

	log.Info(context.Background(), "Tracing initialized successfully",
		logger.String("endpoint", cfg.JaegerEndpoint),
		logger.Float64("sample_rate", cfg.SamplingRate),
	)
	return tm, nil
}

// newTracingManager 安装全局 TracerProvider 和 Propagator
func newTracingManager(provider *sdktrace.TracerProvider, log logger.Logger) *TracingManager {
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &TracingManager{
		tracer:   provider.Tracer(constants.ServiceName),
		provider: provider,
		logger:   log,
	}
}

// Tracer 返回底层 tracer，供调度器等组件注入
func (tm *TracingManager) Tracer() trace.Tracer {
	return tm.tracer
}

// StartSpan 开始一个新的 Span
func (tm *TracingManager) StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError 记录错误到 Span
func (tm *TracingManager) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID 获取当前 Trace ID
func (tm *TracingManager) GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Shutdown 关闭追踪管理器
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.provider == nil {
		return nil
	}
	if err := tm.provider.Shutdown(ctx); err != nil {
		tm.logger.Error(ctx, "Failed to shutdown tracing provider", err)
		return err
	}
	tm.logger.Info(ctx, "Tracing provider shutdown successfully")
	return nil
}

// TraceOperation 追踪一个操作的辅助函数
func TraceOperation(ctx context.Context, tm *TracingManager, operationName string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := tm.StartSpan(ctx, operationName, attrs...)
	defer span.End()

	if err := fn(ctx); err != nil {
		tm.RecordError(ctx, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
