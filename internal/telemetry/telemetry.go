// =============================================================================
// RetrievalFlow 遥测初始化
// =============================================================================
// 基于 OTLP gRPC 导出检索链路的 trace 与 metric。telemetry 关闭时
// 不创建任何导出器，全局 provider 保持 noop，检索路径上的埋点零开销。
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/BaSui01/retrievalflow/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// instrumentationPrefix 本服务各组件 tracer/meter 的命名空间前缀.
const instrumentationPrefix = "retrievalflow/"

// defaultOTLPEndpoint 未配置端点时的 collector 地址.
const defaultOTLPEndpoint = "localhost:4317"

// Tracer 返回组件级 tracer，如 Tracer("search") → "retrievalflow/search".
// telemetry 关闭时返回全局 noop tracer，调用方无需判空.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + component)
}

// Providers 持有 SDK 级的 trace 与 metric provider.
// telemetry 关闭时两个字段为 nil，Shutdown 是空操作.
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init 按配置初始化 OTel SDK 并注册为全局 provider.
// cfg.Enabled 为 false 时不连接任何外部服务，返回 noop Providers.
func Init(cfg config.TelemetryConfig, logger *zap.Logger) (*Providers, error) {
	if !cfg.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = defaultOTLPEndpoint
	}

	ctx := context.Background()

	res, err := serviceResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	tp, err := newTraceProvider(ctx, endpoint, res, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(ctx, endpoint, res)
	if err != nil {
		// metric 导出器失败时回收已建的 trace provider
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("endpoint", endpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sample_rate", clampSampleRate(cfg.SampleRate)),
	)

	return &Providers{tp: tp, mp: mp}, nil
}

// serviceResource 构建携带服务标识的 OTel resource.
func serviceResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(buildVersion()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	return res, nil
}

func newTraceProvider(ctx context.Context, endpoint string, res *resource.Resource, sampleRate float64) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(clampSampleRate(sampleRate))),
	), nil
}

func newMeterProvider(ctx context.Context, endpoint string, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	), nil
}

// clampSampleRate 将采样率收敛到 [0, 1].
func clampSampleRate(rate float64) float64 {
	switch {
	case rate < 0:
		return 0
	case rate > 1:
		return 1
	default:
		return rate
	}
}

// Shutdown 刷出未导出的 span/metric 并关闭导出器.
// 对 nil 或 noop Providers 调用是安全的.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// buildVersion 从 Go 构建信息中提取模块版本，取不到时回落为 "dev".
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
