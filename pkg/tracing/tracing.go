package tracing

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otlog "github.com/opentracing/opentracing-go/log"
	"github.com/uber/jaeger-client-go"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"

	"grid_bot/pkg/logger"
)

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// SampleRate доля сэмплируемых трейсов; 0 и 1 = все
	SampleRate float64 `mapstructure:"sample_rate"`
}

func (c Config) sampler() *jCfg.SamplerConfig {
	if c.SampleRate > 0 && c.SampleRate < 1 {
		return &jCfg.SamplerConfig{Type: jaeger.SamplerTypeProbabilistic, Param: c.SampleRate}
	}
	return &jCfg.SamplerConfig{Type: jaeger.SamplerTypeConst, Param: 1}
}

// InitTracer ставит глобальный jaeger-трейсер сервиса. С выключенным трейсингом
// остаётся noop-трейсер opentracing, спаны движков ничего не стоят.
func InitTracer(service string, conf Config) (opentracing.Tracer, func(), error) {
	if !conf.Enabled {
		return opentracing.NoopTracer{}, func() {}, nil
	}
	cfg := &jCfg.Configuration{
		ServiceName: service,
		Sampler:     conf.sampler(),
		Reporter: &jCfg.ReporterConfig{
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	tracer, closer, err := cfg.NewTracer(jCfg.Metrics(metrics.NullFactory))
	if err != nil {
		return nil, nil, fmt.Errorf("jaeger %s:%d: %w", conf.Host, conf.Port, err)
	}
	opentracing.SetGlobalTracer(tracer)

	return tracer, func() {
		if err := closer.Close(); err != nil {
			logger.Error("closing jaeger tracer: %v", err)
		}
	}, nil
}

// StartBotSpan спан операции над ботом пользователя.
func StartBotSpan(ctx context.Context, op string, userID int64, symbol string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, op)
	span.SetTag("user_id", userID)
	if symbol != "" {
		span.SetTag("symbol", symbol)
	}
	return span, ctx
}

// Finish закрывает спан и помечает его ошибкой, если она есть.
func Finish(span opentracing.Span, err error) {
	if err != nil {
		ext.Error.Set(span, true)
		span.LogFields(otlog.Error(err))
	}
	span.Finish()
}
