package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
)

func TestInitTracerDisabled(t *testing.T) {
	tracer, closeFn, err := InitTracer("grid_bot", Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := tracer.(opentracing.NoopTracer); !ok {
		t.Fatalf("tracer = %T, want noop", tracer)
	}
}

func TestSampler(t *testing.T) {
	if s := (Config{SampleRate: 0.25}).sampler(); s.Type != "probabilistic" || s.Param != 0.25 {
		t.Fatalf("sampler = %+v", s)
	}
	if s := (Config{}).sampler(); s.Type != "const" || s.Param != 1 {
		t.Fatalf("sampler = %+v", s)
	}
}

func TestBotSpanTagsAndError(t *testing.T) {
	mt := mocktracer.New()
	prev := opentracing.GlobalTracer()
	opentracing.SetGlobalTracer(mt)
	defer opentracing.SetGlobalTracer(prev)

	span, ctx := StartBotSpan(context.Background(), "supervisor.Start", 7, "BTCUSDT")
	if opentracing.SpanFromContext(ctx) == nil {
		t.Fatal("span not in context")
	}
	Finish(span, errors.New("boom"))

	done := mt.FinishedSpans()
	if len(done) != 1 {
		t.Fatalf("finished = %d", len(done))
	}
	tags := done[0].Tags()
	if tags["user_id"] != int64(7) || tags["symbol"] != "BTCUSDT" || tags["error"] != true {
		t.Fatalf("tags = %v", tags)
	}
}
