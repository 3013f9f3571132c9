package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "workmate.transcription"

const (
	AttrMeetingID = "meeting_id"
	AttrTier      = "tier"
	AttrStage     = "stage"
	AttrSequence  = "sequence"
)

const (
	SpanRun        = "pipeline.run"
	SpanStage      = "pipeline.stage"
	SpanLiveChunk  = "live.chunk"
	SpanCalendar   = "pipeline.calendar"
	SpanTaskCreate = "pipeline.tasks"
)

type Tracer struct {
	tracer trace.Tracer
}

func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

func (t *Tracer) StartRunSpan(ctx context.Context, meetingID, tier string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRun,
		trace.WithAttributes(
			attribute.String(AttrMeetingID, meetingID),
			attribute.String(AttrTier, tier),
		),
	)
}

func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanStage+"."+stage,
		trace.WithAttributes(attribute.String(AttrStage, stage)),
	)
}

func (t *Tracer) StartChunkSpan(ctx context.Context, meetingID string, seq int64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanLiveChunk,
		trace.WithAttributes(
			attribute.String(AttrMeetingID, meetingID),
			attribute.Int64(AttrSequence, seq),
		),
	)
}

func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name)
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
