package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/gen"
	"github.com/xilidan/workmate/services/transcription/consts"
	"github.com/xilidan/workmate/services/transcription/entity"
	"github.com/xilidan/workmate/services/transcription/events"
	"github.com/xilidan/workmate/services/transcription/observability"
	"github.com/xilidan/workmate/services/transcription/runlock"
	"github.com/xilidan/workmate/services/transcription/storage"
	"github.com/xilidan/workmate/services/transcription/tier"
)

const stageDocuments = "documents"

// Job is one accepted upload waiting to be processed.
type Job struct {
	MeetingID    string
	Audio        *entity.UploadedAudio
	SyncCalendar bool
	Lease        runlock.Lease
}

type Deps struct {
	Store       storage.Storage
	Transcriber Transcriber
	Analyzer    Analyzer
	Calendar    CalendarClient
	Audio       AudioStore
	Publisher   events.Publisher
	Policies    tier.Table
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer
	Log         *slog.Logger

	// CalendarTimeout bounds the detached calendar dispatch.
	CalendarTimeout time.Duration
	IDs             gen.UUIDGenerator
	Now             func() time.Time
}

// Orchestrator drives one meeting from pending to a terminal status. Every
// transition is persisted before the next stage starts.
type Orchestrator struct {
	Deps
	background sync.WaitGroup
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.IDs == nil {
		d.IDs = gen.UUID()
	}
	if d.Publisher == nil {
		d.Publisher = events.NewNop()
	}
	if d.Tracer == nil {
		d.Tracer = observability.NewTracer()
	}
	if d.CalendarTimeout == 0 {
		d.CalendarTimeout = 30 * time.Second
	}
	return &Orchestrator{Deps: d}
}

// Process runs the pipeline for job and returns the status the record rests in.
// Audio is removed and the lease released exactly once, whatever happens.
func (o *Orchestrator) Process(ctx context.Context, job Job) (final entity.Status, err error) {
	log := o.Log.With(slog.String("meeting_id", job.MeetingID))
	stage := entity.StatusPending
	tierLabel := "unknown"

	ctx, span := o.Tracer.StartRunSpan(ctx, job.MeetingID, "")
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic",
				slog.String("stage", string(stage)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			final = o.fail(ctx, job.MeetingID, fmt.Sprintf(consts.InternalErrorFormat, stage))
			err = fmt.Errorf("%w: panic during %s", apperrors.ErrInternal, stage)
		}

		o.cleanup(log, job)
		o.Metrics.RunsFinished.WithLabelValues(string(final), tierLabel).Inc()
		observability.EndSpan(span, err)
		log.Info("pipeline finished", slog.String("status", string(final)))
	}()

	m, err := o.Store.GetMeeting(ctx, job.MeetingID)
	if err != nil {
		return entity.StatusPending, fmt.Errorf("load meeting: %w", err)
	}
	tierLabel = string(m.Tier)

	policy, err := o.Policies.For(m.Tier)
	if err != nil {
		return o.fail(ctx, job.MeetingID, err.Error()), err
	}

	// transcription
	stage = entity.StatusTranscribing
	if m, err = o.advance(ctx, m.ID, entity.StatusTranscribing, nil); err != nil {
		return o.failFault(ctx, log, job.MeetingID, stage, err)
	}

	transcript, err := o.transcribe(ctx, m, job.Audio, policy)
	if err != nil {
		log.Warn("transcription failed", slog.String("error", err.Error()))
		return o.fail(ctx, m.ID, apperrors.ProviderMessage(err)), err
	}
	transcript = policy.ApplyTranscript(transcript)

	m, err = o.advance(ctx, m.ID, entity.StatusTranscribed, func(rec *entity.Meeting) {
		text := transcript.Text
		rec.Transcript = &text
		rec.Segments = transcript.Segments
		if transcript.Language != "" {
			rec.Language = transcript.Language
		}
		if rec.Audio.Duration == 0 && transcript.Duration > 0 {
			rec.Audio.Duration = transcript.Duration
		}
	})
	if err != nil {
		return o.failFault(ctx, log, job.MeetingID, stage, err)
	}

	// analysis
	stage = entity.StatusAnalyzing
	if m, err = o.advance(ctx, m.ID, entity.StatusAnalyzing, nil); err != nil {
		return o.failFault(ctx, log, job.MeetingID, stage, err)
	}

	analysis, err := o.analyze(ctx, m, policy)
	if err != nil {
		log.Warn("analysis failed", slog.String("error", err.Error()))
		return o.fail(ctx, m.ID, apperrors.ProviderMessage(err)), err
	}

	m, err = o.advance(ctx, m.ID, entity.StatusAnalyzed, func(rec *entity.Meeting) {
		rec.Analysis = analysis
	})
	if err != nil {
		return o.failFault(ctx, log, job.MeetingID, stage, err)
	}
	stage = entity.StatusAnalyzed

	o.createTasks(ctx, log, m)
	if job.SyncCalendar {
		o.dispatchCalendar(ctx, log, m)
	}

	if !policy.Documents {
		if _, err := o.advance(ctx, m.ID, entity.StatusCompleted, o.markProcessed); err != nil {
			return o.failFault(ctx, log, job.MeetingID, stage, err)
		}
		return entity.StatusCompleted, nil
	}

	// documents are generated while the record rests at analyzed, so a failure
	// leaves transcript and analysis intact
	docs, err := o.generateDocuments(ctx, m, policy)
	if err != nil {
		log.Warn("document generation failed, keeping analysis", slog.String("error", err.Error()))
		if _, werr := o.Store.UpdateMeeting(context.WithoutCancel(ctx), m.ID, func(rec *entity.Meeting) error {
			rec.Warning = "document generation failed: " + apperrors.ProviderMessage(err)
			rec.UpdatedAt = o.Now().UTC()
			return nil
		}); werr != nil {
			log.Error("failed to record document warning", slog.String("error", werr.Error()))
		} else if rec, gerr := o.Store.GetMeeting(ctx, m.ID); gerr == nil {
			o.publish(ctx, log, rec)
		}
		return entity.StatusAnalyzed, nil
	}

	stage = entity.StatusDocumenting
	m, err = o.advance(ctx, m.ID, entity.StatusDocumenting, func(rec *entity.Meeting) {
		rec.Documents = docs
	})
	if err != nil {
		return o.failFault(ctx, log, job.MeetingID, stage, err)
	}
	if _, err := o.advance(ctx, m.ID, entity.StatusCompleted, o.markProcessed); err != nil {
		return o.failFault(ctx, log, job.MeetingID, stage, err)
	}
	return entity.StatusCompleted, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, m *entity.Meeting, audio *entity.UploadedAudio, policy tier.Policy) (*entity.TranscriptResult, error) {
	ctx, span := o.Tracer.StartStageSpan(ctx, string(entity.StatusTranscribing))
	start := o.Now()

	result, err := o.Transcriber.Transcribe(ctx, audio, entity.TranscriptionOptions{
		Tier:     m.Tier,
		Language: m.Language,
		Segments: policy.Segments,
		Diarize:  policy.Diarization,
	})
	if err == nil && result == nil {
		err = apperrors.Provider("transcription", "empty transcription result")
	}

	o.Metrics.StageSeconds.WithLabelValues(string(entity.StatusTranscribing), string(m.Tier)).Observe(o.Now().Sub(start).Seconds())
	observability.EndSpan(span, err)
	return result, err
}

func (o *Orchestrator) analyze(ctx context.Context, m *entity.Meeting, policy tier.Policy) (*entity.Analysis, error) {
	ctx, span := o.Tracer.StartStageSpan(ctx, string(entity.StatusAnalyzing))
	start := o.Now()

	analysis, err := o.Analyzer.Analyze(ctx, entity.AnalysisInput{
		MeetingID:  m.ID,
		Title:      m.Title,
		Tier:       m.Tier,
		Language:   m.Language,
		Transcript: deref(m.Transcript),
		Segments:   m.Segments,
		Extended:   policy.ExtendedAnalysis,
	})
	if err == nil && analysis == nil {
		err = apperrors.Provider("analysis", "empty analysis result")
	}

	o.Metrics.StageSeconds.WithLabelValues(string(entity.StatusAnalyzing), string(m.Tier)).Observe(o.Now().Sub(start).Seconds())
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return policy.ApplyAnalysis(analysis.Normalize()), nil
}

func (o *Orchestrator) generateDocuments(ctx context.Context, m *entity.Meeting, policy tier.Policy) (*entity.Documents, error) {
	ctx, span := o.Tracer.StartStageSpan(ctx, stageDocuments)
	start := o.Now()

	docs, err := o.Analyzer.GenerateDocuments(ctx, entity.DocumentInput{
		MeetingID:      m.ID,
		Title:          m.Title,
		MeetingDate:    m.MeetingDate,
		Transcript:     deref(m.Transcript),
		Analysis:       m.Analysis,
		RiskAssessment: policy.RiskAssessment,
	})
	if err == nil && docs.Empty() {
		err = apperrors.Provider("analysis", "no documents generated")
	}

	o.Metrics.StageSeconds.WithLabelValues(stageDocuments, string(m.Tier)).Observe(o.Now().Sub(start).Seconds())
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return policy.ApplyDocuments(docs), nil
}

// advance persists the transition to next, applying mutate in the same write.
func (o *Orchestrator) advance(ctx context.Context, id string, next entity.Status, mutate func(*entity.Meeting)) (*entity.Meeting, error) {
	m, err := o.Store.UpdateMeeting(ctx, id, func(rec *entity.Meeting) error {
		if !rec.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidState, rec.Status, next)
		}
		if mutate != nil {
			mutate(rec)
		}
		rec.Status = next
		rec.UpdatedAt = o.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.Log.Debug("meeting advanced",
		slog.String("meeting_id", id),
		slog.String("status", string(next)))
	o.Metrics.StageTransitions.WithLabelValues(string(next), string(m.Tier)).Inc()
	o.publish(ctx, o.Log, m)
	return m, nil
}

func (o *Orchestrator) markProcessed(rec *entity.Meeting) {
	now := o.Now().UTC()
	rec.ProcessedAt = &now
}

// fail moves the meeting to error with message. A record that is already
// terminal is left alone.
func (o *Orchestrator) fail(ctx context.Context, id, message string) entity.Status {
	ctx = context.WithoutCancel(ctx)
	m, err := o.advance(ctx, id, entity.StatusError, func(rec *entity.Meeting) {
		rec.ErrorMessage = message
	})
	if err != nil {
		if rec, gerr := o.Store.GetMeeting(ctx, id); gerr == nil {
			return rec.Status
		}
		o.Log.Error("failed to record pipeline error",
			slog.String("meeting_id", id),
			slog.String("error", err.Error()))
		return entity.StatusError
	}
	return m.Status
}

// failFault handles unexpected persistence faults with a redacted message.
func (o *Orchestrator) failFault(ctx context.Context, log *slog.Logger, id string, stage entity.Status, err error) (entity.Status, error) {
	log.Error("pipeline fault", slog.String("stage", string(stage)), slog.String("error", err.Error()))
	if errors.Is(err, apperrors.ErrInvalidState) {
		rec, gerr := o.Store.GetMeeting(context.WithoutCancel(ctx), id)
		if gerr == nil && rec.Status.IsTerminal() {
			return rec.Status, err
		}
	}
	return o.fail(ctx, id, fmt.Sprintf(consts.InternalErrorFormat, stage)), fmt.Errorf("%w: %v", apperrors.ErrInternal, err)
}

func (o *Orchestrator) publish(ctx context.Context, log *slog.Logger, m *entity.Meeting) {
	if err := o.Publisher.PublishStatus(context.WithoutCancel(ctx), events.NewStatusEvent(m)); err != nil {
		log.Warn("failed to publish status event",
			slog.String("meeting_id", m.ID),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) cleanup(log *slog.Logger, job Job) {
	if job.Audio != nil && o.Audio != nil {
		if err := o.Audio.Cleanup(job.MeetingID); err != nil {
			log.Error("failed to remove audio", slog.String("error", err.Error()))
		} else {
			log.Debug("audio removed")
		}
	}
	if job.Lease != nil {
		if err := job.Lease.Release(context.Background()); err != nil {
			log.Warn("failed to release run lock", slog.String("error", err.Error()))
		}
	}
}

// Wait blocks until detached side effects such as calendar dispatch finish.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
