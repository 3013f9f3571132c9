package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/logger"
	"github.com/xilidan/workmate/services/transcription/consts"
	"github.com/xilidan/workmate/services/transcription/entity"
	"github.com/xilidan/workmate/services/transcription/events"
	"github.com/xilidan/workmate/services/transcription/observability"
	"github.com/xilidan/workmate/services/transcription/storage"
	"github.com/xilidan/workmate/services/transcription/tier"
)

type mockTranscriber struct {
	mock.Mock
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audio *entity.UploadedAudio, opts entity.TranscriptionOptions) (*entity.TranscriptResult, error) {
	args := m.Called(ctx, audio, opts)
	if r := args.Get(0); r != nil {
		return r.(*entity.TranscriptResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, in entity.AnalysisInput) (*entity.Analysis, error) {
	args := m.Called(ctx, in)
	if r := args.Get(0); r != nil {
		return r.(*entity.Analysis), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAnalyzer) GenerateDocuments(ctx context.Context, in entity.DocumentInput) (*entity.Documents, error) {
	args := m.Called(ctx, in)
	if r := args.Get(0); r != nil {
		return r.(*entity.Documents), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCalendar struct {
	mock.Mock
}

func (m *mockCalendar) CreateEvents(ctx context.Context, cred entity.CalendarCredential, evs []entity.CalendarEvent) ([]string, error) {
	args := m.Called(ctx, cred, evs)
	return args.Get(0).([]string), args.Error(1)
}

type fakeAudio struct {
	mu       sync.Mutex
	cleanups map[string]int
}

func (f *fakeAudio) Cleanup(meetingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups[meetingID]++
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []entity.Status
}

func (p *recordingPublisher) PublishStatus(ctx context.Context, ev events.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, ev.Status)
	return nil
}

func (p *recordingPublisher) PublishLive(ctx context.Context, ev events.LiveEvent) error {
	return nil
}

type fakeLease struct {
	releases int
}

func (l *fakeLease) Key() string { return "m1" }

func (l *fakeLease) Release(ctx context.Context) error {
	l.releases++
	return nil
}

type failingTasks struct {
	storage.Storage
}

func (failingTasks) CreateTasks(ctx context.Context, tasks []entity.Task) error {
	return errors.New("tasks table unavailable")
}

type fixture struct {
	orch        *Orchestrator
	store       storage.Storage
	transcriber *mockTranscriber
	analyzer    *mockAnalyzer
	calendar    *mockCalendar
	audio       *fakeAudio
	publisher   *recordingPublisher
	metrics     *observability.Metrics
	lease       *fakeLease
}

var fixedNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, tr entity.Tier, wrap func(storage.Storage) storage.Storage) *fixture {
	t.Helper()
	f := &fixture{
		store:       storage.NewMemory(),
		transcriber: &mockTranscriber{},
		analyzer:    &mockAnalyzer{},
		calendar:    &mockCalendar{},
		audio:       &fakeAudio{cleanups: map[string]int{}},
		publisher:   &recordingPublisher{},
		metrics:     observability.NewNopMetrics(),
		lease:       &fakeLease{},
	}

	require.NoError(t, f.store.CreateMeeting(context.Background(), &entity.Meeting{
		ID:          "m1",
		OwnerID:     "owner-1",
		Title:       "Sprint review",
		Tier:        tr,
		Status:      entity.StatusPending,
		Language:    "en",
		MeetingDate: fixedNow,
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
	}))

	store := f.store
	if wrap != nil {
		store = wrap(store)
	}

	f.orch = NewOrchestrator(Deps{
		Store:       store,
		Transcriber: f.transcriber,
		Analyzer:    f.analyzer,
		Calendar:    f.calendar,
		Audio:       f.audio,
		Publisher:   f.publisher,
		Policies:    tier.Default(),
		Metrics:     f.metrics,
		Log:         logger.Discard(),
		Now:         func() time.Time { return fixedNow },
	})
	return f
}

func (f *fixture) job(size int64) Job {
	return Job{
		MeetingID: "m1",
		Audio: &entity.UploadedAudio{
			MeetingID: "m1",
			Path:      "/tmp/m1/m1.mp3",
			Metadata:  entity.AudioMetadata{Format: entity.FormatMP3, Size: size},
		},
		Lease: f.lease,
	}
}

func (f *fixture) meeting(t *testing.T) *entity.Meeting {
	t.Helper()
	m, err := f.store.GetMeeting(context.Background(), "m1")
	require.NoError(t, err)
	return m
}

func transcriptWithSegments() *entity.TranscriptResult {
	return &entity.TranscriptResult{
		Text:     "Alice will ship the beta. Bob owns the docs.",
		Language: "en",
		Segments: []entity.Segment{
			{Start: 0, End: 2.1, Text: "Alice will ship the beta.", Speaker: "SPEAKER_0"},
			{Start: 2.1, End: 4.0, Text: "Bob owns the docs.", Speaker: "SPEAKER_1"},
		},
	}
}

func analysisWithItems(n int) *entity.Analysis {
	a := &entity.Analysis{
		Summary:   "Release planning",
		KeyPoints: []string{"beta ships friday"},
		Risks:     []entity.Risk{{Description: "vendor delay"}},
		Sentiment: &entity.Sentiment{Overall: "positive", Score: 0.6},
	}
	for i := 0; i < n; i++ {
		a.ActionItems = append(a.ActionItems, entity.ActionItem{Description: "item " + string(rune('A'+i))})
	}
	return a
}

func TestProcessBasicTierCompletesWithoutDocuments(t *testing.T) {
	f := newFixture(t, entity.TierBasic, nil)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.MatchedBy(func(o entity.TranscriptionOptions) bool {
		return o.Tier == entity.TierBasic && !o.Segments && !o.Diarize
	})).Return(transcriptWithSegments(), nil)
	f.analyzer.On("Analyze", mock.Anything, mock.MatchedBy(func(in entity.AnalysisInput) bool {
		return !in.Extended && in.Transcript != ""
	})).Return(analysisWithItems(2), nil)

	status, err := f.orch.Process(context.Background(), f.job(10*consts.MB))
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, status)

	m := f.meeting(t)
	assert.Equal(t, entity.StatusCompleted, m.Status)
	require.NotNil(t, m.Transcript)
	assert.Nil(t, m.Segments, "basic tier has no segments")
	require.NotNil(t, m.Analysis)
	assert.Nil(t, m.Analysis.Risks)
	assert.Nil(t, m.Analysis.Sentiment)
	assert.Nil(t, m.Documents)
	assert.Empty(t, m.ErrorMessage)
	require.NotNil(t, m.ProcessedAt)

	tasks, _ := f.store.ListTasks(context.Background(), "m1")
	assert.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, entity.PriorityMedium, task.Priority)
		assert.Equal(t, "owner-1", task.OwnerID)
	}

	assert.Equal(t, []entity.Status{
		entity.StatusTranscribing, entity.StatusTranscribed, entity.StatusAnalyzing,
		entity.StatusAnalyzed, entity.StatusCompleted,
	}, f.publisher.statuses)
	assert.Equal(t, 1, f.audio.cleanups["m1"])
	assert.Equal(t, 1, f.lease.releases)
	f.analyzer.AssertNotCalled(t, "GenerateDocuments", mock.Anything, mock.Anything)
}

func TestProcessPremiumTierProducesDocumentsAndTasks(t *testing.T) {
	f := newFixture(t, entity.TierPremium, nil)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(transcriptWithSegments(), nil)
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(analysisWithItems(3), nil)
	f.analyzer.On("GenerateDocuments", mock.Anything, mock.MatchedBy(func(in entity.DocumentInput) bool {
		return in.Analysis != nil && len(in.Analysis.ActionItems) == 3 && in.RiskAssessment
	})).Return(&entity.Documents{
		Minutes:        "minutes",
		StatusEmail:    "email",
		TaskDocument:   "tasks",
		RiskAssessment: "risk report",
	}, nil)

	status, err := f.orch.Process(context.Background(), f.job(90*consts.MB))
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, status)

	m := f.meeting(t)
	require.Len(t, m.Segments, 2)
	assert.Equal(t, "SPEAKER_0", m.Segments[0].Speaker)
	require.NotNil(t, m.Documents)
	assert.Equal(t, "minutes", m.Documents.Minutes)
	assert.Equal(t, "risk report", m.Documents.RiskAssessment)
	assert.NotNil(t, m.Analysis.Sentiment)

	tasks, _ := f.store.ListTasks(context.Background(), "m1")
	assert.Len(t, tasks, 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.TasksCreated))

	assert.Equal(t, []entity.Status{
		entity.StatusTranscribing, entity.StatusTranscribed, entity.StatusAnalyzing,
		entity.StatusAnalyzed, entity.StatusDocumenting, entity.StatusCompleted,
	}, f.publisher.statuses)
}

func TestProcessTranscriptionFailureRecordsProviderMessage(t *testing.T) {
	f := newFixture(t, entity.TierPremium, nil)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperrors.Provider("whisper", "Rate limit reached for requests"))

	status, err := f.orch.Process(context.Background(), f.job(consts.MB))
	require.Error(t, err)
	assert.Equal(t, entity.StatusError, status)

	m := f.meeting(t)
	assert.Equal(t, entity.StatusError, m.Status)
	assert.Equal(t, "Rate limit reached for requests", m.ErrorMessage)
	assert.Nil(t, m.Transcript)
	assert.Nil(t, m.Analysis)
	f.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
	f.transcriber.AssertNumberOfCalls(t, "Transcribe", 1)
	assert.Equal(t, 1, f.audio.cleanups["m1"])
	assert.Equal(t, 1, f.lease.releases)
}

func TestProcessAnalysisFailureKeepsTranscript(t *testing.T) {
	f := newFixture(t, entity.TierBasic, nil)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(transcriptWithSegments(), nil)
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(nil, apperrors.Provider("llm", "context length exceeded"))

	status, err := f.orch.Process(context.Background(), f.job(consts.MB))
	require.Error(t, err)
	assert.Equal(t, entity.StatusError, status)

	m := f.meeting(t)
	assert.Equal(t, "context length exceeded", m.ErrorMessage)
	assert.NotNil(t, m.Transcript)
	assert.Nil(t, m.Analysis)

	tasks, _ := f.store.ListTasks(context.Background(), "m1")
	assert.Empty(t, tasks)
}

func TestProcessDocumentFailureLeavesAnalyzed(t *testing.T) {
	f := newFixture(t, entity.TierEnterprise, nil)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(transcriptWithSegments(), nil)
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(analysisWithItems(1), nil)
	f.analyzer.On("GenerateDocuments", mock.Anything, mock.Anything).Return(nil, apperrors.Provider("llm", "overloaded"))

	status, err := f.orch.Process(context.Background(), f.job(consts.MB))
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAnalyzed, status)

	m := f.meeting(t)
	assert.Equal(t, entity.StatusAnalyzed, m.Status)
	assert.NotNil(t, m.Transcript)
	assert.NotNil(t, m.Analysis)
	assert.Nil(t, m.Documents)
	assert.Contains(t, m.Warning, "overloaded")
	assert.Empty(t, m.ErrorMessage)
	assert.Equal(t, 1, f.audio.cleanups["m1"])

	tasks, _ := f.store.ListTasks(context.Background(), "m1")
	assert.Len(t, tasks, 1)
}

func TestProcessRecoversPanic(t *testing.T) {
	f := newFixture(t, entity.TierBasic, nil)
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(transcriptWithSegments(), nil)
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("nil map write with secret=abc")
	})

	status, err := f.orch.Process(context.Background(), f.job(consts.MB))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInternal)
	assert.Equal(t, entity.StatusError, status)

	m := f.meeting(t)
	assert.Equal(t, "internal error during analyzing", m.ErrorMessage)
	assert.NotContains(t, m.ErrorMessage, "secret")
	assert.Equal(t, 1, f.audio.cleanups["m1"])
	assert.Equal(t, 1, f.lease.releases)
}

func TestProcessTaskFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, entity.TierBasic, func(s storage.Storage) storage.Storage { return failingTasks{s} })
	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(transcriptWithSegments(), nil)
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(analysisWithItems(2), nil)

	status, err := f.orch.Process(context.Background(), f.job(consts.MB))
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TaskFailures))
}

func TestProcessRefusesTerminalMeeting(t *testing.T) {
	f := newFixture(t, entity.TierBasic, nil)
	_, err := f.store.UpdateMeeting(context.Background(), "m1", func(m *entity.Meeting) error {
		m.Status = entity.StatusCompleted
		return nil
	})
	require.NoError(t, err)

	status, err := f.orch.Process(context.Background(), f.job(consts.MB))
	require.Error(t, err)
	assert.Equal(t, entity.StatusCompleted, status)
	assert.Equal(t, entity.StatusCompleted, f.meeting(t).Status)
	f.transcriber.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.audio.cleanups["m1"])
}

func TestProcessDispatchesCalendarEvents(t *testing.T) {
	f := newFixture(t, entity.TierBasic, nil)
	require.NoError(t, f.store.SaveCalendarCredential(context.Background(), &entity.CalendarCredential{
		OwnerID: "owner-1", AccessToken: "tok", CalendarID: "primary",
	}))

	deadline := fixedNow.Add(72 * time.Hour)
	analysis := analysisWithItems(2)
	analysis.ActionItems[0].Deadline = &deadline

	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(transcriptWithSegments(), nil)
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(analysis, nil)
	f.calendar.On("CreateEvents", mock.Anything, mock.MatchedBy(func(c entity.CalendarCredential) bool {
		return c.AccessToken == "tok"
	}), mock.MatchedBy(func(evs []entity.CalendarEvent) bool {
		return len(evs) == 1 &&
			evs[0].End.Sub(evs[0].Start) == 30*time.Minute &&
			evs[0].ReminderMinutes == 10
	})).Return([]string{"evt-1"}, nil)

	job := f.job(consts.MB)
	job.SyncCalendar = true
	status, err := f.orch.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCompleted, status)

	f.orch.Wait()
	f.calendar.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CalendarEvents.WithLabelValues("created")))
}

func TestProcessCalendarFailureDoesNotAffectStatus(t *testing.T) {
	f := newFixture(t, entity.TierBasic, nil)
	require.NoError(t, f.store.SaveCalendarCredential(context.Background(), &entity.CalendarCredential{OwnerID: "owner-1"}))

	deadline := fixedNow.Add(time.Hour)
	analysis := analysisWithItems(1)
	analysis.ActionItems[0].Deadline = &deadline

	f.transcriber.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(transcriptWithSegments(), nil)
	f.analyzer.On("Analyze", mock.Anything, mock.Anything).Return(analysis, nil)
	f.calendar.On("CreateEvents", mock.Anything, mock.Anything, mock.Anything).Return([]string{}, errors.New("401 unauthorized"))

	job := f.job(consts.MB)
	job.SyncCalendar = true
	status, err := f.orch.Process(context.Background(), job)
	require.NoError(t, err)
	f.orch.Wait()

	assert.Equal(t, entity.StatusCompleted, status)
	assert.Equal(t, entity.StatusCompleted, f.meeting(t).Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CalendarEvents.WithLabelValues("failed")))
}

func TestTasksFromAnalysisDefaultsPriority(t *testing.T) {
	m := &entity.Meeting{
		ID:      "m1",
		OwnerID: "o1",
		Analysis: &entity.Analysis{ActionItems: []entity.ActionItem{
			{Description: "a"},
			{Description: "b", Priority: entity.PriorityHigh, Dependencies: []string{"a"}},
		}},
	}
	n := 0
	tasks := TasksFromAnalysis(m, func() string { n++; return string(rune('0' + n)) }, fixedNow)

	require.Len(t, tasks, 2)
	assert.Equal(t, entity.PriorityMedium, tasks[0].Priority)
	assert.Equal(t, entity.PriorityHigh, tasks[1].Priority)
	assert.Equal(t, []string{"a"}, tasks[1].Dependencies)
	assert.False(t, tasks[0].Completed)
	assert.Equal(t, "1", tasks[0].ID)
}
