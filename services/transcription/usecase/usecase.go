package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/gen"
	"github.com/xilidan/workmate/pkg/logger"
	"github.com/xilidan/workmate/services/transcription/consts"
	"github.com/xilidan/workmate/services/transcription/entity"
	"github.com/xilidan/workmate/services/transcription/ingest"
	"github.com/xilidan/workmate/services/transcription/live"
	"github.com/xilidan/workmate/services/transcription/pipeline"
	"github.com/xilidan/workmate/services/transcription/runlock"
	"github.com/xilidan/workmate/services/transcription/storage"
)

var meetingIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

type Usecase interface {
	// Upload accepts one audio file and schedules its pipeline run. It returns
	// as soon as the run is queued.
	Upload(ctx context.Context, req *entity.UploadRequest, body io.Reader) (*entity.UploadResponse, error)

	GetStatus(ctx context.Context, q entity.MeetingQuery) (*entity.StatusResponse, error)
	GetTranscript(ctx context.Context, q entity.MeetingQuery) (*entity.TranscriptResponse, error)
	GetAnalysis(ctx context.Context, q entity.MeetingQuery) (*entity.AnalysisResponse, error)
	GetDocuments(ctx context.Context, q entity.MeetingQuery) (*entity.DocumentsResponse, error)
	ListTasks(ctx context.Context, q entity.MeetingQuery) ([]entity.Task, error)

	GetMeeting(ctx context.Context, q entity.MeetingQuery) (*entity.Meeting, error)
	ListMeetings(ctx context.Context, q entity.MeetingListQuery) (*entity.MeetingListResponse, error)

	SaveCalendarCredential(ctx context.Context, cred *entity.CalendarCredential) error

	ServeLive(ctx context.Context, conn live.Conn, p live.SessionParams) error
	// LiveAnalytics and LiveCommand reach the running live session of a
	// meeting; without one they fail with a not found error.
	LiveAnalytics(ctx context.Context, q entity.MeetingQuery) (*entity.LiveAnalyticsResponse, error)
	LiveCommand(ctx context.Context, q entity.MeetingQuery, command string) (*entity.VoiceCommandResponse, error)
	LiveSessions() int
}

type AudioIngest interface {
	Accept(ctx context.Context, meetingID string, r io.Reader, contentType string, t entity.Tier) (*entity.UploadedAudio, error)
	Cleanup(meetingID string) error
}

type JobQueue interface {
	Submit(job pipeline.Job) error
}

type LiveController interface {
	Serve(ctx context.Context, conn live.Conn, p live.SessionParams) error
	Analytics(meetingID, ownerID string) (*entity.LiveAnalyticsResponse, error)
	Command(meetingID, ownerID, raw string) (*entity.VoiceCommandResponse, error)
	Active() int
}

type Deps struct {
	Store  storage.Storage
	Ingest AudioIngest
	Locker runlock.Locker
	Runner JobQueue
	Live   LiveController
	Log    *slog.Logger

	IDs gen.UUIDGenerator
	Now func() time.Time
}

type usecase struct {
	Deps
}

func New(d Deps) Usecase {
	if d.IDs == nil {
		d.IDs = gen.UUID()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &usecase{Deps: d}
}

func (u *usecase) Upload(ctx context.Context, req *entity.UploadRequest, body io.Reader) (*entity.UploadResponse, error) {
	t, ok := entity.ParseTier(req.Tier)
	if !ok {
		return nil, apperrors.InvalidTier(req.Tier)
	}
	// reject undeclared formats before anything is locked or written
	if _, err := ingest.FormatForMIME(req.MIMEType); err != nil {
		return nil, err
	}

	meetingID := req.MeetingID
	if meetingID == "" {
		meetingID = u.IDs.NextString()
	}
	if !meetingIDPattern.MatchString(meetingID) {
		return nil, apperrors.InvalidInput("invalid meeting id %q", meetingID)
	}

	log := u.ctxLog(ctx).With(
		slog.String("meeting_id", meetingID),
		slog.String("owner_id", req.OwnerID),
		slog.String("tier", string(t)))
	log.Debug("upload received", slog.String("mime_type", req.MIMEType), slog.String("filename", req.Filename))

	lease, err := u.Locker.TryLock(ctx, meetingID)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			return nil, apperrors.Conflict("a run is already in progress for meeting %s", meetingID)
		}
		return nil, err
	}
	release := func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release run lock", slog.String("error", err.Error()))
		}
	}

	m, err := u.loadOrCreate(ctx, meetingID, req, t)
	if err != nil {
		release()
		return nil, err
	}

	audio, err := u.Ingest.Accept(ctx, meetingID, body, req.MIMEType, t)
	if err != nil {
		log.Info("upload rejected", slog.String("error", err.Error()))
		release()
		return nil, err
	}

	m, err = u.Store.UpdateMeeting(ctx, meetingID, func(rec *entity.Meeting) error {
		if rec.Status != entity.StatusPending {
			return apperrors.Conflict("meeting %s is %s", rec.ID, rec.Status)
		}
		rec.Tier = t
		rec.Audio = audio.Metadata
		rec.SyncCalendar = req.SyncCalendar
		if req.Title != "" {
			rec.Title = req.Title
		}
		if req.Language != "" {
			rec.Language = req.Language
		}
		if !req.MeetingDate.IsZero() {
			rec.MeetingDate = req.MeetingDate.UTC()
		}
		rec.UpdatedAt = u.Now().UTC()
		return nil
	})
	if err != nil {
		u.discard(log, meetingID)
		release()
		return nil, err
	}

	err = u.Runner.Submit(pipeline.Job{
		MeetingID:    meetingID,
		Audio:        audio,
		SyncCalendar: req.SyncCalendar,
		Lease:        lease,
	})
	if err != nil {
		log.Warn("could not queue run", slog.String("error", err.Error()))
		u.discard(log, meetingID)
		release()
		return nil, err
	}

	log.Info("upload accepted, run queued",
		slog.String("format", string(audio.Metadata.Format)),
		slog.Int64("size", audio.Metadata.Size))

	return &entity.UploadResponse{
		MeetingID:  meetingID,
		Status:     "processing",
		FileFormat: audio.Metadata.Format,
		FileSize:   audio.Metadata.Size,
		Tier:       t,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// loadOrCreate returns the pending record for meetingID, creating it on the
// first upload. Records past pending or owned by someone else are refused.
func (u *usecase) loadOrCreate(ctx context.Context, meetingID string, req *entity.UploadRequest, t entity.Tier) (*entity.Meeting, error) {
	m, err := u.Store.GetMeeting(ctx, meetingID)
	switch {
	case err == nil:
		if m.OwnerID != req.OwnerID {
			return nil, apperrors.Conflict("meeting %s belongs to another owner", meetingID)
		}
		if m.Status != entity.StatusPending {
			return nil, apperrors.Conflict("meeting %s is %s", meetingID, m.Status)
		}
		return m, nil
	case !apperrors.IsNotFound(err):
		return nil, err
	}

	now := u.Now().UTC()
	m = &entity.Meeting{
		ID:           meetingID,
		OwnerID:      req.OwnerID,
		Title:        req.Title,
		MeetingDate:  req.MeetingDate.UTC(),
		Tier:         t,
		Status:       entity.StatusPending,
		Language:     req.Language,
		SyncCalendar: req.SyncCalendar,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if m.MeetingDate.IsZero() {
		m.MeetingDate = now
	}
	if m.Language == "" {
		m.Language = consts.DefaultLanguage
	}
	if m.Title == "" {
		m.Title = "Meeting " + now.Format("2006-01-02 15:04")
	}

	if err := u.Store.CreateMeeting(ctx, m); err != nil {
		return nil, err
	}
	u.ctxLog(ctx).Debug("meeting record created", slog.String("meeting_id", meetingID))
	return m, nil
}

// ctxLog prefers the request-scoped logger carried by ctx.
func (u *usecase) ctxLog(ctx context.Context) *slog.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	return u.Log
}

func (u *usecase) discard(log *slog.Logger, meetingID string) {
	if err := u.Ingest.Cleanup(meetingID); err != nil {
		log.Warn("failed to remove upload", slog.String("error", err.Error()))
	}
}

// load returns the meeting visible to q.OwnerID. Someone else's meeting is
// reported as missing.
func (u *usecase) load(ctx context.Context, q entity.MeetingQuery) (*entity.Meeting, error) {
	m, err := u.Store.GetMeeting(ctx, q.MeetingID)
	if err != nil {
		return nil, err
	}
	if q.OwnerID != "" && m.OwnerID != q.OwnerID {
		return nil, apperrors.NotFound("meeting %s", q.MeetingID)
	}
	return m, nil
}

func (u *usecase) GetStatus(ctx context.Context, q entity.MeetingQuery) (*entity.StatusResponse, error) {
	m, err := u.load(ctx, q)
	if err != nil {
		return nil, err
	}
	return &entity.StatusResponse{
		MeetingID:   m.ID,
		Status:      m.Status,
		Tier:        m.Tier,
		Error:       m.ErrorMessage,
		Warning:     m.Warning,
		ProcessedAt: m.ProcessedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func (u *usecase) GetTranscript(ctx context.Context, q entity.MeetingQuery) (*entity.TranscriptResponse, error) {
	m, err := u.load(ctx, q)
	if err != nil {
		return nil, err
	}
	if m.Transcript == nil {
		return nil, apperrors.NotFound("transcript for meeting %s is not available yet", m.ID)
	}
	return &entity.TranscriptResponse{
		MeetingID: m.ID,
		Text:      *m.Transcript,
		Language:  m.Language,
		Segments:  m.Segments,
		Audio:     m.Audio,
	}, nil
}

func (u *usecase) GetAnalysis(ctx context.Context, q entity.MeetingQuery) (*entity.AnalysisResponse, error) {
	m, err := u.load(ctx, q)
	if err != nil {
		return nil, err
	}
	if m.Analysis == nil {
		return nil, apperrors.NotFound("analysis for meeting %s is not available yet", m.ID)
	}
	return &entity.AnalysisResponse{MeetingID: m.ID, Analysis: m.Analysis}, nil
}

func (u *usecase) GetDocuments(ctx context.Context, q entity.MeetingQuery) (*entity.DocumentsResponse, error) {
	m, err := u.load(ctx, q)
	if err != nil {
		return nil, err
	}
	if m.Status != entity.StatusCompleted || m.Documents == nil {
		return nil, apperrors.NotFound("documents for meeting %s are not available", m.ID)
	}
	return &entity.DocumentsResponse{MeetingID: m.ID, Documents: m.Documents}, nil
}

func (u *usecase) ListTasks(ctx context.Context, q entity.MeetingQuery) ([]entity.Task, error) {
	m, err := u.load(ctx, q)
	if err != nil {
		return nil, err
	}
	return u.Store.ListTasks(ctx, m.ID)
}

func (u *usecase) GetMeeting(ctx context.Context, q entity.MeetingQuery) (*entity.Meeting, error) {
	return u.load(ctx, q)
}

func (u *usecase) ListMeetings(ctx context.Context, q entity.MeetingListQuery) (*entity.MeetingListResponse, error) {
	if q.OwnerID == "" {
		return nil, apperrors.InvalidInput("owner is required")
	}
	if q.Skip < 0 || q.Limit < 0 {
		return nil, apperrors.InvalidInput("skip and limit must not be negative")
	}
	if q.Limit == 0 {
		q.Limit = consts.DefaultListLimit
	}
	q.Limit = min(q.Limit, consts.MaxListLimit)

	meetings, err := u.Store.ListMeetings(ctx, q)
	if err != nil {
		return nil, err
	}
	u.ctxLog(ctx).Debug("meetings listed",
		slog.Int("skip", q.Skip),
		slog.Int("limit", q.Limit),
		slog.Int("count", len(meetings)))
	return &entity.MeetingListResponse{Meetings: meetings, Skip: q.Skip, Limit: q.Limit}, nil
}

func (u *usecase) SaveCalendarCredential(ctx context.Context, cred *entity.CalendarCredential) error {
	if cred.OwnerID == "" {
		return apperrors.InvalidInput("owner is required")
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		return apperrors.InvalidInput("access_token is required")
	}
	if cred.TimeZone != "" {
		if _, err := time.LoadLocation(cred.TimeZone); err != nil {
			return apperrors.InvalidInput("unknown time zone %q", cred.TimeZone)
		}
	}
	cred.UpdatedAt = u.Now().UTC()

	if err := u.Store.SaveCalendarCredential(ctx, cred); err != nil {
		return err
	}
	u.ctxLog(ctx).Info("calendar credential saved", slog.String("owner_id", cred.OwnerID))
	return nil
}

func (u *usecase) ServeLive(ctx context.Context, conn live.Conn, p live.SessionParams) error {
	return u.Live.Serve(ctx, conn, p)
}

func (u *usecase) LiveAnalytics(ctx context.Context, q entity.MeetingQuery) (*entity.LiveAnalyticsResponse, error) {
	return u.Live.Analytics(q.MeetingID, q.OwnerID)
}

func (u *usecase) LiveCommand(ctx context.Context, q entity.MeetingQuery, command string) (*entity.VoiceCommandResponse, error) {
	resp, err := u.Live.Command(q.MeetingID, q.OwnerID, command)
	if err != nil {
		return nil, err
	}
	u.ctxLog(ctx).Info("voice command applied to live session",
		slog.String("meeting_id", q.MeetingID),
		slog.String("intent", string(resp.Command.Intent)))
	return resp, nil
}

func (u *usecase) LiveSessions() int {
	return u.Live.Active()
}
