// Package live runs real-time meeting sessions: audio chunks are transcribed
// as they arrive while commands and analytics are answered from rolling state.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/gen"
	"github.com/xilidan/workmate/services/transcription/consts"
	"github.com/xilidan/workmate/services/transcription/entity"
	"github.com/xilidan/workmate/services/transcription/events"
	"github.com/xilidan/workmate/services/transcription/observability"
	"github.com/xilidan/workmate/services/transcription/storage"
	"github.com/xilidan/workmate/services/transcription/tier"
)

// ErrClientClosed is returned by Conn.ReadMessage when the client closed the
// session cleanly.
var ErrClientClosed = errors.New("live: client closed the connection")

// Conn is one bidirectional session transport.
type Conn interface {
	ReadMessage(ctx context.Context) (entity.LiveInbound, error)
	WriteMessage(ctx context.Context, msg any) error
	// Close sends a close frame with code and reason and releases the transport.
	Close(code int, reason string) error
}

// ChunkTranscriber is the streaming transcription capability.
type ChunkTranscriber interface {
	TranscribeChunk(ctx context.Context, req entity.ChunkRequest) (*entity.ChunkResult, error)
}

const (
	ModeLive          = "live"
	ModeAnalyticsOnly = "analytics_only"
)

type SessionParams struct {
	MeetingID string
	OwnerID   string
	Tier      entity.Tier
	Platform  entity.Platform
	Language  string
}

type Config struct {
	// AllowDegraded accepts ineligible tiers read-only instead of closing them.
	AllowDegraded bool
	MaxInFlight   int
	// ChunkBacklog caps decoded chunks waiting for a transcription slot. The
	// reader stops reading once the backlog is full.
	ChunkBacklog  int
	ChunkTimeout  time.Duration
	FoldTimeout   time.Duration
	WriteBuffer   int
}

type Controller struct {
	cfg         Config
	transcriber ChunkTranscriber
	store       storage.Storage
	publisher   events.Publisher
	policies    tier.Table
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	log         *slog.Logger
	ids         gen.UUIDGenerator
	now         func() time.Time

	mu sync.RWMutex
	// sessions indexes running sessions by meeting id, oldest first.
	sessions map[string][]*session
	active   int
}

func NewController(
	cfg Config,
	transcriber ChunkTranscriber,
	store storage.Storage,
	publisher events.Publisher,
	policies tier.Table,
	metrics *observability.Metrics,
	log *slog.Logger,
) *Controller {
	log.Debug("creating live session controller",
		slog.Bool("allow_degraded", cfg.AllowDegraded),
		slog.Int("max_in_flight", cfg.MaxInFlight))

	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = consts.DefaultLiveMaxInFlight
	}
	if cfg.ChunkBacklog < 1 {
		cfg.ChunkBacklog = consts.DefaultLiveChunkBacklog
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = 30 * time.Second
	}
	if cfg.FoldTimeout <= 0 {
		cfg.FoldTimeout = 10 * time.Second
	}
	if cfg.WriteBuffer < 1 {
		cfg.WriteBuffer = 64
	}
	if publisher == nil {
		publisher = events.NewNop()
	}

	return &Controller{
		cfg:         cfg,
		transcriber: transcriber,
		store:       store,
		publisher:   publisher,
		policies:    policies,
		metrics:     metrics,
		tracer:      observability.NewTracer(),
		log:         log,
		ids:         gen.UUID(),
		now:         time.Now,
		sessions:    make(map[string][]*session),
	}
}

// Active returns the number of sessions currently being served.
func (c *Controller) Active() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Analytics returns the rolling analytics of the newest session serving
// meetingID. Sessions of other owners are reported as not found.
func (c *Controller) Analytics(meetingID, ownerID string) (*entity.LiveAnalyticsResponse, error) {
	s, err := c.lookup(meetingID, ownerID)
	if err != nil {
		return nil, err
	}
	return &entity.LiveAnalyticsResponse{
		MeetingID: meetingID,
		SessionID: s.id,
		State:     s.currentState(),
		Analytics: s.snapshot(),
	}, nil
}

// Command applies a voice command to the newest session serving meetingID,
// exactly as if the client had sent it over the socket.
func (c *Controller) Command(meetingID, ownerID, raw string) (*entity.VoiceCommandResponse, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperrors.InvalidInput("command is required")
	}
	s, err := c.lookup(meetingID, ownerID)
	if err != nil {
		return nil, err
	}
	return &entity.VoiceCommandResponse{
		MeetingID: meetingID,
		SessionID: s.id,
		Command:   s.applyCommand(raw),
	}, nil
}

func (c *Controller) lookup(meetingID, ownerID string) (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	running := c.sessions[meetingID]
	for i := len(running) - 1; i >= 0; i-- {
		if running[i].params.OwnerID == ownerID {
			return running[i], nil
		}
	}
	return nil, apperrors.NotFound("no live session for meeting %s", meetingID)
}

// Eligible reports the session mode for tier. Tiers without live
// transcription get the read-only mode only when degraded sessions are allowed.
func (c *Controller) Eligible(t entity.Tier) (string, bool) {
	policy, err := c.policies.For(t)
	if err != nil {
		return "", false
	}
	if policy.LiveTranscription {
		return ModeLive, true
	}
	if c.cfg.AllowDegraded {
		return ModeAnalyticsOnly, true
	}
	return "", false
}

// Serve runs one session on conn until the client ends it, the transport
// fails, or ctx is cancelled. Ineligible tiers are closed before any message
// is read. The session summary is folded into the meeting record exactly once.
func (c *Controller) Serve(ctx context.Context, conn Conn, p SessionParams) error {
	log := c.log.With(
		slog.String("meeting_id", p.MeetingID),
		slog.String("tier", string(p.Tier)),
		slog.String("platform", string(p.Platform)))

	mode, ok := c.Eligible(p.Tier)
	if !ok {
		log.Info("rejecting live session, tier not eligible")
		c.metrics.LiveSessionsTotal.WithLabelValues("rejected").Inc()
		if err := conn.Close(consts.CloseTierNotEligible, consts.ReasonTierNotEligible); err != nil {
			log.Debug("close after rejection failed", slog.String("error", err.Error()))
		}
		return fmt.Errorf("%w: %s", apperrors.ErrForbidden, consts.ReasonTierNotEligible)
	}
	if p.Language == "" {
		p.Language = consts.DefaultLanguage
	}

	s := c.newSession(conn, p, mode, log)
	c.register(s)
	defer c.unregister(s)

	log.Info("live session started", slog.String("session_id", s.id), slog.String("mode", mode))
	return s.run(ctx)
}

func (c *Controller) register(s *session) {
	c.mu.Lock()
	c.sessions[s.params.MeetingID] = append(c.sessions[s.params.MeetingID], s)
	c.active++
	c.mu.Unlock()
	c.metrics.LiveSessions.Inc()
}

func (c *Controller) unregister(s *session) {
	c.mu.Lock()
	id := s.params.MeetingID
	c.sessions[id] = slices.DeleteFunc(c.sessions[id], func(other *session) bool { return other == s })
	if len(c.sessions[id]) == 0 {
		delete(c.sessions, id)
	}
	c.active--
	c.mu.Unlock()
	c.metrics.LiveSessions.Dec()
}

// fold appends the summary to the meeting and announces it. A meeting that
// does not exist is skipped; the event is still published.
func (c *Controller) fold(log *slog.Logger, meetingID string, summary entity.LiveSessionSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FoldTimeout)
	defer cancel()

	_, err := c.store.UpdateMeeting(ctx, meetingID, func(m *entity.Meeting) error {
		m.LiveSessions = append(m.LiveSessions, summary)
		m.UpdatedAt = c.now().UTC()
		return nil
	})
	switch {
	case apperrors.IsNotFound(err):
		log.Info("no meeting record for live session, summary not stored")
	case err != nil:
		log.Error("failed to store live session summary", slog.String("error", err.Error()))
	default:
		log.Debug("live session summary stored")
	}

	if err := c.publisher.PublishLive(ctx, events.NewLiveEvent(meetingID, summary)); err != nil {
		log.Warn("failed to publish live session event", slog.String("error", err.Error()))
	}
	c.metrics.LiveSessionsTotal.WithLabelValues(string(summary.State)).Inc()
}
