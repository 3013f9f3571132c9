package live

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/services/transcription/consts"
	"github.com/xilidan/workmate/services/transcription/entity"
	"github.com/xilidan/workmate/services/transcription/observability"
)

// Error codes carried by outbound error messages.
const (
	CodeTierNotEligible = "tier_not_eligible"
	CodeInvalidAudio    = "invalid_audio"
	CodeUnknownType     = "unknown_message_type"
	CodeProviderError   = "provider_error"
)

const (
	closeNormal     = 1000
	closeGoingAway  = 1001
	reasonServerEnd = "Server shutting down"
)

type endReason int

const (
	endRequested endReason = iota
	endClientClosed
	endFault
)

type session struct {
	c      *Controller
	conn   Conn
	log    *slog.Logger
	params SessionParams
	id     string
	mode   string

	startedAt time.Time

	out        chan any
	stop       chan struct{}
	aborted    chan struct{}
	writerDone chan struct{}
	sem        chan struct{}
	slots      chan struct{} // chunks held, queued or in flight
	chunks     sync.WaitGroup
	reorder    *reorderBuffer

	// discard drops chunk results once the client is gone.
	discard     atomic.Bool
	closing     atomic.Bool
	writeFailed bool
	nextSeq     int64

	mu          sync.Mutex
	state       entity.LiveState
	abortReason string
	tracker     *Tracker
	transcript  []string
	actionItems []string
	decisions   []string
	followUps   []string
	received    int
	transcribed int

	closeOnce sync.Once
	foldOnce  sync.Once
}

func (c *Controller) newSession(conn Conn, p SessionParams, mode string, log *slog.Logger) *session {
	id := c.ids.NextString()
	return &session{
		c:          c,
		conn:       conn,
		log:        log.With(slog.String("session_id", id)),
		params:     p,
		id:         id,
		mode:       mode,
		startedAt:  c.now().UTC(),
		out:        make(chan any, c.cfg.WriteBuffer),
		stop:       make(chan struct{}),
		aborted:    make(chan struct{}),
		writerDone: make(chan struct{}),
		sem:        make(chan struct{}, c.cfg.MaxInFlight),
		slots:      make(chan struct{}, c.cfg.MaxInFlight+c.cfg.ChunkBacklog),
		reorder:    newReorderBuffer(),
		state:      entity.LiveConnecting,
		tracker:    NewTracker(),
	}
}

func (s *session) run(ctx context.Context) error {
	s.setState(entity.LiveActive)
	go s.writeLoop()

	stopWatch := context.AfterFunc(ctx, func() {
		s.closing.Store(true)
		s.closeConn(closeGoingAway, reasonServerEnd)
	})
	defer stopWatch()

	s.emit(entity.SessionStartedMessage{
		Type:      entity.MessageSessionStarted,
		SessionID: s.id,
		MeetingID: s.params.MeetingID,
		Tier:      s.params.Tier,
		Mode:      s.mode,
		StartedAt: s.startedAt,
	})

	reason, err := s.readLoop(ctx)
	state := s.finish(reason, err)
	summary := s.summary(state)
	s.foldOnce.Do(func() {
		s.c.fold(s.log, s.params.MeetingID, summary)
	})

	s.log.Info("live session closed",
		slog.String("state", string(state)),
		slog.Int("chunks_received", summary.ChunksReceived),
		slog.Int("chunks_transcribed", summary.ChunksTranscribed))

	if state == entity.LiveAborted {
		return fmt.Errorf("live session aborted: %s", summary.AbortReason)
	}
	return nil
}

func (s *session) readLoop(ctx context.Context) (endReason, error) {
	for {
		msg, err := s.conn.ReadMessage(ctx)
		if err != nil {
			switch {
			case s.isAborted():
				return endFault, nil
			case s.closing.Load(), errors.Is(err, ErrClientClosed):
				return endClientClosed, nil
			default:
				return endFault, err
			}
		}

		switch msg.Type {
		case entity.MessageAudioChunk:
			s.handleChunk(ctx, msg)
		case entity.MessageVoiceCommand:
			s.applyCommand(msg.Command)
		case entity.MessageAnalyticsRequest:
			s.emit(entity.AnalyticsMessage{Type: entity.MessageAnalytics, Analytics: s.snapshot()})
		case entity.MessageEndSession:
			return endRequested, nil
		default:
			s.log.Debug("unknown live message type", slog.String("type", msg.Type))
			s.emit(entity.ErrorMessage{
				Type:    entity.MessageError,
				Code:    CodeUnknownType,
				Message: fmt.Sprintf("unknown message type %q", msg.Type),
			})
		}
	}
}

// finish settles the final state and shuts the writer down. A requested end
// waits for in-flight chunks so their transcripts reach the client; any other
// end discards them.
func (s *session) finish(reason endReason, err error) entity.LiveState {
	switch reason {
	case endRequested:
		s.drainChunks()
		s.setState(entity.LiveEnded)
	case endClientClosed:
		s.discard.Store(true)
		s.setState(entity.LiveEnded)
	case endFault:
		if err != nil {
			s.abort("transport: " + err.Error())
		}
	}

	close(s.stop)
	<-s.writerDone

	state := s.currentState()
	if state == entity.LiveAborted {
		s.closeConn(consts.CloseProviderFailure, consts.ReasonProviderFailure)
	} else {
		s.closeConn(closeNormal, consts.ReasonSessionEnded)
	}
	if n := s.reorder.waiting(); n > 0 {
		s.log.Debug("dropping out of order chunk results", slog.Int("count", n))
	}
	return state
}

func (s *session) drainChunks() {
	done := make(chan struct{})
	go func() {
		s.chunks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.c.cfg.ChunkTimeout):
		s.log.Warn("in-flight chunks did not finish before session end")
		s.discard.Store(true)
	}
}

// handleChunk runs on the reader. It blocks while the session already holds
// as many chunks as it may, which stops further reads from the client.
func (s *session) handleChunk(ctx context.Context, msg entity.LiveInbound) {
	if s.mode != ModeLive {
		s.c.metrics.LiveChunks.WithLabelValues("rejected").Inc()
		s.emit(entity.ErrorMessage{
			Type:    entity.MessageError,
			Code:    CodeTierNotEligible,
			Message: consts.ReasonTierNotEligible,
		})
		return
	}

	select {
	case s.slots <- struct{}{}:
	case <-s.aborted:
		return
	case <-ctx.Done():
		return
	}

	audio, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil || len(audio) == 0 {
		<-s.slots
		s.c.metrics.LiveChunks.WithLabelValues("invalid").Inc()
		s.emit(entity.ErrorMessage{
			Type:    entity.MessageError,
			Code:    CodeInvalidAudio,
			Message: "audio chunk must be non-empty base64 data",
		})
		return
	}

	// sequence numbers follow arrival order
	s.nextSeq++
	seq := s.nextSeq

	s.mu.Lock()
	s.received++
	s.mu.Unlock()

	s.chunks.Add(1)
	go s.transcribeChunk(seq, msg, audio)
}

func (s *session) transcribeChunk(seq int64, msg entity.LiveInbound, audio []byte) {
	defer s.chunks.Done()
	defer func() { <-s.slots }()

	select {
	case s.sem <- struct{}{}:
	case <-s.stop:
		return
	}
	defer func() { <-s.sem }()

	if s.discard.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.c.cfg.ChunkTimeout)
	defer cancel()
	ctx, span := s.c.tracer.StartChunkSpan(ctx, s.params.MeetingID, seq)

	result, err := s.c.transcriber.TranscribeChunk(ctx, entity.ChunkRequest{
		MeetingID:  s.params.MeetingID,
		Sequence:   seq,
		Audio:      audio,
		Format:     msg.Format,
		SampleRate: msg.SampleRate,
		Language:   s.params.Language,
	})
	if err == nil && result == nil {
		err = apperrors.Provider("asr", "empty chunk result")
	}
	observability.EndSpan(span, err)

	if err != nil {
		s.c.metrics.LiveChunks.WithLabelValues("failed").Inc()
		s.log.Error("chunk transcription failed",
			slog.Int64("sequence", seq),
			slog.String("error", err.Error()))
		s.abort(apperrors.ProviderMessage(err))
		return
	}
	if s.discard.Load() {
		s.c.metrics.LiveChunks.WithLabelValues("discarded").Inc()
		return
	}
	s.c.metrics.LiveChunks.WithLabelValues("transcribed").Inc()

	speaker := result.Speaker
	if speaker == "" {
		speaker = msg.Speaker
	}
	s.reorder.complete(seq, chunkOutcome{
		message: entity.TranscriptMessage{
			Type:       entity.MessageTranscript,
			Sequence:   seq,
			Timestamp:  msg.Timestamp,
			Text:       result.Text,
			Speaker:    speaker,
			Confidence: result.Confidence,
		},
		seconds: float64(msg.DurationMs) / 1000,
	}, s.deliver)
}

// deliver runs in sequence order under the reorder lock.
func (s *session) deliver(o chunkOutcome) {
	if s.discard.Load() {
		return
	}

	msg := o.message
	var spoken *entity.VoiceCommand

	s.mu.Lock()
	s.transcribed++
	if msg.Text != "" {
		s.transcript = append(s.transcript, msg.Text)
		s.tracker.ObserveTranscript(msg.Sequence, msg.Speaker, msg.Text, o.seconds)
		if hasWakeWord(msg.Text) {
			if cmd := ParseCommand(msg.Text); cmd.Recognized {
				s.recordCommand(cmd)
				spoken = &cmd
			}
		}
	}
	s.mu.Unlock()

	if msg.Text == "" {
		return
	}
	s.emit(msg)
	if spoken != nil {
		s.emit(entity.CommandResultMessage{Type: entity.MessageCommandResult, Command: *spoken})
	}
}

// applyCommand records a typed voice command and echoes the result to the
// client. It is safe to call from outside the reader.
func (s *session) applyCommand(raw string) entity.VoiceCommand {
	cmd := ParseCommand(raw)
	if cmd.Recognized {
		s.mu.Lock()
		s.recordCommand(cmd)
		s.mu.Unlock()
	}
	s.log.Debug("voice command",
		slog.String("intent", string(cmd.Intent)),
		slog.Bool("recognized", cmd.Recognized))
	s.emit(entity.CommandResultMessage{Type: entity.MessageCommandResult, Command: cmd})
	return cmd
}

// recordCommand must be called with s.mu held.
func (s *session) recordCommand(cmd entity.VoiceCommand) {
	switch cmd.Intent {
	case entity.IntentActionItem:
		s.actionItems = append(s.actionItems, cmd.Content)
	case entity.IntentDecision:
		s.decisions = append(s.decisions, cmd.Content)
	case entity.IntentFollowUp:
		s.followUps = append(s.followUps, cmd.Content)
	}
	s.tracker.ObserveCommand(cmd)
}

func (s *session) snapshot() entity.LiveAnalytics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Snapshot()
}

func (s *session) summary(state entity.LiveState) entity.LiveSessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	return entity.LiveSessionSummary{
		SessionID:         s.id,
		Platform:          s.params.Platform,
		State:             state,
		StartedAt:         s.startedAt,
		EndedAt:           s.c.now().UTC(),
		ChunksReceived:    s.received,
		ChunksTranscribed: s.transcribed,
		Transcript:        strings.Join(s.transcript, " "),
		ActionItems:       append([]string(nil), s.actionItems...),
		Decisions:         append([]string(nil), s.decisions...),
		FollowUps:         append([]string(nil), s.followUps...),
		Analytics:         s.tracker.Snapshot(),
		AbortReason:       s.abortReason,
	}
}

// abort moves an active session to aborted. The writer flushes what is queued,
// then closes the transport, which unblocks the reader.
func (s *session) abort(reason string) {
	s.mu.Lock()
	if s.state != entity.LiveActive {
		s.mu.Unlock()
		return
	}
	s.state = entity.LiveAborted
	s.abortReason = reason
	s.mu.Unlock()

	s.discard.Store(true)
	s.log.Warn("aborting live session", slog.String("reason", reason))

	select {
	case s.out <- entity.ErrorMessage{Type: entity.MessageError, Code: CodeProviderError, Message: reason}:
	default:
	}
	close(s.aborted)
}

func (s *session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case msg := <-s.out:
			s.write(msg)
		case <-s.aborted:
			s.flush()
			s.closeConn(consts.CloseProviderFailure, consts.ReasonProviderFailure)
			return
		case <-s.stop:
			s.flush()
			return
		}
	}
}

func (s *session) flush() {
	for {
		select {
		case msg := <-s.out:
			s.write(msg)
		default:
			return
		}
	}
}

func (s *session) write(msg any) {
	if s.writeFailed {
		return
	}
	if err := s.conn.WriteMessage(context.Background(), msg); err != nil {
		s.writeFailed = true
		s.abort("transport: " + err.Error())
	}
}

// emit queues msg for the writer. It gives up once the session is stopping.
func (s *session) emit(msg any) {
	select {
	case s.out <- msg:
	case <-s.stop:
	case <-s.aborted:
	}
}

func (s *session) closeConn(code int, reason string) {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(code, reason); err != nil {
			s.log.Debug("closing live connection failed", slog.String("error", err.Error()))
		}
	})
}

func (s *session) setState(state entity.LiveState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == entity.LiveAborted || s.state == entity.LiveEnded {
		return
	}
	s.state = state
}

func (s *session) currentState() entity.LiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) isAborted() bool {
	return s.currentState() == entity.LiveAborted
}
