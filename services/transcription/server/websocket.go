package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/logger"
	"github.com/xilidan/workmate/services/transcription/entity"
	"github.com/xilidan/workmate/services/transcription/live"
)

const (
	// base64 audio chunks dominate frame size
	maxFrameSize = 32 << 20
	writeWait    = 10 * time.Second
	closeWait    = time.Second
)

// wsConn adapts a gorilla connection to live.Conn. Reads and writes each come
// from a single goroutine; Close may be called from any goroutine.
type wsConn struct {
	conn *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn) *wsConn {
	conn.SetReadLimit(maxFrameSize)
	return &wsConn{conn: conn}
}

// ReadMessage returns live.ErrClientClosed when the peer closed normally. A
// frame that is not valid JSON comes back as a message with no type, which the
// session answers with an error message.
func (c *wsConn) ReadMessage(ctx context.Context) (entity.LiveInbound, error) {
	var msg entity.LiveInbound

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return msg, live.ErrClientClosed
		}
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return entity.LiveInbound{}, nil
	}
	return msg, nil
}

func (c *wsConn) WriteMessage(ctx context.Context, msg any) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		frame := websocket.FormatCloseMessage(code, reason)
		err := c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(closeWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
		if err := c.conn.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// LiveHandler upgrades to a WebSocket and hands the connection to the live
// controller. Tier eligibility is decided after the upgrade so ineligible
// clients receive a proper close frame.
func (s *Server) LiveHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t, ok := entity.ParseTier(q.Get("tier"))
	if !ok {
		s.writeError(w, r, apperrors.InvalidTier(q.Get("tier")))
		return
	}

	params := live.SessionParams{
		MeetingID: chi.URLParam(r, "meeting_id"),
		OwnerID:   ownerFrom(r.Context()),
		Tier:      t,
		Platform:  entity.ParsePlatform(q.Get("platform")),
		Language:  q.Get("language"),
	}

	log := logger.FromContext(r.Context())
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	conn := newWSConn(ws)
	defer conn.Close(websocket.CloseNormalClosure, "")

	if err := s.usecase.ServeLive(r.Context(), conn, params); err != nil {
		log.Info("live session ended with error",
			slog.String("meeting_id", params.MeetingID),
			slog.String("error", err.Error()))
	}
}
