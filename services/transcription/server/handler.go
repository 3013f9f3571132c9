package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/json"
	"github.com/xilidan/workmate/pkg/jwt"
	"github.com/xilidan/workmate/pkg/logger"
	"github.com/xilidan/workmate/services/transcription/entity"
)

const (
	audioField = "audio_file"
	// form values sent ahead of the file part are small; anything bigger is refused
	maxFormValue = 4 * 1024
)

type ctxKey string

const ownerKey ctxKey = "owner_id"

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := jwt.ParseTokenFromHeader(r)
		if err != nil {
			json.WriteError(w, http.StatusUnauthorized, fmt.Errorf("access denied"))
			return
		}

		ctx := r.Context()
		ownerID, err := jwt.ParseUserID(ctx, token, s.opts.JWTSecret)
		if err != nil {
			logger.FromContext(ctx).Debug("rejecting token", slog.String("error", err.Error()))
			json.WriteError(w, http.StatusUnauthorized, fmt.Errorf("access denied"))
			return
		}

		ctx = logger.WithContext(ctx, logger.With(ctx, slog.String("owner_id", ownerID)))
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ownerKey, ownerID)))
	})
}

// UploadHandler streams the audio_file part straight into the usecase, so the
// upload is metered while it arrives and never held in memory.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	req, err := uploadRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, apperrors.InvalidInput("expected multipart/form-data body"))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			s.writeError(w, r, apperrors.InvalidInput("%s is required", audioField))
			return
		}
		if err != nil {
			s.writeError(w, r, apperrors.InvalidInput("malformed multipart body: %v", err))
			return
		}

		if part.FormName() != audioField {
			if err := applyFormValue(req, part); err != nil {
				part.Close()
				s.writeError(w, r, err)
				return
			}
			part.Close()
			continue
		}

		req.Filename = part.FileName()
		req.MIMEType = part.Header.Get("Content-Type")
		if req.MIMEType == "" || req.MIMEType == "application/octet-stream" {
			req.MIMEType = mime.TypeByExtension(filepath.Ext(req.Filename))
		}

		resp, err := s.usecase.Upload(r.Context(), req, part)
		part.Close()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		json.WriteJSON(w, http.StatusOK, resp)
		return
	}
}

func uploadRequest(r *http.Request) (*entity.UploadRequest, error) {
	q := r.URL.Query()
	req := &entity.UploadRequest{
		MeetingID: chi.URLParam(r, "meeting_id"),
		OwnerID:   ownerFrom(r.Context()),
		Tier:      q.Get("tier"),
		Title:     q.Get("title"),
		Language:  q.Get("language"),
	}
	if v := q.Get("sync_calendar"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, apperrors.InvalidInput("sync_calendar must be a boolean")
		}
		req.SyncCalendar = b
	}
	if v := q.Get("meeting_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, apperrors.InvalidInput("meeting_date must be RFC 3339")
		}
		req.MeetingDate = t
	}
	return req, nil
}

type formPart interface {
	io.Reader
	FormName() string
}

func applyFormValue(req *entity.UploadRequest, part formPart) error {
	raw, err := io.ReadAll(io.LimitReader(part, maxFormValue+1))
	if err != nil {
		return apperrors.InvalidInput("malformed multipart body: %v", err)
	}
	if len(raw) > maxFormValue {
		return apperrors.InvalidInput("form field %s is too long", part.FormName())
	}
	value := strings.TrimSpace(string(raw))

	switch part.FormName() {
	case "tier":
		req.Tier = value
	case "title":
		req.Title = value
	case "language":
		req.Language = value
	case "sync_calendar":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return apperrors.InvalidInput("sync_calendar must be a boolean")
		}
		req.SyncCalendar = b
	case "meeting_date":
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return apperrors.InvalidInput("meeting_date must be RFC 3339")
		}
		req.MeetingDate = t
	}
	return nil
}

func query(r *http.Request) entity.MeetingQuery {
	return entity.MeetingQuery{
		MeetingID: chi.URLParam(r, "meeting_id"),
		OwnerID:   ownerFrom(r.Context()),
	}
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.usecase.GetStatus(r.Context(), query(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) TranscriptHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.usecase.GetTranscript(r.Context(), query(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) AnalysisHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.usecase.GetAnalysis(r.Context(), query(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) DocumentsHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.usecase.GetDocuments(r.Context(), query(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) TasksHandler(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	tasks, err := s.usecase.ListTasks(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, map[string]any{
		"meeting_id": q.MeetingID,
		"tasks":      tasks,
	})
}

// MeetingsHandler lists the caller's meetings, newest first, paged with the
// skip and limit query parameters.
func (s *Server) MeetingsHandler(w http.ResponseWriter, r *http.Request) {
	q := entity.MeetingListQuery{OwnerID: ownerFrom(r.Context())}
	for name, dst := range map[string]*int{"skip": &q.Skip, "limit": &q.Limit} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, apperrors.InvalidInput("%s must be an integer", name))
			return
		}
		*dst = n
	}

	resp, err := s.usecase.ListMeetings(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) MeetingHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.usecase.GetMeeting(r.Context(), query(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, resp)
}

// LiveAnalyticsHandler returns the rolling analytics of the meeting's running
// live session.
func (s *Server) LiveAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.usecase.LiveAnalytics(r.Context(), query(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, resp)
}

// VoiceCommandHandler takes the command from the query string or a JSON body.
func (s *Server) VoiceCommandHandler(w http.ResponseWriter, r *http.Request) {
	command := r.URL.Query().Get("command")
	if command == "" {
		var req entity.VoiceCommandRequest
		if err := json.ParseJSON(r, &req); err != nil {
			s.writeError(w, r, apperrors.InvalidInput("invalid JSON body"))
			return
		}
		command = req.Command
	}

	resp, err := s.usecase.LiveCommand(r.Context(), query(r), command)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	json.WriteJSON(w, http.StatusOK, resp)
}

type calendarCredentialRequest struct {
	AccessToken string `json:"access_token"`
	CalendarID  string `json:"calendar_id"`
	TimeZone    string `json:"time_zone"`
}

func (s *Server) CalendarCredentialHandler(w http.ResponseWriter, r *http.Request) {
	var req calendarCredentialRequest
	if err := json.ParseJSON(r, &req); err != nil {
		s.writeError(w, r, apperrors.InvalidInput("invalid JSON body"))
		return
	}

	cred := &entity.CalendarCredential{
		OwnerID:     ownerFrom(r.Context()),
		AccessToken: req.AccessToken,
		CalendarID:  req.CalendarID,
		TimeZone:    req.TimeZone,
	}
	if err := s.usecase.SaveCalendarCredential(r.Context(), cred); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string, len(s.opts.Checks))

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range s.opts.Checks {
		if check(ctx) {
			checks[name] = "ok"
			continue
		}
		checks[name] = "unavailable"
		status = "degraded"
	}

	json.WriteJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"service":       "transcription",
		"live_sessions": s.usecase.LiveSessions(),
		"checks":        checks,
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case apperrors.IsValidation(err):
		json.WriteError(w, http.StatusBadRequest, err)
	case apperrors.IsNotFound(err):
		json.WriteError(w, http.StatusNotFound, err)
	case apperrors.IsConflict(err):
		json.WriteError(w, http.StatusConflict, err)
	case apperrors.IsForbidden(err):
		json.WriteError(w, http.StatusForbidden, err)
	case apperrors.IsUnavailable(err):
		w.Header().Set("Retry-After", "5")
		json.WriteError(w, http.StatusServiceUnavailable, err)
	default:
		logger.ErrorErr(r.Context(), "request failed", err, slog.String("path", r.URL.Path))
		json.WriteError(w, http.StatusInternalServerError, fmt.Errorf("internal server error"))
	}
}
