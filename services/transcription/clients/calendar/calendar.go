// Package calendar creates reminder events through the Google Calendar v3 REST API.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	pkgjson "github.com/xilidan/workmate/pkg/json"
	"github.com/xilidan/workmate/services/transcription/entity"
)

const (
	providerName      = "calendar"
	defaultBaseURL    = "https://www.googleapis.com/calendar/v3"
	defaultCalendarID = "primary"
	defaultTimeZone   = "UTC"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	log.Debug("creating calendar client", slog.String("base_url", baseURL))
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type reminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type reminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []reminderOverride `json:"overrides,omitempty"`
}

type eventRequest struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       eventTime `json:"start"`
	End         eventTime `json:"end"`
	Reminders   reminders `json:"reminders"`
}

type eventResponse struct {
	ID string `json:"id"`
}

// CreateEvents inserts events one by one and returns the ids that were
// created. Every failed insert is reported in the joined error.
func (c *Client) CreateEvents(ctx context.Context, cred entity.CalendarCredential, events []entity.CalendarEvent) ([]string, error) {
	if cred.AccessToken == "" {
		return nil, apperrors.Provider(providerName, "calendar credential has no access token")
	}

	calendarID := cred.CalendarID
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	tz := cred.TimeZone
	if tz == "" {
		tz = defaultTimeZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		c.log.Warn("unknown calendar time zone, using UTC", slog.String("time_zone", tz))
		tz, loc = defaultTimeZone, time.UTC
	}

	ids := make([]string, 0, len(events))
	var errs []error
	for _, ev := range events {
		id, err := c.insert(ctx, cred.AccessToken, calendarID, newEventRequest(ev, tz, loc))
		if err != nil {
			errs = append(errs, fmt.Errorf("event %q: %w", ev.Title, err))
			continue
		}
		ids = append(ids, id)
	}

	c.log.Debug("calendar events dispatched",
		slog.String("owner_id", cred.OwnerID),
		slog.Int("created", len(ids)),
		slog.Int("failed", len(errs)))
	return ids, errors.Join(errs...)
}

func newEventRequest(ev entity.CalendarEvent, tz string, loc *time.Location) eventRequest {
	req := eventRequest{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       eventTime{DateTime: ev.Start.In(loc).Format(time.RFC3339), TimeZone: tz},
		End:         eventTime{DateTime: ev.End.In(loc).Format(time.RFC3339), TimeZone: tz},
		Reminders:   reminders{UseDefault: true},
	}
	if ev.ReminderMinutes > 0 {
		req.Reminders = reminders{
			Overrides: []reminderOverride{{Method: "popup", Minutes: ev.ReminderMinutes}},
		}
	}
	return req
}

func (c *Client) insert(ctx context.Context, token, calendarID string, ev eventRequest) (string, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &apperrors.ProviderError{Provider: providerName, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw := pkgjson.ReadErrorBody(resp)
		return "", &apperrors.ProviderError{
			Provider:   providerName,
			Message:    pkgjson.ProviderMessage(raw),
			StatusCode: resp.StatusCode,
		}
	}

	var out eventResponse
	if err := pkgjson.DecodeResponse(resp, &out); err != nil {
		return "", &apperrors.ProviderError{Provider: providerName, Message: err.Error()}
	}
	return out.ID, nil
}
