package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/logger"
	"github.com/xilidan/workmate/services/transcription/entity"
)

func TestCreateEventsSendsPopupReminder(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []eventRequest
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ya29.token", r.Header.Get("Authorization"))

		var ev eventRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev)) {
			return
		}
		mu.Lock()
		got = append(got, ev)
		path = r.URL.Path
		n := len(got)
		mu.Unlock()

		if ev.Summary == "broken" {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error": {"message": "Insufficient Permission"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "evt-" + string(rune('0'+n))})
	}))
	defer srv.Close()

	start := time.Date(2026, 5, 8, 9, 0, 0, 0, time.UTC)
	events := []entity.CalendarEvent{
		{Title: "Write release notes", Start: start, End: start.Add(30 * time.Minute), ReminderMinutes: 10},
		{Title: "broken", Start: start, End: start.Add(30 * time.Minute)},
	}

	c := New(Config{BaseURL: srv.URL}, logger.Discard())
	ids, err := c.CreateEvents(context.Background(), entity.CalendarCredential{
		OwnerID:     "o1",
		AccessToken: "ya29.token",
		CalendarID:  "team@example.com",
	}, events)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Insufficient Permission")
	assert.True(t, apperrors.IsProvider(err))
	assert.Equal(t, []string{"evt-1"}, ids)

	require.Len(t, got, 2)
	assert.Equal(t, "/calendars/team@example.com/events", path)
	assert.Equal(t, "2026-05-08T09:00:00Z", got[0].Start.DateTime)
	assert.Equal(t, "2026-05-08T09:30:00Z", got[0].End.DateTime)
	assert.Equal(t, "UTC", got[0].Start.TimeZone)
	assert.False(t, got[0].Reminders.UseDefault)
	assert.Equal(t, []reminderOverride{{Method: "popup", Minutes: 10}}, got[0].Reminders.Overrides)
	assert.True(t, got[1].Reminders.UseDefault)
}

func TestCreateEventsRequiresToken(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"}, logger.Discard())
	_, err := c.CreateEvents(context.Background(), entity.CalendarCredential{OwnerID: "o1"}, []entity.CalendarEvent{{Title: "x"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsProvider(err))
}

func TestNewEventRequestUsesCredentialTimeZone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	start := time.Date(2026, 5, 8, 9, 0, 0, 0, time.UTC)
	req := newEventRequest(entity.CalendarEvent{Start: start, End: start.Add(30 * time.Minute)}, "Europe/Berlin", loc)
	assert.Equal(t, "2026-05-08T11:00:00+02:00", req.Start.DateTime)
	assert.Equal(t, "Europe/Berlin", req.Start.TimeZone)
}
