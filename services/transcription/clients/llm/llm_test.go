package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/logger"
	"github.com/xilidan/workmate/services/transcription/entity"
)

func chatServer(t *testing.T, content string, inspect func(chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, completionsPath, r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		if inspect != nil {
			inspect(req)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"model": req.Model,
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
}

func newClient(url string) *Client {
	return New(Config{BaseURL: url, APIKey: "sk-test"}, logger.Discard())
}

func TestAnalyzeMapsResponse(t *testing.T) {
	content := `{
		"summary": "Planning for the beta.",
		"key_points": ["beta on friday"],
		"action_items": [
			{"description": "Write release notes", "assignee": "Dana", "deadline": "2026-05-08", "priority": "URGENT"},
			{"description": "Book demo room", "deadline": "next week"}
		],
		"decisions": [{"description": "Ship beta", "owner": "Sam"}],
		"sentiment": {"overall": "positive", "score": 0.7}
	}`

	var seen chatRequest
	srv := chatServer(t, content, func(r chatRequest) { seen = r })
	defer srv.Close()

	a, err := newClient(srv.URL).Analyze(context.Background(), entity.AnalysisInput{
		MeetingID:  "m1",
		Title:      "Beta planning",
		Tier:       entity.TierPremium,
		Transcript: "we ship the beta on friday",
		Segments:   []entity.Segment{{Start: 1.5, Text: "we ship", Speaker: "SPEAKER_0"}},
		Extended:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, "json_object", seen.ResponseFormat.Type)
	assert.Equal(t, defaultModel, seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Contains(t, seen.Messages[1].Content, "SPEAKER_0: we ship")
	assert.Contains(t, seen.Messages[1].Content, `"risks"`)

	assert.Equal(t, "Planning for the beta.", a.Summary)
	require.Len(t, a.ActionItems, 2)
	assert.Equal(t, entity.PriorityHigh, a.ActionItems[0].Priority)
	require.NotNil(t, a.ActionItems[0].Deadline)
	assert.Equal(t, time.Date(2026, 5, 8, 0, 0, 0, 0, time.UTC), *a.ActionItems[0].Deadline)
	assert.Nil(t, a.ActionItems[1].Deadline)
	assert.Equal(t, entity.PriorityMedium, a.ActionItems[1].Priority)
	assert.Equal(t, "Sam", a.Decisions[0].Owner)
	assert.Equal(t, "premium", a.Metadata["tier"])
}

func TestAnalyzeBasicPromptOmitsExtendedKeys(t *testing.T) {
	var seen chatRequest
	srv := chatServer(t, `{"summary": "ok"}`, func(r chatRequest) { seen = r })
	defer srv.Close()

	_, err := newClient(srv.URL).Analyze(context.Background(), entity.AnalysisInput{Transcript: "hello"})
	require.NoError(t, err)
	assert.NotContains(t, seen.Messages[1].Content, `"risks"`)
	assert.True(t, strings.HasSuffix(seen.Messages[1].Content, "hello"))
}

func TestAnalyzeRejectsMalformedContent(t *testing.T) {
	srv := chatServer(t, `this is not json`, nil)
	defer srv.Close()

	_, err := newClient(srv.URL).Analyze(context.Background(), entity.AnalysisInput{Transcript: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsProvider(err))
	assert.Equal(t, "malformed JSON in model response", apperrors.ProviderMessage(err))
}

func TestAnalyzeRejectsEmptyAnalysis(t *testing.T) {
	srv := chatServer(t, `{}`, nil)
	defer srv.Close()

	_, err := newClient(srv.URL).Analyze(context.Background(), entity.AnalysisInput{Transcript: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsProvider(err))
}

func TestCompleteSurfacesProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "requests"}}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Analyze(context.Background(), entity.AnalysisInput{Transcript: "x"})
	require.Error(t, err)

	var pe *apperrors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "Rate limit reached", pe.Message)
}

func TestGenerateDocumentsHonoursRiskAssessment(t *testing.T) {
	content := `{"minutes": "m", "status_email": "e", "task_document": "t", "risk_assessment": "r"}`
	var seen chatRequest
	srv := chatServer(t, content, func(r chatRequest) { seen = r })
	defer srv.Close()

	in := entity.DocumentInput{
		MeetingID:   "m1",
		Title:       "Review",
		MeetingDate: time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
		Analysis:    &entity.Analysis{Summary: "s"},
	}

	docs, err := newClient(srv.URL).GenerateDocuments(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "m", docs.Minutes)
	assert.Empty(t, docs.RiskAssessment)
	assert.NotContains(t, seen.Messages[1].Content, "risk_assessment")
	assert.Contains(t, seen.Messages[1].Content, "Date: 2026-05-04")

	in.RiskAssessment = true
	docs, err = newClient(srv.URL).GenerateDocuments(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "r", docs.RiskAssessment)
}

func TestParseDeadline(t *testing.T) {
	assert.Nil(t, ParseDeadline(""))
	assert.Nil(t, ParseDeadline("by friday"))
	d := ParseDeadline("2026-06-01T10:00:00+02:00")
	require.NotNil(t, d)
	assert.Equal(t, time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC), *d)
}
