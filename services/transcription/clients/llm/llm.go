// Package llm derives meeting analysis and documents from an
// OpenAI-compatible chat completions endpoint in JSON mode.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	pkgjson "github.com/xilidan/workmate/pkg/json"
	"github.com/xilidan/workmate/services/transcription/entity"
)

const (
	providerName    = "llm"
	completionsPath = "/v1/chat/completions"
	defaultModel    = "gpt-4o"
)

const (
	analystPrompt  = "You are an AI assistant specialized in analyzing meeting transcripts. Respond with a single JSON object."
	documentPrompt = "You are an AI assistant specialized in generating professional meeting documentation. Respond with a single JSON object."
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	log.Debug("creating llm client",
		slog.String("base_url", cfg.BaseURL),
		slog.String("model", model),
		slog.Bool("api_key_set", cfg.APIKey != ""))

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float32        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// analysisPayload is what the model is asked to produce. Deadlines arrive as
// free-form strings and are parsed leniently.
type analysisPayload struct {
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"key_points"`
	ActionItems []struct {
		Description  string   `json:"description"`
		Assignee     string   `json:"assignee"`
		Deadline     string   `json:"deadline"`
		Priority     string   `json:"priority"`
		Dependencies []string `json:"dependencies"`
	} `json:"action_items"`
	Decisions []entity.Decision `json:"decisions"`
	Risks     []entity.Risk     `json:"risks"`
	Sentiment *entity.Sentiment `json:"sentiment"`
}

type documentsPayload struct {
	Minutes        string `json:"minutes"`
	StatusEmail    string `json:"status_email"`
	TaskDocument   string `json:"task_document"`
	RiskAssessment string `json:"risk_assessment"`
}

func (c *Client) Analyze(ctx context.Context, in entity.AnalysisInput) (*entity.Analysis, error) {
	log := c.log.With(slog.String("meeting_id", in.MeetingID))
	log.Debug("requesting transcript analysis",
		slog.Int("transcript_length", len(in.Transcript)),
		slog.Bool("extended", in.Extended))

	var payload analysisPayload
	if err := c.complete(ctx, analystPrompt, analysisPrompt(in), &payload); err != nil {
		return nil, err
	}

	analysis := &entity.Analysis{
		Summary:   payload.Summary,
		KeyPoints: payload.KeyPoints,
		Decisions: payload.Decisions,
		Risks:     payload.Risks,
		Sentiment: payload.Sentiment,
		Metadata: map[string]string{
			"model": c.model,
			"tier":  string(in.Tier),
		},
	}
	for _, item := range payload.ActionItems {
		analysis.ActionItems = append(analysis.ActionItems, entity.ActionItem{
			Description:  item.Description,
			Assignee:     item.Assignee,
			Deadline:     ParseDeadline(item.Deadline),
			Priority:     entity.NormalizePriority(item.Priority),
			Dependencies: item.Dependencies,
		})
	}

	if strings.TrimSpace(analysis.Summary) == "" && len(analysis.ActionItems) == 0 && len(analysis.KeyPoints) == 0 {
		return nil, apperrors.Provider(providerName, "analysis response was empty")
	}

	log.Debug("analysis received",
		slog.Int("action_items", len(analysis.ActionItems)),
		slog.Int("decisions", len(analysis.Decisions)))
	return analysis, nil
}

func (c *Client) GenerateDocuments(ctx context.Context, in entity.DocumentInput) (*entity.Documents, error) {
	log := c.log.With(slog.String("meeting_id", in.MeetingID))
	log.Debug("requesting meeting documents", slog.Bool("risk_assessment", in.RiskAssessment))

	prompt, err := documentsPrompt(in)
	if err != nil {
		return nil, err
	}

	var payload documentsPayload
	if err := c.complete(ctx, documentPrompt, prompt, &payload); err != nil {
		return nil, err
	}

	docs := &entity.Documents{
		Minutes:      payload.Minutes,
		StatusEmail:  payload.StatusEmail,
		TaskDocument: payload.TaskDocument,
	}
	if in.RiskAssessment {
		docs.RiskAssessment = payload.RiskAssessment
	}
	return docs, nil
}

func (c *Client) complete(ctx context.Context, system, user string, target any) error {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + completionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &apperrors.ProviderError{Provider: providerName, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw := pkgjson.ReadErrorBody(resp)
		c.log.Warn("llm provider returned error",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", raw))
		return &apperrors.ProviderError{
			Provider:   providerName,
			Message:    pkgjson.ProviderMessage(raw),
			StatusCode: resp.StatusCode,
		}
	}

	var chat chatResponse
	if err := pkgjson.DecodeResponse(resp, &chat); err != nil {
		return &apperrors.ProviderError{Provider: providerName, Message: err.Error()}
	}
	if len(chat.Choices) == 0 {
		return apperrors.Provider(providerName, "no choices in response")
	}

	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), target); err != nil {
		c.log.Warn("llm returned malformed json",
			slog.String("finish_reason", chat.Choices[0].FinishReason),
			slog.Int("content_length", len(content)))
		return apperrors.Provider(providerName, "malformed JSON in model response")
	}
	return nil
}

var deadlineLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDeadline accepts the date formats models commonly emit. Anything else,
// including relative phrases like "next week", yields nil.
func ParseDeadline(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func analysisPrompt(in entity.AnalysisInput) string {
	var b strings.Builder
	b.WriteString("Analyze this meeting transcript and return JSON with the keys:\n")
	b.WriteString(`"summary" (2-3 sentences), "key_points" (up to 5 strings), `)
	b.WriteString(`"action_items" (objects with description, assignee, deadline as YYYY-MM-DD or empty, priority high|medium|low, dependencies)`)
	if in.Extended {
		b.WriteString(`, "decisions" (objects with description, owner, rationale), `)
		b.WriteString(`"risks" (objects with description, severity, mitigation), `)
		b.WriteString(`"sentiment" (object with overall and score between -1 and 1)`)
	}
	b.WriteString(".\n")
	if in.Title != "" {
		fmt.Fprintf(&b, "\nMeeting title: %s\n", in.Title)
	}
	if in.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", in.Language)
	}

	b.WriteString("\nTranscript:\n")
	if len(in.Segments) > 0 {
		for _, seg := range in.Segments {
			if seg.Speaker != "" {
				fmt.Fprintf(&b, "[%.1fs] %s: %s\n", seg.Start, seg.Speaker, strings.TrimSpace(seg.Text))
			} else {
				fmt.Fprintf(&b, "[%.1fs] %s\n", seg.Start, strings.TrimSpace(seg.Text))
			}
		}
	} else {
		b.WriteString(in.Transcript)
	}
	return b.String()
}

func documentsPrompt(in entity.DocumentInput) (string, error) {
	analysis, err := json.Marshal(in.Analysis)
	if err != nil {
		return "", fmt.Errorf("failed to marshal analysis: %w", err)
	}

	var b strings.Builder
	b.WriteString("Generate formal meeting documents and return JSON with the string keys ")
	b.WriteString(`"minutes", "status_email" (executive summary email), "task_document" (action item tracking)`)
	if in.RiskAssessment {
		b.WriteString(`, "risk_assessment" (risk assessment report)`)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Title: %s\n", in.Title)
	if !in.MeetingDate.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", in.MeetingDate.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Analysis: %s\n", analysis)
	fmt.Fprintf(&b, "Transcript: %s\n", in.Transcript)
	return b.String(), nil
}
