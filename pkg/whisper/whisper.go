// Package whisper is a client for OpenAI-compatible audio transcription endpoints
// (POST /v1/audio/transcriptions). The audio body is streamed, never buffered.
package whisper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/json"
)

const (
	providerName    = "whisper"
	transcribePath  = "/v1/audio/transcriptions"
	defaultModel    = "whisper-1"
	formatVerbose   = "verbose_json"
	granularitySegs = "segment"
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

type Request struct {
	Filename string
	Audio    io.Reader
	Language string
	// Segments asks for segment-level timestamps.
	Segments bool
	// Diarize asks for speaker labels where the provider supports them.
	Diarize bool
}

type Response struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

type Segment struct {
	ID         int     `json:"id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker,omitempty"`
	AvgLogprob float64 `json:"avg_logprob"`
}

func New(cfg Config, log *slog.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	log.Debug("creating whisper client",
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

func (c *Client) Transcribe(ctx context.Context, req Request) (*Response, error) {
	if req.Audio == nil {
		return nil, fmt.Errorf("audio reader is required")
	}

	body, contentType := c.multipartBody(req)
	defer body.Close()

	url := c.baseURL + transcribePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.log.Debug("sending transcription request",
		slog.String("url", url),
		slog.String("filename", req.Filename),
		slog.Bool("segments", req.Segments),
		slog.Bool("diarize", req.Diarize))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &apperrors.ProviderError{Provider: providerName, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw := json.ReadErrorBody(resp)
		c.log.Warn("transcription provider returned error",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", raw))
		return nil, &apperrors.ProviderError{
			Provider:   providerName,
			Message:    json.ProviderMessage(raw),
			StatusCode: resp.StatusCode,
		}
	}

	var result Response
	if err := json.DecodeResponse(resp, &result); err != nil {
		return nil, &apperrors.ProviderError{Provider: providerName, Message: err.Error()}
	}

	c.log.Debug("transcription received",
		slog.Int("text_length", len(result.Text)),
		slog.Int("segments", len(result.Segments)))
	return &result, nil
}

// multipartBody streams the form through a pipe so large files never sit in memory.
func (c *Client) multipartBody(req Request) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := c.writeForm(writer, req)
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, writer.FormDataContentType()
}

func (c *Client) writeForm(writer *multipart.Writer, req Request) error {
	fields := [][2]string{
		{"model", c.model},
		{"response_format", formatVerbose},
	}
	if req.Language != "" {
		fields = append(fields, [2]string{"language", req.Language})
	}
	if req.Segments {
		fields = append(fields, [2]string{"timestamp_granularities[]", granularitySegs})
	}
	if req.Diarize {
		fields = append(fields, [2]string{"diarize", "true"})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	filename := req.Filename
	if filename == "" {
		filename = "audio"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, req.Audio)
	return err
}
