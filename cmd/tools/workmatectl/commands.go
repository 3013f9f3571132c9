package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	wjson "github.com/xilidan/workmate/pkg/json"
	"github.com/xilidan/workmate/pkg/jwt"
	"github.com/xilidan/workmate/services/transcription/entity"
)

const apiPrefix = "/api/v1/transcription"

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := wjson.ProviderMessage(wjson.ReadErrorBody(resp))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return apperrors.NotFound("%s", msg)
		case http.StatusConflict:
			return apperrors.Conflict("%s", msg)
		case http.StatusServiceUnavailable:
			return apperrors.Unavailable("%s", msg)
		}
		return fmt.Errorf("%s (HTTP %d)", strings.TrimSpace(msg), resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return wjson.DecodeResponse(resp, out)
}

func (c *apiClient) status(ctx context.Context, meetingID string) (*entity.StatusResponse, error) {
	var out entity.StatusResponse
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/"+url.PathEscape(meetingID)+"/status", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type uploadOptions struct {
	meetingID    string
	tier         string
	title        string
	language     string
	mimeType     string
	syncCalendar bool
}

// upload streams path as the audio_file part without buffering the file.
func (c *apiClient) upload(ctx context.Context, path string, opts uploadOptions) (*entity.UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mimeType := opts.mimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio_file"; filename=%q`, filepath.Base(path)))
		header.Set("Content-Type", mimeType)
		part, err := mw.CreatePart(header)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	q := url.Values{}
	for k, v := range map[string]string{"tier": opts.tier, "title": opts.title, "language": opts.language} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if opts.syncCalendar {
		q.Set("sync_calendar", strconv.FormatBool(true))
	}

	path = apiPrefix + "/upload"
	if opts.meetingID != "" {
		path += "/" + url.PathEscape(opts.meetingID)
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out entity.UploadResponse
	if err := c.do(ctx, http.MethodPost, path, pr, mw.FormDataContentType(), &out); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &out, nil
}

// settled reports whether a run will not change the record any further.
func settled(st *entity.StatusResponse) bool {
	return st.Status.IsTerminal() || (st.Status == entity.StatusAnalyzed && st.Warning != "")
}

func (c *apiClient) wait(ctx context.Context, meetingID string, interval time.Duration, progress func(*entity.StatusResponse)) (*entity.StatusResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last entity.Status
	for {
		st, err := c.status(ctx, meetingID)
		if err != nil {
			return nil, err
		}
		if st.Status != last {
			progress(st)
			last = st.Status
		}
		if settled(st) {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printResult(w io.Writer, v any) error {
	switch outputFormat {
	case "yaml":
		// round-trip through JSON so field names match the API
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(generic)
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
}

func newTokenCommand() *cobra.Command {
	var userID, secret string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			signed, err := jwt.Generate(cmd.Context(), userID, secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id to embed in the token")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret shared with the service")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newUploadCommand() *cobra.Command {
	var (
		opts     uploadOptions
		waitRun  bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a recording and start its run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()

			uploadCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()
			resp, err := c.upload(uploadCtx, args[0], opts)
			if err != nil {
				return err
			}
			if !waitRun {
				return printResult(cmd.OutOrStdout(), resp)
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "uploaded %s (%d bytes), waiting for run\n", resp.MeetingID, resp.FileSize)
			st, err := c.wait(cmd.Context(), resp.MeetingID, interval, func(st *entity.StatusResponse) {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", st.Status)
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), st)
		},
	}

	cmd.Flags().StringVar(&opts.meetingID, "meeting-id", "", "Attach the upload to an existing pending meeting")
	cmd.Flags().StringVar(&opts.tier, "tier", "basic", "Subscription tier: basic, premium, enterprise")
	cmd.Flags().StringVar(&opts.title, "title", "", "Meeting title")
	cmd.Flags().StringVar(&opts.language, "language", "", "Spoken language hint")
	cmd.Flags().StringVar(&opts.mimeType, "mime", "", "Override the audio MIME type")
	cmd.Flags().BoolVar(&opts.syncCalendar, "sync-calendar", false, "Create calendar events for action items")
	cmd.Flags().BoolVar(&waitRun, "wait", false, "Poll until the run settles")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval for --wait")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <meeting-id>",
		Short: "Show the run status of a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			st, err := newAPIClient().status(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), st)
		},
	}
}

func newGetCommand(resource string) *cobra.Command {
	return &cobra.Command{
		Use:   resource + " <meeting-id>",
		Short: "Show the " + resource + " of a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var out map[string]any
			path := apiPrefix + "/" + url.PathEscape(args[0]) + "/" + resource
			if err := newAPIClient().do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
				if apperrors.IsNotFound(err) {
					return fmt.Errorf("%s not available for %s yet", resource, args[0])
				}
				return err
			}
			return printResult(cmd.OutOrStdout(), out)
		},
	}
}
