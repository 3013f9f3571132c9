package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xilidan/workmate/pkg/jwt"
	"github.com/xilidan/workmate/services/transcription/entity"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, _, err := execute(t, "token", "--user", "alice", "--secret", "s3cret")
	require.NoError(t, err)

	userID, err := jwt.ParseUserID(t.Context(), strings.TrimSpace(out), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestUploadAndWait(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/transcription/upload/m1":
			assert.Equal(t, "premium", r.URL.Query().Get("tier"))
			mr, err := r.MultipartReader()
			if !assert.NoError(t, err) {
				return
			}
			part, err := mr.NextPart()
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, "audio_file", part.FormName())
			assert.Equal(t, "audio/mpeg", part.Header.Get("Content-Type"))
			data, _ := io.ReadAll(part)
			assert.Equal(t, "ID3-audio", string(data))

			json.NewEncoder(w).Encode(entity.UploadResponse{MeetingID: "m1", Status: "processing", FileSize: int64(len(data))})
		case r.URL.Path == "/api/v1/transcription/m1/status":
			st := entity.StatusTranscribing
			if polls.Add(1) > 1 {
				st = entity.StatusCompleted
			}
			json.NewEncoder(w).Encode(entity.StatusResponse{MeetingID: "m1", Status: st})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "standup.mp3")
	require.NoError(t, os.WriteFile(file, []byte("ID3-audio"), 0o600))

	out, progress, err := execute(t, "upload", file,
		"--server", srv.URL, "--token", "tok",
		"--meeting-id", "m1", "--tier", "premium", "--mime", "audio/mpeg",
		"--wait", "--interval", "10ms")
	require.NoError(t, err)
	assert.Contains(t, progress, "transcribing")

	var st entity.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, entity.StatusCompleted, st.Status)
}

func TestGetCommandReportsMissingStage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found: analysis for meeting m1 is not available yet"}`))
	}))
	defer srv.Close()

	_, _, err := execute(t, "analysis", "m1", "--server", srv.URL)
	require.Error(t, err)
	assert.Equal(t, "analysis not available for m1 yet", err.Error())
}

func TestSettled(t *testing.T) {
	assert.True(t, settled(&entity.StatusResponse{Status: entity.StatusError}))
	assert.True(t, settled(&entity.StatusResponse{Status: entity.StatusAnalyzed, Warning: "document generation failed"}))
	assert.False(t, settled(&entity.StatusResponse{Status: entity.StatusAnalyzed}))
}

func TestPrintResultYAML(t *testing.T) {
	outputFormat = "yaml"
	defer func() { outputFormat = "json" }()

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, entity.StatusResponse{MeetingID: "m1", Status: entity.StatusPending}))
	assert.Contains(t, buf.String(), "meeting_id: m1")
	assert.Contains(t, buf.String(), "status: pending")
}
