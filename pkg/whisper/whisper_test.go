package whisper

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/logger"
)

func TestTranscribeSendsVerboseJSONForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "segment", r.FormValue("timestamp_granularities[]"))
		assert.Equal(t, "true", r.FormValue("diarize"))
		assert.Equal(t, "de", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "meeting.wav", header.Filename)
		assert.Equal(t, "RIFFDATA", string(data))

		json.NewEncoder(w).Encode(map[string]any{
			"text":     "hello team",
			"language": "de",
			"duration": 2.5,
			"segments": []map[string]any{
				{"id": 0, "start": 0.0, "end": 1.2, "text": "hello", "speaker": "A"},
				{"id": 1, "start": 1.2, "end": 2.5, "text": "team"},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "key"}, logger.Discard())
	resp, err := c.Transcribe(context.Background(), Request{
		Filename: "meeting.wav",
		Audio:    strings.NewReader("RIFFDATA"),
		Language: "de",
		Segments: true,
		Diarize:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello team", resp.Text)
	require.Len(t, resp.Segments, 2)
	assert.Equal(t, "A", resp.Segments[0].Speaker)
	assert.InDelta(t, 2.5, resp.Segments[1].End, 0.001)
}

func TestTranscribeSurfacesProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Audio file is too short"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logger.Discard())
	_, err := c.Transcribe(context.Background(), Request{Audio: strings.NewReader("x")})
	require.Error(t, err)

	var pe *apperrors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Audio file is too short", pe.Message)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.True(t, apperrors.IsProvider(err))
}
