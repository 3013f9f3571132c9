package usecase

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/logger"
	"github.com/xilidan/workmate/pkg/whisper"
	"github.com/xilidan/workmate/services/asr/entity"
	"github.com/xilidan/workmate/services/asr/storage"
)

type mockTranscriber struct {
	mock.Mock
}

func (m *mockTranscriber) Transcribe(ctx context.Context, req whisper.Request) (*whisper.Response, error) {
	if req.Audio != nil {
		io.Copy(io.Discard, req.Audio)
	}
	args := m.Called(ctx, req.Filename)
	if resp, ok := args.Get(0).(*whisper.Response); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestTranscribeChunkAccumulates(t *testing.T) {
	stt := new(mockTranscriber)
	stt.On("Transcribe", mock.Anything, "chunk-1.wav").Return(&whisper.Response{
		Text: " Let's start. ",
		Segments: []whisper.Segment{
			{Start: 0, End: 1, Speaker: "alice", AvgLogprob: 0},
			{Start: 1, End: 4, Speaker: "bob", AvgLogprob: 0},
		},
	}, nil).Once()
	stt.On("Transcribe", mock.Anything, "chunk-2.mp3").Return(&whisper.Response{Text: "Agenda first."}, nil).Once()

	usc := New(storage.New(), stt, logger.Discard())
	ctx := context.Background()

	got, err := usc.TranscribeChunk(ctx, &entity.TranscribeChunkRequest{
		AudioData: []byte("RIFF"),
		MeetingID: "m1",
		Sequence:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Let's start.", got.Text)
	assert.Equal(t, "bob", got.Speaker)
	assert.InDelta(t, 1.0, got.Confidence, 1e-6)

	_, err = usc.TranscribeChunk(ctx, &entity.TranscribeChunkRequest{
		AudioData: []byte("ID3"),
		MeetingID: "m1",
		Sequence:  2,
		Format:    "MP3",
	})
	require.NoError(t, err)

	full, err := usc.GetTranscript(ctx, &entity.GetTranscriptRequest{MeetingID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "Let's start. Agenda first.", full.FullText)
	assert.Equal(t, 2, full.Chunks)
	stt.AssertExpectations(t)
}

func TestTranscribeChunkValidation(t *testing.T) {
	usc := New(storage.New(), new(mockTranscriber), logger.Discard())
	ctx := context.Background()

	tests := []struct {
		name string
		req  *entity.TranscribeChunkRequest
	}{
		{"missing meeting", &entity.TranscribeChunkRequest{AudioData: []byte{1}}},
		{"empty audio", &entity.TranscribeChunkRequest{MeetingID: "m1"}},
		{"bad format", &entity.TranscribeChunkRequest{MeetingID: "m1", AudioData: []byte{1}, Format: "ogg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := usc.TranscribeChunk(ctx, tt.req)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestTranscribeChunkProviderFailure(t *testing.T) {
	stt := new(mockTranscriber)
	stt.On("Transcribe", mock.Anything, mock.Anything).Return(nil, apperrors.Provider("whisper", "rate limited"))

	stg := storage.New()
	usc := New(stg, stt, logger.Discard())

	_, err := usc.TranscribeChunk(context.Background(), &entity.TranscribeChunkRequest{MeetingID: "m1", AudioData: []byte{1}})
	require.Error(t, err)
	assert.Equal(t, "rate limited", apperrors.ProviderMessage(err))

	_, err = stg.GetTranscript(context.Background(), "m1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestPrune(t *testing.T) {
	stt := new(mockTranscriber)
	stt.On("Transcribe", mock.Anything, mock.Anything).Return(&whisper.Response{Text: "hi"}, nil)

	usc := New(storage.New(), stt, logger.Discard())
	ctx := context.Background()
	_, err := usc.TranscribeChunk(ctx, &entity.TranscribeChunkRequest{MeetingID: "m1", AudioData: []byte{1}})
	require.NoError(t, err)

	assert.Equal(t, 0, usc.Prune(ctx, time.Hour))
	assert.Equal(t, 1, usc.Prune(ctx, -time.Second))
}

func TestSummarizeSegments(t *testing.T) {
	speaker, conf := summarizeSegments(nil)
	assert.Empty(t, speaker)
	assert.Zero(t, conf)

	speaker, _ = summarizeSegments([]whisper.Segment{
		{Start: 0, End: 2, Speaker: "zed"},
		{Start: 2, End: 4, Speaker: "amy"},
	})
	assert.Equal(t, "amy", speaker)
}
