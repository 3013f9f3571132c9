package usecase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/whisper"
	"github.com/xilidan/workmate/services/asr/consts"
	"github.com/xilidan/workmate/services/asr/entity"
	"github.com/xilidan/workmate/services/asr/storage"
)

type Usecase interface {
	TranscribeChunk(ctx context.Context, req *entity.TranscribeChunkRequest) (*entity.TranscribeChunkResponse, error)
	GetTranscript(ctx context.Context, req *entity.GetTranscriptRequest) (*entity.GetTranscriptResponse, error)
	// Prune drops transcripts idle for longer than maxIdle.
	Prune(ctx context.Context, maxIdle time.Duration) int
}

type Transcriber interface {
	Transcribe(ctx context.Context, req whisper.Request) (*whisper.Response, error)
}

type usecase struct {
	storage     storage.Storage
	transcriber Transcriber
	log         *slog.Logger
}

func New(storage storage.Storage, transcriber Transcriber, log *slog.Logger) Usecase {
	return &usecase{
		storage:     storage,
		transcriber: transcriber,
		log:         log,
	}
}

func (u *usecase) TranscribeChunk(ctx context.Context, req *entity.TranscribeChunkRequest) (*entity.TranscribeChunkResponse, error) {
	if err := validate(req); err != nil {
		u.log.Debug("rejecting chunk", slog.String("error", err.Error()))
		return nil, err
	}

	format := strings.ToLower(req.Format)
	if format == "" {
		format = consts.FormatWAV
	}

	u.log.Debug("transcribing chunk",
		slog.String("meeting_id", req.MeetingID),
		slog.Int64("sequence", req.Sequence),
		slog.String("format", format),
		slog.Int("size", len(req.AudioData)))

	resp, err := u.transcriber.Transcribe(ctx, whisper.Request{
		Filename: fmt.Sprintf("chunk-%d.%s", req.Sequence, format),
		Audio:    bytes.NewReader(req.AudioData),
		Language: req.Language,
		Segments: true,
		Diarize:  true,
	})
	if err != nil {
		u.log.Error("chunk transcription failed",
			slog.String("meeting_id", req.MeetingID),
			slog.Int64("sequence", req.Sequence),
			slog.String("error", err.Error()))
		return nil, err
	}

	text := strings.TrimSpace(resp.Text)
	if _, err := u.storage.AppendChunk(ctx, req.MeetingID, text); err != nil {
		return nil, err
	}

	speaker, confidence := summarizeSegments(resp.Segments)
	return &entity.TranscribeChunkResponse{
		Text:       text,
		MeetingID:  req.MeetingID,
		Sequence:   req.Sequence,
		Speaker:    speaker,
		Confidence: confidence,
	}, nil
}

func (u *usecase) GetTranscript(ctx context.Context, req *entity.GetTranscriptRequest) (*entity.GetTranscriptResponse, error) {
	if req.MeetingID == "" {
		return nil, apperrors.InvalidInput("meeting_id is required")
	}

	t, err := u.storage.GetTranscript(ctx, req.MeetingID)
	if err != nil {
		return nil, err
	}

	return &entity.GetTranscriptResponse{
		MeetingID: t.MeetingID,
		FullText:  t.Text,
		Chunks:    t.Chunks,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}, nil
}

func (u *usecase) Prune(ctx context.Context, maxIdle time.Duration) int {
	n := u.storage.DeleteBefore(ctx, time.Now().Add(-maxIdle))
	if n > 0 {
		u.log.Info("pruned idle transcripts", slog.Int("count", n))
	}
	return n
}

func validate(req *entity.TranscribeChunkRequest) error {
	if req.MeetingID == "" {
		return apperrors.InvalidInput("meeting_id is required")
	}
	if len(req.AudioData) == 0 {
		return apperrors.EmptyUpload()
	}
	if len(req.AudioData) > consts.MaxChunkSize {
		return apperrors.InvalidInput("chunk exceeds %d bytes", consts.MaxChunkSize)
	}
	if req.Format != "" {
		if _, ok := consts.SupportedFormats[strings.ToLower(req.Format)]; !ok {
			return apperrors.UnsupportedFormat(req.Format)
		}
	}
	return nil
}

// summarizeSegments picks the dominant speaker and the mean confidence.
func summarizeSegments(segs []whisper.Segment) (string, float32) {
	if len(segs) == 0 {
		return "", 0
	}

	talk := make(map[string]float64)
	var sum float64
	for _, s := range segs {
		if s.Speaker != "" {
			talk[s.Speaker] += s.End - s.Start
		}
		sum += math.Min(1, math.Exp(s.AvgLogprob))
	}

	var speaker string
	best := -1.0
	for sp, d := range talk {
		if d > best || (d == best && sp < speaker) {
			speaker, best = sp, d
		}
	}
	return speaker, float32(sum / float64(len(segs)))
}
