// Package speech adapts the whisper client to the pipeline's Transcriber.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xilidan/workmate/pkg/whisper"
	"github.com/xilidan/workmate/services/transcription/entity"
)

type whisperClient interface {
	Transcribe(ctx context.Context, req whisper.Request) (*whisper.Response, error)
}

type Transcriber struct {
	client whisperClient
	log    *slog.Logger
}

func New(client *whisper.Client, log *slog.Logger) *Transcriber {
	return &Transcriber{client: client, log: log}
}

func (t *Transcriber) Transcribe(ctx context.Context, audio *entity.UploadedAudio, opts entity.TranscriptionOptions) (*entity.TranscriptResult, error) {
	f, err := os.Open(audio.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	t.log.Debug("transcribing upload",
		slog.String("meeting_id", audio.MeetingID),
		slog.String("tier", string(opts.Tier)),
		slog.Int64("size", audio.Metadata.Size))

	resp, err := t.client.Transcribe(ctx, whisper.Request{
		Filename: filepath.Base(audio.Path),
		Audio:    f,
		Language: opts.Language,
		Segments: opts.Segments,
		Diarize:  opts.Diarize,
	})
	if err != nil {
		return nil, err
	}

	return FromResponse(resp, opts), nil
}

// FromResponse converts a provider response into a transcript result.
// Segments are only kept when requested.
func FromResponse(resp *whisper.Response, opts entity.TranscriptionOptions) *entity.TranscriptResult {
	result := &entity.TranscriptResult{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: time.Duration(resp.Duration * float64(time.Second)),
	}
	if !opts.Segments {
		return result
	}

	for _, seg := range resp.Segments {
		s := entity.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
		if opts.Diarize {
			s.Speaker = seg.Speaker
		}
		if seg.AvgLogprob != 0 {
			c := confidence(seg.AvgLogprob)
			s.Confidence = &c
		}
		result.Segments = append(result.Segments, s)
	}
	return result
}

// confidence maps an average log-probability onto (0, 1].
func confidence(avgLogprob float64) float64 {
	return math.Min(1, math.Exp(avgLogprob))
}
