package storage

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/services/asr/entity"
)

// Storage keeps the running transcript of each meeting streamed through the sidecar.
type Storage interface {
	AppendChunk(ctx context.Context, meetingID, text string) (*entity.Transcript, error)
	GetTranscript(ctx context.Context, meetingID string) (*entity.Transcript, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) int
}

type storage struct {
	mu          sync.RWMutex
	transcripts map[string]*entity.Transcript
	now         func() time.Time
}

func New() Storage {
	return &storage{
		transcripts: make(map[string]*entity.Transcript),
		now:         time.Now,
	}
}

func (s *storage) AppendChunk(ctx context.Context, meetingID, text string) (*entity.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	t, exists := s.transcripts[meetingID]
	if !exists {
		t = &entity.Transcript{
			MeetingID: meetingID,
			CreatedAt: now,
		}
		s.transcripts[meetingID] = t
	}

	if text != "" {
		if t.Text != "" {
			t.Text += " "
		}
		t.Text += text
	}
	t.Chunks++
	t.UpdatedAt = now

	out := *t
	return &out, nil
}

func (s *storage) GetTranscript(ctx context.Context, meetingID string) (*entity.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.transcripts[meetingID]
	if !exists {
		return nil, apperrors.NotFound("no transcript for meeting %s", meetingID)
	}
	out := *t
	return &out, nil
}

// DeleteBefore drops transcripts not updated since cutoff and returns how many went.
func (s *storage) DeleteBefore(ctx context.Context, cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.transcripts {
		if t.UpdatedAt.Before(cutoff) {
			delete(s.transcripts, id)
			n++
		}
	}
	return n
}
