package storage

import (
	"context"
	"slices"
	"strings"
	"sync"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/services/transcription/entity"
)

type memory struct {
	mu          sync.RWMutex
	meetings    map[string]*entity.Meeting
	tasks       map[string][]entity.Task
	credentials map[string]entity.CalendarCredential
}

// NewMemory returns a process-local Storage. Records handed out are copies.
func NewMemory() Storage {
	return &memory{
		meetings:    make(map[string]*entity.Meeting),
		tasks:       make(map[string][]entity.Task),
		credentials: make(map[string]entity.CalendarCredential),
	}
}

func (s *memory) CreateMeeting(ctx context.Context, m *entity.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.meetings[m.ID]; exists {
		return apperrors.Conflict("meeting %s already exists", m.ID)
	}
	s.meetings[m.ID] = m.Clone()
	return nil
}

func (s *memory) GetMeeting(ctx context.Context, id string) (*entity.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.meetings[id]
	if !exists {
		return nil, apperrors.NotFound("meeting %s", id)
	}
	return m.Clone(), nil
}

func (s *memory) UpdateMeeting(ctx context.Context, id string, fn UpdateFunc) (*entity.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.meetings[id]
	if !exists {
		return nil, apperrors.NotFound("meeting %s", id)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.meetings[id] = next
	return next.Clone(), nil
}

func (s *memory) ListMeetings(ctx context.Context, q entity.MeetingListQuery) ([]*entity.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := make([]*entity.Meeting, 0)
	for _, m := range s.meetings {
		if m.OwnerID == q.OwnerID {
			owned = append(owned, m)
		}
	}
	slices.SortFunc(owned, func(a, b *entity.Meeting) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if q.Skip >= len(owned) {
		return []*entity.Meeting{}, nil
	}
	owned = owned[q.Skip:]
	if q.Limit > 0 && q.Limit < len(owned) {
		owned = owned[:q.Limit]
	}

	out := make([]*entity.Meeting, 0, len(owned))
	for _, m := range owned {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *memory) CreateTasks(ctx context.Context, tasks []entity.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range tasks {
		task.Dependencies = slices.Clone(task.Dependencies)
		s.tasks[task.MeetingID] = append(s.tasks[task.MeetingID], task)
	}
	return nil
}

func (s *memory) ListTasks(ctx context.Context, meetingID string) ([]entity.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]entity.Task, 0, len(s.tasks[meetingID]))
	for _, task := range s.tasks[meetingID] {
		task.Dependencies = slices.Clone(task.Dependencies)
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s *memory) GetCalendarCredential(ctx context.Context, ownerID string) (*entity.CalendarCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, exists := s.credentials[ownerID]
	if !exists {
		return nil, apperrors.NotFound("calendar credential for %s", ownerID)
	}
	return &cred, nil
}

func (s *memory) SaveCalendarCredential(ctx context.Context, cred *entity.CalendarCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[cred.OwnerID] = *cred
	return nil
}
