package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/services/transcription/entity"
)

func newMeeting(id string) *entity.Meeting {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &entity.Meeting{
		ID:          id,
		OwnerID:     "owner-1",
		Tier:        entity.TierPremium,
		Status:      entity.StatusPending,
		MeetingDate: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.CreateMeeting(ctx, newMeeting("m1")))
	err := s.CreateMeeting(ctx, newMeeting("m1"))
	assert.True(t, apperrors.IsConflict(err))

	got, err := s.GetMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, got.Status)

	_, err = s.GetMeeting(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateMeeting(ctx, newMeeting("m1")))

	got, _ := s.GetMeeting(ctx, "m1")
	got.Status = entity.StatusError

	again, _ := s.GetMeeting(ctx, "m1")
	assert.Equal(t, entity.StatusPending, again.Status)
}

func TestMemoryUpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateMeeting(ctx, newMeeting("m1")))

	_, err := s.UpdateMeeting(ctx, "m1", func(m *entity.Meeting) error {
		m.Status = entity.StatusTranscribing
		return errors.New("nope")
	})
	assert.EqualError(t, err, "nope")

	got, _ := s.GetMeeting(ctx, "m1")
	assert.Equal(t, entity.StatusPending, got.Status)
}

func TestMemoryUpdateSerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateMeeting(ctx, newMeeting("m1")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateMeeting(ctx, "m1", func(m *entity.Meeting) error {
				m.LiveSessions = append(m.LiveSessions, entity.LiveSessionSummary{})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := s.GetMeeting(ctx, "m1")
	assert.Len(t, got.LiveSessions, 50)
}

func TestMemoryTasksAndCredentials(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.CreateTasks(ctx, []entity.Task{
		{ID: "t1", MeetingID: "m1", Description: "a", Priority: entity.PriorityHigh},
		{ID: "t2", MeetingID: "m1", Description: "b", Priority: entity.PriorityMedium},
		{ID: "t3", MeetingID: "m2", Description: "c", Priority: entity.PriorityLow},
	}))

	tasks, err := s.ListTasks(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].ID)

	empty, err := s.ListTasks(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.GetCalendarCredential(ctx, "owner-1")
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, s.SaveCalendarCredential(ctx, &entity.CalendarCredential{OwnerID: "owner-1", AccessToken: "tok"}))
	cred, err := s.GetCalendarCredential(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.AccessToken)
}

func TestMemoryListMeetingsPagesOwnersMeetings(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		m := newMeeting(id)
		m.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.CreateMeeting(ctx, m))
	}
	other := newMeeting("x1")
	other.OwnerID = "owner-2"
	require.NoError(t, s.CreateMeeting(ctx, other))

	all, err := s.ListMeetings(ctx, entity.MeetingListQuery{OwnerID: "owner-1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, m := range all {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m4", "m3", "m2", "m1"}, ids)

	page, err := s.ListMeetings(ctx, entity.MeetingListQuery{OwnerID: "owner-1", Skip: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].ID)
	assert.Equal(t, "m2", page[1].ID)

	past, err := s.ListMeetings(ctx, entity.MeetingListQuery{OwnerID: "owner-1", Skip: 10})
	require.NoError(t, err)
	assert.Empty(t, past)

	page[0].Status = entity.StatusError
	got, _ := s.GetMeeting(ctx, "m3")
	assert.Equal(t, entity.StatusPending, got.Status)
}
