package storage

import (
	"context"

	"github.com/xilidan/workmate/services/transcription/entity"
)

// UpdateFunc mutates a meeting inside a store's read-modify-write. Returning an
// error aborts the update and leaves the stored record untouched.
type UpdateFunc func(m *entity.Meeting) error

// Storage persists meeting records, tasks and calendar credentials. All record
// mutations go through UpdateMeeting, which serializes writers per meeting.
type Storage interface {
	CreateMeeting(ctx context.Context, m *entity.Meeting) error
	GetMeeting(ctx context.Context, id string) (*entity.Meeting, error)
	UpdateMeeting(ctx context.Context, id string, fn UpdateFunc) (*entity.Meeting, error)
	// ListMeetings returns the owner's meetings ordered by creation time,
	// newest first, skipping q.Skip and returning at most q.Limit.
	ListMeetings(ctx context.Context, q entity.MeetingListQuery) ([]*entity.Meeting, error)

	CreateTasks(ctx context.Context, tasks []entity.Task) error
	ListTasks(ctx context.Context, meetingID string) ([]entity.Task, error)

	GetCalendarCredential(ctx context.Context, ownerID string) (*entity.CalendarCredential, error)
	SaveCalendarCredential(ctx context.Context, cred *entity.CalendarCredential) error
}
