package entity

import "time"

type Task struct {
	ID           string     `json:"id"`
	MeetingID    string     `json:"meeting_id"`
	OwnerID      string     `json:"owner_id"`
	Description  string     `json:"description"`
	Assignee     string     `json:"assignee,omitempty"`
	Priority     Priority   `json:"priority"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Completed    bool       `json:"completed"`
	CreatedAt    time.Time  `json:"created_at"`
}

type CalendarCredential struct {
	OwnerID     string    `json:"owner_id"`
	AccessToken string    `json:"-"`
	CalendarID  string    `json:"calendar_id"`
	TimeZone    string    `json:"time_zone"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CalendarEvent struct {
	Title           string
	Description     string
	Start           time.Time
	End             time.Time
	ReminderMinutes int
}
