package entity

import (
	"slices"
	"strings"
	"time"
)

type Tier string

const (
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// ParseTier accepts tier names case-insensitively; empty means basic.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case "", TierBasic:
		return TierBasic, true
	case TierPremium:
		return TierPremium, true
	case TierEnterprise:
		return TierEnterprise, true
	}
	return "", false
}

type Meeting struct {
	ID           string               `json:"id"`
	OwnerID      string               `json:"owner_id"`
	Title        string               `json:"title"`
	MeetingDate  time.Time            `json:"meeting_date"`
	Tier         Tier                 `json:"tier"`
	Status       Status               `json:"status"`
	Language     string               `json:"language"`
	Transcript   *string              `json:"transcript,omitempty"`
	Segments     []Segment            `json:"segments,omitempty"`
	Analysis     *Analysis            `json:"analysis,omitempty"`
	Documents    *Documents           `json:"documents,omitempty"`
	Audio        AudioMetadata        `json:"audio"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Warning      string               `json:"warning,omitempty"`
	SyncCalendar bool                 `json:"sync_calendar"`
	ProcessedAt  *time.Time           `json:"processed_at,omitempty"`
	LiveSessions []LiveSessionSummary `json:"live_sessions,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

type Segment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Speaker    string   `json:"speaker,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (m *Meeting) Clone() *Meeting {
	if m == nil {
		return nil
	}
	c := *m
	if m.Transcript != nil {
		t := *m.Transcript
		c.Transcript = &t
	}
	c.Segments = slices.Clone(m.Segments)
	c.Analysis = m.Analysis.Clone()
	if m.Documents != nil {
		d := *m.Documents
		c.Documents = &d
	}
	if m.ProcessedAt != nil {
		p := *m.ProcessedAt
		c.ProcessedAt = &p
	}
	c.LiveSessions = slices.Clone(m.LiveSessions)
	return &c
}

type UploadRequest struct {
	MeetingID    string
	OwnerID      string
	Title        string
	Language     string
	Tier         string
	MeetingDate  time.Time
	SyncCalendar bool
	MIMEType     string
	Filename     string
}

type UploadResponse struct {
	MeetingID  string      `json:"meeting_id"`
	Status     string      `json:"status"`
	FileFormat AudioFormat `json:"file_format"`
	FileSize   int64       `json:"file_size"`
	Tier       Tier        `json:"tier"`
	CreatedAt  time.Time   `json:"created_at"`
}

type MeetingQuery struct {
	MeetingID string
	OwnerID   string
}

// MeetingListQuery pages through one owner's meetings, newest first.
type MeetingListQuery struct {
	OwnerID string
	Skip    int
	Limit   int
}

type MeetingListResponse struct {
	Meetings []*Meeting `json:"meetings"`
	Skip     int        `json:"skip"`
	Limit    int        `json:"limit"`
}

type StatusResponse struct {
	MeetingID   string     `json:"meeting_id"`
	Status      Status     `json:"status"`
	Tier        Tier       `json:"tier"`
	Error       string     `json:"error,omitempty"`
	Warning     string     `json:"warning,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type TranscriptResponse struct {
	MeetingID string        `json:"meeting_id"`
	Text      string        `json:"text"`
	Language  string        `json:"language,omitempty"`
	Segments  []Segment     `json:"segments,omitempty"`
	Audio     AudioMetadata `json:"audio"`
}

type AnalysisResponse struct {
	MeetingID string    `json:"meeting_id"`
	Analysis  *Analysis `json:"analysis"`
}

type DocumentsResponse struct {
	MeetingID string     `json:"meeting_id"`
	Documents *Documents `json:"documents"`
}
