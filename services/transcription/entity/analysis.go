package entity

import (
	"slices"
	"strings"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// NormalizePriority maps free-form provider output onto the three priorities,
// defaulting to medium.
func NormalizePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh, "urgent", "critical":
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	}
	return PriorityMedium
}

type Analysis struct {
	Summary     string            `json:"summary,omitempty"`
	KeyPoints   []string          `json:"key_points,omitempty"`
	ActionItems []ActionItem      `json:"action_items,omitempty"`
	Decisions   []Decision        `json:"decisions,omitempty"`
	Risks       []Risk            `json:"risks,omitempty"`
	Sentiment   *Sentiment        `json:"sentiment,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type ActionItem struct {
	Description  string     `json:"description"`
	Assignee     string     `json:"assignee,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Priority     Priority   `json:"priority"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

type Decision struct {
	Description string `json:"description"`
	Owner       string `json:"owner,omitempty"`
	Rationale   string `json:"rationale,omitempty"`
}

type Risk struct {
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
	Mitigation  string `json:"mitigation,omitempty"`
}

type Sentiment struct {
	Overall string  `json:"overall"`
	Score   float64 `json:"score"`
}

type Documents struct {
	Minutes        string `json:"minutes,omitempty"`
	StatusEmail    string `json:"status_email,omitempty"`
	TaskDocument   string `json:"task_document,omitempty"`
	RiskAssessment string `json:"risk_assessment,omitempty"`
}

func (d *Documents) Empty() bool {
	return d == nil || (d.Minutes == "" && d.StatusEmail == "" && d.TaskDocument == "" && d.RiskAssessment == "")
}

func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	c.KeyPoints = slices.Clone(a.KeyPoints)
	c.ActionItems = make([]ActionItem, len(a.ActionItems))
	for i, item := range a.ActionItems {
		item.Dependencies = slices.Clone(item.Dependencies)
		if item.Deadline != nil {
			d := *item.Deadline
			item.Deadline = &d
		}
		c.ActionItems[i] = item
	}
	if a.ActionItems == nil {
		c.ActionItems = nil
	}
	c.Decisions = slices.Clone(a.Decisions)
	c.Risks = slices.Clone(a.Risks)
	if a.Sentiment != nil {
		s := *a.Sentiment
		c.Sentiment = &s
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Normalize trims text, drops empty entries and fills priority defaults.
func (a *Analysis) Normalize() *Analysis {
	if a == nil {
		return nil
	}
	a.Summary = strings.TrimSpace(a.Summary)

	points := a.KeyPoints[:0]
	for _, p := range a.KeyPoints {
		if p = strings.TrimSpace(p); p != "" {
			points = append(points, p)
		}
	}
	a.KeyPoints = points

	items := a.ActionItems[:0]
	for _, item := range a.ActionItems {
		item.Description = strings.TrimSpace(item.Description)
		if item.Description == "" {
			continue
		}
		item.Assignee = strings.TrimSpace(item.Assignee)
		item.Priority = NormalizePriority(string(item.Priority))
		items = append(items, item)
	}
	a.ActionItems = items

	decisions := a.Decisions[:0]
	for _, d := range a.Decisions {
		d.Description = strings.TrimSpace(d.Description)
		if d.Description != "" {
			decisions = append(decisions, d)
		}
	}
	a.Decisions = decisions

	risks := a.Risks[:0]
	for _, r := range a.Risks {
		r.Description = strings.TrimSpace(r.Description)
		if r.Description != "" {
			risks = append(risks, r)
		}
	}
	a.Risks = risks
	return a
}

type TranscriptionOptions struct {
	Tier     Tier
	Language string
	Segments bool
	Diarize  bool
}

type TranscriptResult struct {
	Text     string
	Language string
	Duration time.Duration
	Segments []Segment
}

type AnalysisInput struct {
	MeetingID  string
	Title      string
	Tier       Tier
	Language   string
	Transcript string
	Segments   []Segment
	Extended   bool
}

type DocumentInput struct {
	MeetingID      string
	Title          string
	MeetingDate    time.Time
	Transcript     string
	Analysis       *Analysis
	RiskAssessment bool
}
