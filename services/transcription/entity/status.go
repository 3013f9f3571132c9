package entity

type Status string

const (
	StatusPending      Status = "pending"
	StatusTranscribing Status = "transcribing"
	StatusTranscribed  Status = "transcribed"
	StatusAnalyzing    Status = "analyzing"
	StatusAnalyzed     Status = "analyzed"
	StatusDocumenting  Status = "documenting"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

var statusRank = map[Status]int{
	StatusPending:      0,
	StatusTranscribing: 1,
	StatusTranscribed:  2,
	StatusAnalyzing:    3,
	StatusAnalyzed:     4,
	StatusDocumenting:  5,
	StatusCompleted:    6,
}

func (s Status) Valid() bool {
	if s == StatusError {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransitionTo reports whether next is a legal successor of s. Terminal
// statuses absorb, error is reachable from any non-terminal status, and the
// success path only moves forward.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	if next == StatusError {
		return true
	}

	switch s {
	case StatusPending:
		return next == StatusTranscribing
	case StatusTranscribing:
		return next == StatusTranscribed
	case StatusTranscribed:
		return next == StatusAnalyzing
	case StatusAnalyzing:
		return next == StatusAnalyzed
	case StatusAnalyzed:
		return next == StatusDocumenting || next == StatusCompleted
	case StatusDocumenting:
		return next == StatusCompleted
	}
	return false
}
