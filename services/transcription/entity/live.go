package entity

import (
	"strings"
	"time"
)

type LiveState string

const (
	LiveConnecting LiveState = "connecting"
	LiveActive     LiveState = "active"
	LiveEnded      LiveState = "ended"
	LiveAborted    LiveState = "aborted"
)

type Platform string

const (
	PlatformZoom       Platform = "zoom"
	PlatformGoogleMeet Platform = "google_meet"
	PlatformTeams      Platform = "teams"
	PlatformWebex      Platform = "webex"
	PlatformWeb        Platform = "web"
)

func ParsePlatform(s string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformZoom, PlatformGoogleMeet, PlatformTeams, PlatformWebex:
		return p
	}
	return PlatformWeb
}

// Inbound message kinds.
const (
	MessageAudioChunk       = "audio_chunk"
	MessageVoiceCommand     = "voice_command"
	MessageAnalyticsRequest = "analytics_request"
	MessageEndSession       = "end_session"
)

// Outbound message kinds.
const (
	MessageSessionStarted = "session_started"
	MessageTranscript     = "transcript"
	MessageCommandResult  = "command_result"
	MessageAnalytics      = "analytics"
	MessageError          = "error"
)

type LiveInbound struct {
	Type       string  `json:"type"`
	Data       string  `json:"data,omitempty"`
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	DurationMs int     `json:"duration_ms,omitempty"`
	Timestamp  float64 `json:"timestamp,omitempty"`
	Speaker    string  `json:"speaker,omitempty"`
	Command    string  `json:"command,omitempty"`
}

type SessionStartedMessage struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	MeetingID string    `json:"meeting_id"`
	Tier      Tier      `json:"tier"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
}

type TranscriptMessage struct {
	Type       string  `json:"type"`
	Sequence   int64   `json:"sequence"`
	Timestamp  float64 `json:"timestamp"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

type CommandResultMessage struct {
	Type    string       `json:"type"`
	Command VoiceCommand `json:"command"`
}

type AnalyticsMessage struct {
	Type      string        `json:"type"`
	Analytics LiveAnalytics `json:"analytics"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type VoiceIntent string

const (
	IntentActionItem VoiceIntent = "action_item"
	IntentDecision   VoiceIntent = "decision"
	IntentFollowUp   VoiceIntent = "follow_up"
	IntentUnknown    VoiceIntent = "unknown"
)

type VoiceCommand struct {
	Intent     VoiceIntent `json:"intent"`
	Content    string      `json:"content,omitempty"`
	Recognized bool        `json:"recognized"`
	Raw        string      `json:"raw"`
}

type SentimentPoint struct {
	Sequence int64   `json:"sequence"`
	Score    float64 `json:"score"`
}

type LiveAnalytics struct {
	SpeakingTime     map[string]float64 `json:"speaking_time_distribution"`
	KeyTopics        []string           `json:"key_topics"`
	SentimentTrend   []SentimentPoint   `json:"sentiment_trends"`
	ActionItemsCount int                `json:"action_items_count"`
	DecisionsCount   int                `json:"decisions_count"`
	ParticipantCount int                `json:"participant_count"`
}

// LiveSessionSummary is what a closed live session leaves on the meeting record.
type LiveSessionSummary struct {
	SessionID         string        `json:"session_id"`
	Platform          Platform      `json:"platform"`
	State             LiveState     `json:"state"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           time.Time     `json:"ended_at"`
	ChunksReceived    int           `json:"chunks_received"`
	ChunksTranscribed int           `json:"chunks_transcribed"`
	Transcript        string        `json:"transcript,omitempty"`
	ActionItems       []string      `json:"action_items,omitempty"`
	Decisions         []string      `json:"decisions,omitempty"`
	FollowUps         []string      `json:"follow_ups,omitempty"`
	Analytics         LiveAnalytics `json:"analytics"`
	AbortReason       string        `json:"abort_reason,omitempty"`
}

type LiveAnalyticsResponse struct {
	MeetingID string        `json:"meeting_id"`
	SessionID string        `json:"session_id"`
	State     LiveState     `json:"state"`
	Analytics LiveAnalytics `json:"analytics"`
}

type VoiceCommandRequest struct {
	Command string `json:"command"`
}

type VoiceCommandResponse struct {
	MeetingID string       `json:"meeting_id"`
	SessionID string       `json:"session_id"`
	Command   VoiceCommand `json:"command"`
}

type ChunkRequest struct {
	MeetingID  string
	Sequence   int64
	Audio      []byte
	Format     string
	SampleRate int
	Language   string
}

type ChunkResult struct {
	Text       string
	Speaker    string
	Confidence float64
}
