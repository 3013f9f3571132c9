package consts

import "time"

const (
	ServiceName = "transcription"

	MB = 1024 * 1024

	// Uploads are copied and metered in chunks of this size.
	UploadChunkSize = 1 * MB

	DefaultLanguage = "en"

	// Live session close codes and reasons.
	CloseTierNotEligible   = 4000
	ReasonTierNotEligible  = "Live transcription requires Enterprise tier"
	CloseProviderFailure   = 1011
	ReasonProviderFailure  = "Live transcription failed"
	ReasonSessionEnded     = "Session ended"
	DefaultLiveMaxInFlight = 4
	// Decoded chunks a session may hold beyond those being transcribed.
	DefaultLiveChunkBacklog = 16

	// Meeting list paging, matching skip/limit query parameters.
	DefaultListLimit = 100
	MaxListLimit     = 500

	CalendarEventDuration   = 30 * time.Minute
	CalendarReminderMinutes = 10

	// Message stored on a meeting when a run fails on an unexpected fault.
	InternalErrorFormat = "internal error during %s"
)
