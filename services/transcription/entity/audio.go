package entity

import "time"

type AudioFormat string

const (
	FormatMP3 AudioFormat = "mp3"
	FormatWAV AudioFormat = "wav"
	FormatM4A AudioFormat = "m4a"
)

type AudioMetadata struct {
	Format     AudioFormat   `json:"format,omitempty"`
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	Channels   int           `json:"channels,omitempty"`
	SampleRate int           `json:"sample_rate,omitempty"`
	Checksum   string        `json:"checksum,omitempty"`
	Inspected  bool          `json:"inspected"`
}

// UploadedAudio is the on-disk artifact of one upload. It lives only until
// the run that consumes it reaches a terminal state.
type UploadedAudio struct {
	MeetingID string
	Path      string
	Metadata  AudioMetadata
}
