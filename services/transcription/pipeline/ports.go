package pipeline

import (
	"context"

	"github.com/xilidan/workmate/services/transcription/entity"
)

// Transcriber turns a stored upload into text. Implementations report
// provider failures as *errors.ProviderError.
type Transcriber interface {
	Transcribe(ctx context.Context, audio *entity.UploadedAudio, opts entity.TranscriptionOptions) (*entity.TranscriptResult, error)
}

// Analyzer derives structured analysis and documents from a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, in entity.AnalysisInput) (*entity.Analysis, error)
	GenerateDocuments(ctx context.Context, in entity.DocumentInput) (*entity.Documents, error)
}

type CalendarClient interface {
	CreateEvents(ctx context.Context, cred entity.CalendarCredential, events []entity.CalendarEvent) ([]string, error)
}

// AudioStore owns upload artifacts.
type AudioStore interface {
	Cleanup(meetingID string) error
}
