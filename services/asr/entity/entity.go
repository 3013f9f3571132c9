package entity

import (
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

type TranscribeChunkRequest struct {
	AudioData  []byte
	MeetingID  string
	Sequence   int64
	Format     string
	SampleRate int32
	Language   string
}

type TranscribeChunkResponse struct {
	Text       string
	MeetingID  string
	Sequence   int64
	Speaker    string
	Confidence float32
}

type GetTranscriptRequest struct {
	MeetingID string
}

type GetTranscriptResponse struct {
	MeetingID string
	FullText  string
	Chunks    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transcript is the running text the sidecar keeps per meeting.
type Transcript struct {
	MeetingID string
	Text      string
	Chunks    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Wire field names.
const (
	fieldAudioData  = "audio_data"
	fieldMeetingID  = "meeting_id"
	fieldSequence   = "sequence"
	fieldFormat     = "format"
	fieldSampleRate = "sample_rate"
	fieldLanguage   = "language"
	fieldText       = "text"
	fieldSpeaker    = "speaker"
	fieldConfidence = "confidence"
	fieldFullText   = "full_text"
	fieldChunks     = "chunks"
	fieldCreatedAt  = "created_at"
	fieldUpdatedAt  = "updated_at"
)

func (r *TranscribeChunkRequest) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldAudioData:  base64.StdEncoding.EncodeToString(r.AudioData),
		fieldMeetingID:  r.MeetingID,
		fieldSequence:   float64(r.Sequence),
		fieldFormat:     r.Format,
		fieldSampleRate: float64(r.SampleRate),
		fieldLanguage:   r.Language,
	})
}

func TranscribeChunkRequestFromStruct(s *structpb.Struct) (*TranscribeChunkRequest, error) {
	f := s.GetFields()
	audio, err := base64.StdEncoding.DecodeString(f[fieldAudioData].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", fieldAudioData, err)
	}
	return &TranscribeChunkRequest{
		AudioData:  audio,
		MeetingID:  f[fieldMeetingID].GetStringValue(),
		Sequence:   int64(f[fieldSequence].GetNumberValue()),
		Format:     f[fieldFormat].GetStringValue(),
		SampleRate: int32(f[fieldSampleRate].GetNumberValue()),
		Language:   f[fieldLanguage].GetStringValue(),
	}, nil
}

func (r *TranscribeChunkResponse) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldText:       r.Text,
		fieldMeetingID:  r.MeetingID,
		fieldSequence:   float64(r.Sequence),
		fieldSpeaker:    r.Speaker,
		fieldConfidence: float64(r.Confidence),
	})
}

func TranscribeChunkResponseFromStruct(s *structpb.Struct) *TranscribeChunkResponse {
	f := s.GetFields()
	return &TranscribeChunkResponse{
		Text:       f[fieldText].GetStringValue(),
		MeetingID:  f[fieldMeetingID].GetStringValue(),
		Sequence:   int64(f[fieldSequence].GetNumberValue()),
		Speaker:    f[fieldSpeaker].GetStringValue(),
		Confidence: float32(f[fieldConfidence].GetNumberValue()),
	}
}

func (r *GetTranscriptRequest) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{fieldMeetingID: r.MeetingID})
}

func GetTranscriptRequestFromStruct(s *structpb.Struct) *GetTranscriptRequest {
	return &GetTranscriptRequest{MeetingID: s.GetFields()[fieldMeetingID].GetStringValue()}
}

func (r *GetTranscriptResponse) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldMeetingID: r.MeetingID,
		fieldFullText:  r.FullText,
		fieldChunks:    float64(r.Chunks),
		fieldCreatedAt: float64(r.CreatedAt.Unix()),
		fieldUpdatedAt: float64(r.UpdatedAt.Unix()),
	})
}

func GetTranscriptResponseFromStruct(s *structpb.Struct) *GetTranscriptResponse {
	f := s.GetFields()
	return &GetTranscriptResponse{
		MeetingID: f[fieldMeetingID].GetStringValue(),
		FullText:  f[fieldFullText].GetStringValue(),
		Chunks:    int(f[fieldChunks].GetNumberValue()),
		CreatedAt: time.Unix(int64(f[fieldCreatedAt].GetNumberValue()), 0).UTC(),
		UpdatedAt: time.Unix(int64(f[fieldUpdatedAt].GetNumberValue()), 0).UTC(),
	}
}
