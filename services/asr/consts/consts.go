package consts

const (
	ServiceName = "workmate.asr.v1.AsrService"

	MethodTranscribeChunk = "/" + ServiceName + "/TranscribeChunk"
	MethodGetTranscript   = "/" + ServiceName + "/GetTranscript"

	// Audio formats
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatFLAC = "flac"
	FormatWebM = "webm"

	// Default settings
	DefaultSampleRate = 16000
	MaxChunkSize      = 25 * 1024 * 1024 // 25MB
)

var SupportedFormats = map[string]struct{}{
	FormatWAV:  {},
	FormatMP3:  {},
	FormatFLAC: {},
	FormatWebM: {},
}
