package ingest

import (
	"fmt"
	"os"
	"time"

	"github.com/abema/go-mp4"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/xilidan/workmate/services/transcription/entity"
)

// go-mp3 always decodes to 16-bit stereo.
const mp3BytesPerFrame = 4

// inspect reads container metadata. A zero AudioMetadata with Inspected=false is
// returned alongside any error.
func inspect(path string, format entity.AudioFormat) (entity.AudioMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return entity.AudioMetadata{}, err
	}
	defer f.Close()

	switch format {
	case entity.FormatWAV:
		return inspectWAV(f)
	case entity.FormatMP3:
		return inspectMP3(f)
	case entity.FormatM4A:
		return inspectM4A(f)
	}
	return entity.AudioMetadata{}, fmt.Errorf("no metadata reader for format %q", format)
}

func inspectWAV(f *os.File) (entity.AudioMetadata, error) {
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return entity.AudioMetadata{}, fmt.Errorf("not a valid wav file")
	}
	d.ReadInfo()
	duration, err := d.Duration()
	if err != nil {
		return entity.AudioMetadata{}, fmt.Errorf("wav duration: %w", err)
	}
	return entity.AudioMetadata{
		Duration:   duration,
		Channels:   int(d.NumChans),
		SampleRate: int(d.SampleRate),
		Inspected:  true,
	}, nil
}

func inspectMP3(f *os.File) (entity.AudioMetadata, error) {
	d, err := mp3.NewDecoder(f)
	if err != nil {
		return entity.AudioMetadata{}, fmt.Errorf("mp3 decoder: %w", err)
	}
	meta := entity.AudioMetadata{
		Channels:   2,
		SampleRate: d.SampleRate(),
		Inspected:  true,
	}
	if length := d.Length(); length > 0 && d.SampleRate() > 0 {
		frames := length / mp3BytesPerFrame
		meta.Duration = time.Duration(frames) * time.Second / time.Duration(d.SampleRate())
	}
	return meta, nil
}

func inspectM4A(f *os.File) (entity.AudioMetadata, error) {
	info, err := mp4.Probe(f)
	if err != nil {
		return entity.AudioMetadata{}, fmt.Errorf("read mp4 metadata: %w", err)
	}

	meta := entity.AudioMetadata{Inspected: true}
	if info.Timescale > 0 {
		meta.Duration = time.Duration(info.Duration) * time.Second / time.Duration(info.Timescale)
	}
	for _, track := range info.Tracks {
		if track.Codec != mp4.CodecMP4A {
			continue
		}
		meta.SampleRate = int(track.Timescale)
		if track.MP4A != nil {
			meta.Channels = int(track.MP4A.ChannelCount)
		}
		break
	}
	return meta, nil
}
