// Package ingest accepts uploaded audio: it checks the declared format, streams
// the body to disk while metering it against the tier ceiling, and owns the
// artifacts until the run that consumes them cleans up.
package ingest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/services/transcription/consts"
	"github.com/xilidan/workmate/services/transcription/entity"
	"github.com/xilidan/workmate/services/transcription/observability"
	"github.com/xilidan/workmate/services/transcription/tier"
)

var allowedTypes = map[string]entity.AudioFormat{
	"audio/mpeg":  entity.FormatMP3,
	"audio/wav":   entity.FormatWAV,
	"audio/x-wav": entity.FormatWAV,
	"audio/m4a":   entity.FormatM4A,
	"audio/mp4":   entity.FormatM4A,
}

// FormatForMIME resolves a declared content type to a storage format.
func FormatForMIME(contentType string) (entity.AudioFormat, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	format, ok := allowedTypes[mediaType]
	if !ok {
		return "", apperrors.UnsupportedFormat(contentType)
	}
	return format, nil
}

type Ingestor struct {
	dir      string
	policies tier.Table
	metrics  *observability.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func New(dir string, policies tier.Table, metrics *observability.Metrics, log *slog.Logger) *Ingestor {
	return &Ingestor{
		dir:      dir,
		policies: policies,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

// Accept stores r for meetingID. Nothing is written for an unsupported type,
// and nothing remains on disk when the upload fails.
func (i *Ingestor) Accept(ctx context.Context, meetingID string, r io.Reader, contentType string, t entity.Tier) (*entity.UploadedAudio, error) {
	policy, err := i.policies.For(t)
	if err != nil {
		return nil, err
	}

	format, err := FormatForMIME(contentType)
	if err != nil {
		i.metrics.UploadsRejected.WithLabelValues(string(t), string(apperrors.CodeUnsupportedFormat)).Inc()
		return nil, err
	}

	meetingDir := i.meetingDir(meetingID)
	if err := os.MkdirAll(meetingDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	name := fmt.Sprintf("%s_%d.%s", meetingID, i.now().UnixNano(), format)
	path := filepath.Join(meetingDir, name)

	i.log.Debug("storing upload",
		slog.String("meeting_id", meetingID),
		slog.String("path", path),
		slog.String("tier", string(t)),
		slog.Int64("limit_bytes", policy.MaxUploadBytes()))

	size, checksum, err := i.copyMetered(ctx, path, r, policy)
	if err != nil {
		if cleanupErr := i.Cleanup(meetingID); cleanupErr != nil {
			i.log.Warn("failed to remove partial upload",
				slog.String("meeting_id", meetingID),
				slog.String("error", cleanupErr.Error()))
		}
		var ve *apperrors.ValidationError
		if errors.As(err, &ve) {
			i.metrics.UploadsRejected.WithLabelValues(string(t), string(ve.Code)).Inc()
		}
		return nil, err
	}

	meta, err := inspect(path, format)
	if err != nil {
		i.log.Warn("could not read audio metadata",
			slog.String("meeting_id", meetingID),
			slog.String("format", string(format)),
			slog.String("error", err.Error()))
	}
	meta.Format = format
	meta.Size = size
	meta.Checksum = checksum

	i.metrics.UploadsTotal.WithLabelValues(string(t), string(format)).Inc()
	i.metrics.UploadBytes.WithLabelValues(string(t)).Observe(float64(size))

	i.log.Info("upload stored",
		slog.String("meeting_id", meetingID),
		slog.Int64("size", size),
		slog.Duration("duration", meta.Duration),
		slog.Bool("inspected", meta.Inspected))

	return &entity.UploadedAudio{
		MeetingID: meetingID,
		Path:      path,
		Metadata:  meta,
	}, nil
}

// copyMetered copies r to path one chunk at a time and stops as soon as the
// running total crosses the tier ceiling.
func (i *Ingestor) copyMetered(ctx context.Context, path string, r io.Reader, policy tier.Policy) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to init checksum: %w", err)
	}

	limit := policy.MaxUploadBytes()
	buf := make([]byte, consts.UploadChunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return 0, "", err
		}

		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return 0, "", apperrors.FileTooLarge(string(policy.Tier), limit)
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return 0, "", fmt.Errorf("failed to write upload: %w", err)
			}
			hasher.Write(buf[:n])
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return 0, "", fmt.Errorf("failed to read upload: %w", readErr)
		}
	}

	if total == 0 {
		return 0, "", apperrors.EmptyUpload()
	}
	if err := f.Sync(); err != nil {
		return 0, "", fmt.Errorf("failed to flush upload: %w", err)
	}
	return total, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Cleanup removes every artifact stored for meetingID. Safe to call repeatedly.
func (i *Ingestor) Cleanup(meetingID string) error {
	if meetingID == "" || strings.ContainsAny(meetingID, `/\`) || meetingID == "." || meetingID == ".." {
		return apperrors.InvalidInput("invalid meeting id %q", meetingID)
	}
	if err := os.RemoveAll(i.meetingDir(meetingID)); err != nil {
		return fmt.Errorf("failed to remove upload artifacts: %w", err)
	}
	return nil
}

// SweepStale deletes meeting directories untouched for longer than olderThan.
// Runs normally clean up after themselves; this catches what a crash left behind.
func (i *Ingestor) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list upload directory: %w", err)
	}

	cutoff := i.now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(i.dir, entry.Name())); err != nil {
			i.log.Warn("failed to remove stale upload",
				slog.String("meeting_id", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}
		removed++
		i.metrics.StaleUploadsDeleted.Inc()
	}

	if removed > 0 {
		i.log.Info("removed stale uploads", slog.Int("count", removed))
	}
	return removed, nil
}

func (i *Ingestor) meetingDir(meetingID string) string {
	return filepath.Join(i.dir, meetingID)
}
