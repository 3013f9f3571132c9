package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/pkg/logger"
	"github.com/xilidan/workmate/services/transcription/entity"
	"github.com/xilidan/workmate/services/transcription/observability"
)

type blockingProcessor struct {
	release chan struct{}

	mu   sync.Mutex
	seen []string
}

func (p *blockingProcessor) Process(ctx context.Context, job Job) (entity.Status, error) {
	<-p.release
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, job.MeetingID)
	return entity.StatusCompleted, nil
}

func (p *blockingProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func TestRunnerSubmitRejectsWhenQueueFull(t *testing.T) {
	p := &blockingProcessor{release: make(chan struct{})}
	r := NewRunner(p, 1, 1, observability.NewNopMetrics(), logger.Discard())

	// not started, so the single slot fills immediately
	require.NoError(t, r.Submit(Job{MeetingID: "a"}))
	err := r.Submit(Job{MeetingID: "b"})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))

	close(p.release)
	r.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	assert.Equal(t, []string{"a"}, p.processed())
}

func TestRunnerShutdownDrainsQueue(t *testing.T) {
	p := &blockingProcessor{release: make(chan struct{})}
	r := NewRunner(p, 2, 8, observability.NewNopMetrics(), logger.Discard())
	r.Start()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.Submit(Job{MeetingID: id}))
	}
	close(p.release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, p.processed())

	err := r.Submit(Job{MeetingID: "e"})
	assert.True(t, apperrors.IsUnavailable(err))
}

func TestRunnerShutdownTimesOut(t *testing.T) {
	p := &blockingProcessor{release: make(chan struct{})}
	r := NewRunner(p, 1, 1, observability.NewNopMetrics(), logger.Discard())
	r.Start()
	require.NoError(t, r.Submit(Job{MeetingID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Shutdown(ctx), context.DeadlineExceeded)

	close(p.release)
}
