package live

import (
	"sync"

	"github.com/xilidan/workmate/services/transcription/entity"
)

type chunkOutcome struct {
	message entity.TranscriptMessage
	seconds float64
}

// reorderBuffer releases chunk results in sequence order no matter in which
// order the provider calls complete. Sequences start at 1 and have no gaps.
type reorderBuffer struct {
	mu      sync.Mutex
	next    int64
	pending map[int64]chunkOutcome
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{
		next:    1,
		pending: make(map[int64]chunkOutcome),
	}
}

// complete stores the outcome for seq and delivers every result that is now
// contiguous. deliver runs under the buffer lock so deliveries never interleave.
func (b *reorderBuffer) complete(seq int64, out chunkOutcome, deliver func(chunkOutcome)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq < b.next {
		return
	}
	b.pending[seq] = out
	for {
		o, ok := b.pending[b.next]
		if !ok {
			return
		}
		delete(b.pending, b.next)
		b.next++
		deliver(o)
	}
}

func (b *reorderBuffer) waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
