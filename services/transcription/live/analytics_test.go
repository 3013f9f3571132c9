package live

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xilidan/workmate/services/transcription/entity"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		raw     string
		intent  entity.VoiceIntent
		content string
		ok      bool
	}{
		{"WorkMate, action item: Complete documentation by Friday", entity.IntentActionItem, "Complete documentation by Friday", true},
		{"action-item: update the roadmap", entity.IntentActionItem, "update the roadmap", true},
		{"workmate decision: we go with Postgres", entity.IntentDecision, "we go with Postgres", true},
		{"Follow up:  ping legal  ", entity.IntentFollowUp, "ping legal", true},
		{"followup: send deck", entity.IntentFollowUp, "send deck", true},
		{"reminder: buy milk", entity.IntentUnknown, "", false},
		{"action item", entity.IntentUnknown, "", false},
		{"", entity.IntentUnknown, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			cmd := ParseCommand(tt.raw)
			assert.Equal(t, tt.intent, cmd.Intent)
			assert.Equal(t, tt.content, cmd.Content)
			assert.Equal(t, tt.ok, cmd.Recognized)
			assert.Equal(t, tt.raw, cmd.Raw)
		})
	}
}

func TestTrackerSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.ObserveTranscript(1, "alice", "The migration is great, migration done", 2)
	tr.ObserveTranscript(2, "bob", "Migration blocked by a vendor problem", 3)
	tr.ObserveTranscript(3, "", "okay", 0)
	tr.ObserveCommand(entity.VoiceCommand{Intent: entity.IntentActionItem})
	tr.ObserveCommand(entity.VoiceCommand{Intent: entity.IntentDecision})
	tr.ObserveCommand(entity.VoiceCommand{Intent: entity.IntentFollowUp})

	snap := tr.Snapshot()
	assert.Equal(t, map[string]float64{"alice": 2, "bob": 3, "unknown": 0}, snap.SpeakingTime)
	assert.Equal(t, 2, snap.ParticipantCount)
	assert.Equal(t, 1, snap.ActionItemsCount)
	assert.Equal(t, 1, snap.DecisionsCount)

	require.NotEmpty(t, snap.KeyTopics)
	assert.Equal(t, "migration", snap.KeyTopics[0])
	assert.NotContains(t, snap.KeyTopics, "okay")

	require.Len(t, snap.SentimentTrend, 3)
	assert.Equal(t, 1.0, snap.SentimentTrend[0].Score)
	assert.Equal(t, -1.0, snap.SentimentTrend[1].Score)
	assert.Equal(t, 0.0, snap.SentimentTrend[2].Score)

	// snapshots are copies
	snap.SpeakingTime["alice"] = 100
	assert.Equal(t, 2.0, tr.Snapshot().SpeakingTime["alice"])
}

func TestTrackerBoundsSentimentTrend(t *testing.T) {
	tr := NewTracker()
	for i := int64(1); i <= maxSentimentTrend+10; i++ {
		tr.ObserveTranscript(i, "a", "good", 1)
	}
	trend := tr.Snapshot().SentimentTrend
	require.Len(t, trend, maxSentimentTrend)
	assert.Equal(t, int64(11), trend[0].Sequence)
}

func TestReorderBufferReleasesInSequence(t *testing.T) {
	b := newReorderBuffer()
	var got []int64
	deliver := func(o chunkOutcome) { got = append(got, o.message.Sequence) }
	outcome := func(seq int64) chunkOutcome {
		return chunkOutcome{message: entity.TranscriptMessage{Sequence: seq}}
	}

	b.complete(3, outcome(3), deliver)
	b.complete(2, outcome(2), deliver)
	assert.Empty(t, got)
	assert.Equal(t, 2, b.waiting())

	b.complete(1, outcome(1), deliver)
	assert.Equal(t, []int64{1, 2, 3}, got)

	b.complete(2, outcome(2), deliver)
	b.complete(4, outcome(4), deliver)
	assert.Equal(t, []int64{1, 2, 3, 4}, got)
	assert.Zero(t, b.waiting())
}
