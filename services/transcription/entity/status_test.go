package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []Status{
	StatusPending, StatusTranscribing, StatusTranscribed, StatusAnalyzing,
	StatusAnalyzed, StatusDocumenting, StatusCompleted, StatusError,
}

func TestTerminalStatusesAbsorb(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusError} {
		for _, next := range allStatuses {
			assert.False(t, terminal.CanTransitionTo(next), "%s -> %s", terminal, next)
		}
	}
}

func TestStatusOnlyMovesForward(t *testing.T) {
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if !from.CanTransitionTo(to) || to == StatusError {
				continue
			}
			assert.Greater(t, statusRank[to], statusRank[from], "%s -> %s", from, to)
		}
	}
}

func TestErrorReachableFromNonTerminal(t *testing.T) {
	for _, s := range allStatuses {
		assert.Equal(t, !s.IsTerminal(), s.CanTransitionTo(StatusError), s)
	}
}

func TestAnalyzedMayCompleteOrDocument(t *testing.T) {
	assert.True(t, StatusAnalyzed.CanTransitionTo(StatusDocumenting))
	assert.True(t, StatusAnalyzed.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusAnalyzed.CanTransitionTo(StatusTranscribed))
	assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
}
