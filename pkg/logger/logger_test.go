package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: slog.LevelDebug, Output: &buf, JSONFormat: true})

	ctx := WithContext(context.Background(), log)
	ErrorErr(ctx, "upload failed", errors.New("disk full"), slog.String("meeting_id", "m1"))

	assert.Contains(t, buf.String(), `"error":"disk full"`)
	assert.Contains(t, buf.String(), `"meeting_id":"m1"`)
	assert.Same(t, log, FromContext(ctx))
}

func TestLookup(t *testing.T) {
	_, ok := Lookup(context.Background())
	assert.False(t, ok)

	log := Discard()
	got, ok := Lookup(WithContext(context.Background(), log))
	assert.True(t, ok)
	assert.Same(t, log, got)
	assert.NotNil(t, FromContext(context.Background()))
}
