// Package events publishes meeting status changes so clients and other
// services can follow a run without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xilidan/workmate/services/transcription/consts"
	"github.com/xilidan/workmate/services/transcription/entity"
	"github.com/xilidan/workmate/topics"
)

const (
	EventStatusChanged = "meeting.status_changed"
	EventLiveClosed    = "live.session_closed"
	eventVersion       = 1
)

type BaseEvent struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   int       `json:"version"`
}

type StatusEvent struct {
	BaseEvent
	MeetingID string        `json:"meeting_id"`
	OwnerID   string        `json:"owner_id"`
	Tier      entity.Tier   `json:"tier"`
	Status    entity.Status `json:"status"`
	Error     string        `json:"error,omitempty"`
	Warning   string        `json:"warning,omitempty"`
}

type LiveEvent struct {
	BaseEvent
	MeetingID string                    `json:"meeting_id"`
	Summary   entity.LiveSessionSummary `json:"summary"`
}

func NewStatusEvent(m *entity.Meeting) StatusEvent {
	return StatusEvent{
		BaseEvent: newBase(EventStatusChanged),
		MeetingID: m.ID,
		OwnerID:   m.OwnerID,
		Tier:      m.Tier,
		Status:    m.Status,
		Error:     m.ErrorMessage,
		Warning:   m.Warning,
	}
}

func NewLiveEvent(meetingID string, summary entity.LiveSessionSummary) LiveEvent {
	return LiveEvent{
		BaseEvent: newBase(EventLiveClosed),
		MeetingID: meetingID,
		Summary:   summary,
	}
}

func newBase(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    consts.ServiceName,
		Version:   eventVersion,
	}
}

type Publisher interface {
	PublishStatus(ctx context.Context, ev StatusEvent) error
	PublishLive(ctx context.Context, ev LiveEvent) error
}

// RedisPublisher fans events out on the service-wide topic and on a
// per-meeting channel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishStatus(ctx context.Context, ev StatusEvent) error {
	return p.publish(ctx, topics.MeetingStatus, ev.MeetingID, ev)
}

func (p *RedisPublisher) PublishLive(ctx context.Context, ev LiveEvent) error {
	return p.publish(ctx, topics.LiveSession, ev.MeetingID, ev)
}

func (p *RedisPublisher) publish(ctx context.Context, topic topics.Topic, meetingID string, ev any) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, topic.FullName(), payload)
	pipe.Publish(ctx, topic.For(meetingID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

type nopPublisher struct{}

// NewNop returns a Publisher that drops events, for deployments without Redis.
func NewNop() Publisher {
	return nopPublisher{}
}

func (nopPublisher) PublishStatus(context.Context, StatusEvent) error { return nil }
func (nopPublisher) PublishLive(context.Context, LiveEvent) error     { return nil }
