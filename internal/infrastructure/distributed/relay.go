package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/pkg/batch"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "spacecast:events:"

const (
	relayBatchSize     = 32
	relayBatchInterval = 50 * time.Millisecond
)

// Envelope is what goes over the wire for one space event.
type Envelope struct {
	Type       domain.EventKind `json:"type"`
	InstanceID string           `json:"instance_id"`
	RoomID     string           `json:"room_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// EventRelay mirrors space events onto a Redis pub/sub channel per room
// so dashboards and sibling instances can follow a space.
type EventRelay struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
}

func NewEventRelay(client *redis.Client, instanceID string, logger *zap.Logger) *EventRelay {
	return &EventRelay{
		client:     client,
		instanceID: instanceID,
		logger:     logger.Sugar().With("component", "event_relay"),
	}
}

// Channel returns the pub/sub channel for a room.
func Channel(roomID string) string {
	return channelPrefix + roomID
}

func (r *EventRelay) envelope(roomID string, ev domain.Event) (*Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", ev.Kind(), err)
	}
	env := &Envelope{
		Type:       ev.Kind(),
		InstanceID: r.instanceID,
		RoomID:     roomID,
		Timestamp:  time.Now(),
		Payload:    payload,
	}
	if se, ok := ev.(domain.SpaceError); ok && se.Err != nil {
		env.Error = se.Err.Error()
	}
	return env, nil
}

// Publish sends one event to the room channel.
func (r *EventRelay) Publish(ctx context.Context, roomID string, ev domain.Event) error {
	env, err := r.envelope(roomID, ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := r.client.Publish(ctx, Channel(roomID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	r.logger.Debugw("published event",
		"type", env.Type,
		"room_id", roomID,
	)
	return nil
}

// PublishBatch sends envelopes for one room in a single pipeline round trip.
func (r *EventRelay) PublishBatch(ctx context.Context, roomID string, envs []*Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, env := range envs {
			data, err := json.Marshal(env)
			if err != nil {
				return fmt.Errorf("failed to marshal envelope: %w", err)
			}
			pipe.Publish(ctx, Channel(roomID), data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(envs), err)
	}
	return nil
}

// Run forwards events until the channel closes or ctx is done. Bursts are
// pipelined in batches; publish failures are logged and do not stop the
// relay.
func (r *EventRelay) Run(ctx context.Context, roomID string, events <-chan domain.Event) {
	b := batch.New(relayBatchSize, relayBatchInterval,
		func(ctx context.Context, envs []*Envelope) error {
			return r.PublishBatch(ctx, roomID, envs)
		},
		func(err error) {
			r.logger.Warnw("relay publish failed", "room_id", roomID, "error", err)
		},
	)
	defer b.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			env, err := r.envelope(roomID, ev)
			if err != nil {
				r.logger.Warnw("relay dropped event", "type", ev.Kind(), "error", err)
				continue
			}
			b.Add(env)
		}
	}
}

// Subscribe calls handler for every event another instance relays for
// roomID. It blocks until ctx is done.
func (r *EventRelay) Subscribe(ctx context.Context, roomID string, handler func(*Envelope) error) error {
	pubsub := r.client.Subscribe(ctx, Channel(roomID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			if env.InstanceID == r.instanceID {
				continue
			}
			if err := handler(&env); err != nil {
				r.logger.Warnw("error handling event",
					"type", env.Type,
					"error", err,
				)
			}
		}
	}
}
