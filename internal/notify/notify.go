// Package notify fans session signals out to sibling views, either in process
// or across kiosks via redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FullyVacated is raised when a bulk checkout emptied the event.
const FullyVacated = "fully_vacated"

// Signal is one event published to sibling views.
type Signal struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	EventID    string    `json:"event_id"`
	CheckedOut int       `json:"checked_out"`
	At         time.Time `json:"at"`
}

// NewSignal stamps a signal with an id and timestamp.
func NewSignal(sigType, eventID string, checkedOut int) Signal {
	return Signal{
		ID:         uuid.NewString(),
		Type:       sigType,
		EventID:    eventID,
		CheckedOut: checkedOut,
		At:         time.Now().UTC(),
	}
}

// Notifier is the abstraction over fan-out backends.
type Notifier interface {
	Publish(ctx context.Context, sig Signal) error
	Subscribe(ctx context.Context) (<-chan Signal, error)
}

// Memory is a channel-backed notifier for a single kiosk process.
type Memory struct {
	ch chan Signal
}

// NewMemory creates a bounded in-memory notifier.
func NewMemory(size int) *Memory {
	return &Memory{ch: make(chan Signal, size)}
}

// Publish enqueues a signal. Signals are advisory, so a full buffer drops
// the oldest entry instead of blocking the publisher.
func (m *Memory) Publish(ctx context.Context, sig Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		select {
		case m.ch <- sig:
			return nil
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

// Subscribe returns a channel of signals until ctx is done.
func (m *Memory) Subscribe(ctx context.Context) (<-chan Signal, error) {
	out := make(chan Signal)
	go func() {
		defer close(out)
		for {
			select {
			case sig := <-m.ch:
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Redis broadcasts signals over pub/sub so every kiosk watching the same
// event stays in step.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis builds a notifier on a pub/sub channel.
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = "rollcall:signals"
	}
	return &Redis{client: client, channel: channel}
}

// Publish broadcasts a signal as JSON.
func (r *Redis) Publish(ctx context.Context, sig Signal) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, raw).Err()
}

// Subscribe streams signals until ctx is done. Payloads that fail to decode
// are dropped.
func (r *Redis) Subscribe(ctx context.Context) (<-chan Signal, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, err
	}
	out := make(chan Signal)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var sig Signal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
					continue
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// NewClient connects to redis with short timeouts.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
}

// Healthy verifies redis connectivity.
func Healthy(ctx context.Context, client *redis.Client) bool {
	if client == nil {
		return false
	}
	return client.Ping(ctx).Err() == nil
}
