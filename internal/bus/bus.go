// Package bus carries stage notifications between pipeline processors.
//
// Delivery is at-most-once with no replay: a subscriber only sees messages
// published while it is listening. Processors tolerate this because every
// stage batch is guarded by a completion flag in the stage store, and
// periodic sweeps pick up anything a lost notification left behind.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MaxPayload bounds an encoded message. Postgres NOTIFY rejects payloads of
// 8000 bytes or more.
const MaxPayload = 7900

var (
	// ErrPayloadTooLarge is returned by Publish for messages over MaxPayload.
	ErrPayloadTooLarge = errors.New("bus: payload too large")

	// ErrMalformed marks a message that could not be decoded or failed
	// validation. Receivers log and drop it.
	ErrMalformed = errors.New("bus: malformed message")

	// ErrClosed is returned by Poll after Close.
	ErrClosed = errors.New("bus: subscription closed")
)

// Message is one raw notification.
type Message struct {
	Channel string
	Payload []byte
}

// Publisher sends notifications.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber opens subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Bus both publishes and subscribes.
type Bus interface {
	Publisher
	Subscriber
}

// Subscription receives messages for one channel.
type Subscription interface {
	// Poll waits up to timeout for the next message. It returns (nil, nil)
	// when the timeout elapses without a message.
	Poll(ctx context.Context, timeout time.Duration) (*Message, error)
	Close(ctx context.Context) error
}

// PublishJSON encodes v and publishes it on channel.
func PublishJSON(ctx context.Context, p Publisher, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", channel, err)
	}
	return p.Publish(ctx, channel, payload)
}

func checkSize(channel string, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes on %s", ErrPayloadTooLarge, len(payload), channel)
	}
	return nil
}
