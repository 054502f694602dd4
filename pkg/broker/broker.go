// Package broker relays server notifications between nodes. A server that
// runs behind a load balancer publishes every broadcast to the broker, and
// every node, itself included, delivers what it receives to its own peers.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed broker
var ErrClosed = errors.New("broker closed")

// Envelope is one published message
type Envelope struct {
	// ID is assigned by the broker and increases within a topic
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// Handler receives messages from Subscribe. Returning an error ends the subscription.
type Handler func(ctx context.Context, env Envelope) error

// Broker publishes messages to topics and delivers them to every subscriber
type Broker interface {
	// Publish sends data to every current subscriber of topic and returns the message id
	Publish(ctx context.Context, topic string, data []byte) (string, error)

	// Subscribe delivers messages published to topic after the call, in order,
	// until ctx is done, the handler fails or the broker is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	Close() error
}
