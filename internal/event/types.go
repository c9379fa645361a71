package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrMissingType = errors.New("frame has no type field")
	ErrWrongType   = errors.New("unexpected frame type")
)

// Frame types sent by the order gateway.
const (
	// TypePong is the reply to a client liveness probe. Consumed by the
	// heartbeat monitor, never forwarded to subscribers.
	TypePong = "pong"

	// TypeSubscribed acknowledges the gateway registered this connection.
	// Forwarded to subscribers for UI confirmation only.
	TypeSubscribed = "subscribed"

	// TypeOrderNotification carries a domain event about an order.
	TypeOrderNotification = "order_notification"
)

// Domain event types nested inside an order notification.
const (
	// EventOrderCreated announces a newly placed order. This is the event
	// business dashboards act on; all other event types pass through
	// unfiltered.
	EventOrderCreated = "order.created"
)

// Envelope is one inbound frame from the gateway: a type tag plus an
// opaque payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	// ReceivedAt is the local timestamp when the frame was read off the
	// socket. Not part of the wire format.
	ReceivedAt time.Time `json:"-"`
}

// OrderNotification is the payload of an order_notification envelope.
type OrderNotification struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// Parse decodes a raw frame into an Envelope. Frames without a type field
// are rejected; payload contents are left opaque for subscribers.
func Parse(data []byte, receivedAt time.Time) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	env.ReceivedAt = receivedAt
	return env, nil
}

// OrderNotification decodes the nested notification payload. Returns
// ErrWrongType for envelopes of any other type.
func (e Envelope) OrderNotification() (OrderNotification, error) {
	if e.Type != TypeOrderNotification {
		return OrderNotification{}, fmt.Errorf("%w: %s", ErrWrongType, e.Type)
	}
	var n OrderNotification
	if err := json.Unmarshal(e.Data, &n); err != nil {
		return OrderNotification{}, fmt.Errorf("parse order notification: %w", err)
	}
	return n, nil
}

// OrderID extracts the order id from the nested event payload, if present.
func (n OrderNotification) OrderID() string {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(n.Data, &payload); err != nil {
		return ""
	}
	return payload.ID
}
