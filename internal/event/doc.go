// Package event defines the wire envelope exchanged with the order
// notification gateway.
//
// Frames:
//   - {"type": "pong"} - liveness reply (internal)
//   - {"type": "subscribed"} - registration acknowledgement
//   - {"type": "order_notification", "data": {"event_type": "order.created", "data": {...}}}
package event
