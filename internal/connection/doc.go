// Package connection maintains the realtime order notification feed
// to the Mealato gateway.
//
// The package provides:
//   - Service: lifecycle owner that dials, supervises, and reconnects
//     the feed, driven by configuration and leader election
//   - Client: a low-level WebSocket client for a single connection
//   - BuildFeedURL: endpoint derivation from a base or explicit URL
//
// A Service holds at most one live connection and never more than one
// outstanding dial. Lost connections come back with jittered
// exponential backoff; an authorization rejection parks the service
// until it is reconfigured. Subscribers survive every reconnect and
// every leadership change.
package connection
