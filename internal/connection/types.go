package connection

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mealato/orderfeed/internal/backoff"
	"github.com/mealato/orderfeed/internal/dispatch"
	"github.com/mealato/orderfeed/internal/heartbeat"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no heartbeat reply)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAuthRejected    = errors.New("authorization rejected")
	ErrMissingEndpoint = errors.New("gateway endpoint is required")
)

// Roles understood by the order gateway.
const (
	RoleBusiness = "business"
	RoleCourier  = "courier"
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Config is the connection target of the service: where to connect and
// as whom. Submitting a new Config replaces the previous one entirely.
type Config struct {
	// BaseURL is the http(s) API base; the ws scheme is derived from it.
	BaseURL string

	// WSURL is an explicit ws(s) endpoint and overrides the derived one.
	WSURL string

	// Identity is the authenticated account id. When empty the service
	// stays disconnected.
	Identity string

	// Role selects the notification stream: business, courier, customer
	// or admin.
	Role string

	// Enabled turns the connection on or off.
	Enabled bool
}

// Status is the lifecycle state of the managed connection.
type Status string

const (
	// StatusDisabled: the feed is off, by configuration or request.
	StatusDisabled Status = "disabled"
	// StatusStandby: enabled but another instance holds the session lease.
	StatusStandby Status = "standby"
	// StatusConnecting: a dial attempt is in flight.
	StatusConnecting Status = "connecting"
	// StatusConnected: the feed is live.
	StatusConnected Status = "connected"
	// StatusReconnecting: waiting out the backoff delay before redialing.
	StatusReconnecting Status = "reconnecting"
	// StatusIdle: the gateway rejected our authorization; reconnects are
	// suspended until the service is reconfigured.
	StatusIdle Status = "idle"
)

// State is a point-in-time snapshot of the managed connection. Errors
// never surface to callers directly; they land here.
type State struct {
	Status          Status    `json:"status"`
	Enabled         bool      `json:"enabled"`
	Connected       bool      `json:"connected"`
	Leader          bool      `json:"leader"`
	Endpoint        string    `json:"endpoint,omitempty"`
	Identity        string    `json:"identity,omitempty"`
	Role            string    `json:"role,omitempty"`
	Attempt         uint      `json:"attempt"`
	NextRetryAt     time.Time `json:"next_retry_at,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
	LastConnectedAt time.Time `json:"last_connected_at,omitzero"`
	Subscribers     int       `json:"subscribers"`
}

// RawFrame wraps raw frame bytes with the receive timestamp.
type RawFrame struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // Full ws(s) URL including role and identity
	DialTimeout  time.Duration // Handshake timeout
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Inbound frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   4096,
	}
}

// ServiceConfig holds the tuning knobs of the connection service. The
// connection target lives in Config and changes at runtime; these do not.
type ServiceConfig struct {
	Heartbeat    heartbeat.Config
	Reconnect    backoff.Config
	Dispatch     dispatch.DispatcherConfig
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Heartbeat:    heartbeat.DefaultConfig(),
		Reconnect:    backoff.DefaultConfig(),
		Dispatch:     dispatch.DefaultDispatcherConfig(),
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   4096,
	}
}

// feedPath is the order notification endpoint on the gateway.
const feedPath = "/api/ws/orders"

// BuildFeedURL builds the ws(s) URL for an identity and role. An
// explicit wsURL wins; otherwise the endpoint is derived from baseURL,
// with https becoming wss and http becoming ws.
func BuildFeedURL(baseURL, wsURL, role, identity string) (string, error) {
	endpoint := wsURL
	if endpoint == "" {
		endpoint = baseURL
	}
	if endpoint == "" {
		return "", ErrMissingEndpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse gateway endpoint: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}

	if !strings.HasSuffix(u.Path, feedPath) {
		u.Path = strings.TrimSuffix(u.Path, "/") + feedPath
	}

	q := url.Values{}
	q.Set("role", role)
	q.Set("user_id", identity)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
