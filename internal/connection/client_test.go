package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:          url,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Just keep the connection open
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	ctx := context.Background()

	err := client.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	err = client.Close()
	if err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}
}

func TestClient_Send(t *testing.T) {
	var received []byte
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	testMsg := []byte("ping")
	if err := client.Send(testMsg); err != nil {
		t.Errorf("Send failed: %v", err)
	}

	// Wait for message to be received
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(testMsg) {
		t.Errorf("received %q, want %q", received, testMsg)
	}
}

func TestClient_Frames(t *testing.T) {
	testFrames := []string{
		`{"type":"order_notification","data":{"order_id":"ord-1"}}`,
		`{"type":"order_notification","data":{"order_id":"ord-2"}}`,
		`{"type":"order_notification","data":{"order_id":"ord-3"}}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testFrames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		// Keep connection open
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	// Collect received frames
	var received []string
	timeout := time.After(500 * time.Millisecond)

	for i := 0; i < len(testFrames); i++ {
		select {
		case frame := <-client.Frames():
			received = append(received, string(frame.Data))
			if frame.ReceivedAt.IsZero() {
				t.Error("ReceivedAt should not be zero")
			}
		case <-timeout:
			t.Fatalf("timeout waiting for frames, received %d of %d", len(received), len(testFrames))
		}
	}

	for i, want := range testFrames {
		if received[i] != want {
			t.Errorf("frame %d: got %q, want %q", i, received[i], want)
		}
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(testClientConfig("ws://localhost:12345"), nil)

	err := client.Send([]byte("ping"))
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	ctx := context.Background()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// First close should succeed
	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}

	// Second close should be no-op
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestClient_AuthRejectedHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("expected Connect to fail")
	}
	if !errors.Is(err, ErrAuthRejected) {
		t.Errorf("expected ErrAuthRejected, got %v", err)
	}
}

func TestClient_AuthRevokedMidSession(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session revoked")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if !errors.Is(err, ErrAuthRejected) {
			t.Errorf("expected ErrAuthRejected, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for connection error")
	}
}

func TestClient_ServerDrop(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Drop the connection without a close handshake.
		conn.Close()
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if errors.Is(err, ErrAuthRejected) {
			t.Errorf("plain drop should not look like an auth rejection, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for connection error")
	}
}

func TestBuildFeedURL(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		wsURL    string
		role     string
		identity string
		want     string
		wantErr  bool
	}{
		{
			name:     "https base becomes wss",
			baseURL:  "https://api.mealato.com",
			role:     "business",
			identity: "biz-1",
			want:     "wss://api.mealato.com/api/ws/orders?role=business&user_id=biz-1",
		},
		{
			name:     "http base becomes ws",
			baseURL:  "http://localhost:8080",
			role:     "courier",
			identity: "cr-42",
			want:     "ws://localhost:8080/api/ws/orders?role=courier&user_id=cr-42",
		},
		{
			name:     "explicit ws url wins over base",
			baseURL:  "https://api.mealato.com",
			wsURL:    "wss://feed.mealato.com",
			role:     "business",
			identity: "biz-1",
			want:     "wss://feed.mealato.com/api/ws/orders?role=business&user_id=biz-1",
		},
		{
			name:     "trailing slash trimmed",
			baseURL:  "https://api.mealato.com/",
			role:     "business",
			identity: "biz-1",
			want:     "wss://api.mealato.com/api/ws/orders?role=business&user_id=biz-1",
		},
		{
			name:     "feed path not duplicated",
			wsURL:    "wss://api.mealato.com/api/ws/orders",
			role:     "business",
			identity: "biz-1",
			want:     "wss://api.mealato.com/api/ws/orders?role=business&user_id=biz-1",
		},
		{
			name:     "identity escaped",
			baseURL:  "https://api.mealato.com",
			role:     "business",
			identity: "biz 1",
			want:     "wss://api.mealato.com/api/ws/orders?role=business&user_id=biz+1",
		},
		{
			name:    "missing endpoint",
			role:    "business",
			wantErr: true,
		},
		{
			name:     "unsupported scheme",
			baseURL:  "ftp://api.mealato.com",
			role:     "business",
			identity: "biz-1",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildFeedURL(tt.baseURL, tt.wsURL, tt.role, tt.identity)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildFeedURL failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildFeedURL_MissingEndpoint(t *testing.T) {
	_, err := BuildFeedURL("", "", "business", "biz-1")
	if !errors.Is(err, ErrMissingEndpoint) {
		t.Errorf("expected ErrMissingEndpoint, got %v", err)
	}
}

func TestDefaultConfigs(t *testing.T) {
	clientCfg := DefaultClientConfig()
	if clientCfg.DialTimeout != 10*time.Second {
		t.Errorf("DialTimeout = %v, want 10s", clientCfg.DialTimeout)
	}
	if clientCfg.BufferSize != 4096 {
		t.Errorf("BufferSize = %d, want 4096", clientCfg.BufferSize)
	}

	svcCfg := DefaultServiceConfig()
	if svcCfg.Heartbeat.ProbeInterval != 25*time.Second {
		t.Errorf("Heartbeat.ProbeInterval = %v, want 25s", svcCfg.Heartbeat.ProbeInterval)
	}
	if svcCfg.Reconnect.MaxDelay != 30*time.Second {
		t.Errorf("Reconnect.MaxDelay = %v, want 30s", svcCfg.Reconnect.MaxDelay)
	}
	if svcCfg.Dispatch.QueueCapacity != 1024 {
		t.Errorf("Dispatch.QueueCapacity = %d, want 1024", svcCfg.Dispatch.QueueCapacity)
	}
}
