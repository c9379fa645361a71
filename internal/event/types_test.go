package event

import (
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		data     string
		wantType string
		wantErr  bool
	}{
		{
			name:     "pong",
			data:     `{"type":"pong"}`,
			wantType: TypePong,
		},
		{
			name:     "subscribed",
			data:     `{"type":"subscribed"}`,
			wantType: TypeSubscribed,
		},
		{
			name:     "order notification",
			data:     `{"type":"order_notification","data":{"event_type":"order.created","data":{"id":"ord-1"}}}`,
			wantType: TypeOrderNotification,
		},
		{
			name:    "invalid json",
			data:    `{"type":`,
			wantErr: true,
		},
		{
			name:    "missing type",
			data:    `{"data":{}}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			data:    `"ping"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Parse([]byte(tt.data), now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got nil", tt.data)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.data, err)
			}
			if env.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", env.Type, tt.wantType)
			}
			if !env.ReceivedAt.Equal(now) {
				t.Errorf("ReceivedAt = %v, want %v", env.ReceivedAt, now)
			}
		})
	}
}

func TestParse_MissingTypeSentinel(t *testing.T) {
	_, err := Parse([]byte(`{"data":{}}`), time.Now())
	if !errors.Is(err, ErrMissingType) {
		t.Errorf("expected ErrMissingType, got %v", err)
	}
}

func TestEnvelope_OrderNotification(t *testing.T) {
	raw := `{"type":"order_notification","data":{"event_type":"order.created","data":{"id":"ord-42","total":1899}}}`

	env, err := Parse([]byte(raw), time.Now())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	n, err := env.OrderNotification()
	if err != nil {
		t.Fatalf("OrderNotification failed: %v", err)
	}

	if n.EventType != EventOrderCreated {
		t.Errorf("EventType = %q, want %q", n.EventType, EventOrderCreated)
	}
	if got := n.OrderID(); got != "ord-42" {
		t.Errorf("OrderID() = %q, want %q", got, "ord-42")
	}
}

func TestEnvelope_OrderNotification_WrongType(t *testing.T) {
	env := Envelope{Type: TypePong}

	_, err := env.OrderNotification()
	if !errors.Is(err, ErrWrongType) {
		t.Errorf("expected ErrWrongType, got %v", err)
	}
}

func TestOrderNotification_OrderID_Missing(t *testing.T) {
	n := OrderNotification{
		EventType: "order.status_changed",
		Data:      []byte(`{"status":"ready"}`),
	}

	if got := n.OrderID(); got != "" {
		t.Errorf("OrderID() = %q, want empty", got)
	}
}
