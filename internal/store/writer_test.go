package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mealato/orderfeed/internal/event"
)

func orderEnvelope(t *testing.T, eventType, payload string, receivedAt time.Time) event.Envelope {
	t.Helper()
	data, err := json.Marshal(map[string]json.RawMessage{
		"event_type": json.RawMessage(`"` + eventType + `"`),
		"data":       json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return event.Envelope{
		Type:       event.TypeOrderNotification,
		Data:       data,
		ReceivedAt: receivedAt,
	}
}

func TestNotificationWriter_Transform(t *testing.T) {
	w := NewNotificationWriter(DefaultWriterConfig(), nil, nil)

	receivedAt := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	env := orderEnvelope(t, "order.created", `{"id":"ord-1","total":1250}`, receivedAt)

	row, ok := w.transform(env)
	if !ok {
		t.Fatal("transform rejected a valid notification")
	}

	if row.EventID != "ord-1:order.created" {
		t.Errorf("EventID = %s, want ord-1:order.created", row.EventID)
	}
	if row.EventType != "order.created" {
		t.Errorf("EventType = %s, want order.created", row.EventType)
	}
	if string(row.Payload) != `{"id":"ord-1","total":1250}` {
		t.Errorf("Payload = %s", row.Payload)
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
}

func TestNotificationWriter_Transform_NoOrderID(t *testing.T) {
	w := NewNotificationWriter(DefaultWriterConfig(), nil, nil)

	env := orderEnvelope(t, "order.status_changed", `{"status":"delivered"}`, time.Now())

	row, ok := w.transform(env)
	if !ok {
		t.Fatal("transform rejected a valid notification")
	}

	// Without an order id the event id falls back to a fresh UUID.
	if row.EventID == "" {
		t.Error("EventID is empty")
	}
	if row.EventID == ":order.status_changed" {
		t.Errorf("EventID = %s, want a generated id", row.EventID)
	}
}

func TestNotificationWriter_Transform_MalformedPayload(t *testing.T) {
	w := NewNotificationWriter(DefaultWriterConfig(), nil, nil)

	env := event.Envelope{
		Type:       event.TypeOrderNotification,
		Data:       []byte(`{not json`),
		ReceivedAt: time.Now(),
	}

	if _, ok := w.transform(env); ok {
		t.Error("transform accepted a malformed notification")
	}
}

func TestNotificationWriter_Handle_FiltersTypes(t *testing.T) {
	w := NewNotificationWriter(DefaultWriterConfig(), nil, nil)

	w.Handle(event.Envelope{Type: event.TypePong})
	w.Handle(event.Envelope{Type: event.TypeSubscribed})
	if got := w.input.Len(); got != 0 {
		t.Errorf("queue length = %d, want 0 after non-notification envelopes", got)
	}

	w.Handle(orderEnvelope(t, "order.created", `{"id":"ord-1"}`, time.Now()))
	if got := w.input.Len(); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
}

func TestNotificationWriter_HandleEnvelope_AddsToBatch(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     100, // Large batch so no auto-flush
		FlushInterval: time.Hour,
		QueueCapacity: 10,
	}
	w := NewNotificationWriter(cfg, nil, nil)

	w.handleEnvelope(orderEnvelope(t, "order.created", `{"id":"ord-1"}`, time.Now()))

	w.batchMu.Lock()
	batchLen := len(w.batch)
	w.batchMu.Unlock()

	if batchLen != 1 {
		t.Errorf("batch length = %d, want 1", batchLen)
	}
}

func TestNotificationWriter_Lifecycle(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
		QueueCapacity: 10,
	}

	// Note: We can't test actual DB writes without a database
	// This tests the goroutine lifecycle
	w := NewNotificationWriter(cfg, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Give goroutines time to start
	time.Sleep(20 * time.Millisecond)

	// Stop should complete without hanging
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestNotificationWriter_Stats(t *testing.T) {
	w := NewNotificationWriter(DefaultWriterConfig(), nil, nil)

	stats := w.Stats()

	if stats.Inserts != 0 {
		t.Errorf("initial Inserts = %d, want 0", stats.Inserts)
	}
	if stats.Errors != 0 {
		t.Errorf("initial Errors = %d, want 0", stats.Errors)
	}
}

func TestDefaultWriterConfig(t *testing.T) {
	cfg := DefaultWriterConfig()
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.FlushInterval != time.Second {
		t.Errorf("FlushInterval = %v, want 1s", cfg.FlushInterval)
	}
	if cfg.QueueCapacity != 4096 {
		t.Errorf("QueueCapacity = %d, want 4096", cfg.QueueCapacity)
	}
}
