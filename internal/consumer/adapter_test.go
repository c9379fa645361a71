package consumer

import (
	"testing"

	"github.com/mealato/orderfeed/internal/connection"
	"github.com/mealato/orderfeed/internal/event"
)

func newTestService() *connection.Service {
	return connection.NewService(connection.DefaultServiceConfig(), nil, nil)
}

func TestAdapter_InitIdempotent(t *testing.T) {
	svc := newTestService()
	a := New("orders-panel", svc, nil)

	fn := func(event.Envelope) {}

	cancel1 := a.Init(fn)
	cancel2 := a.Init(fn)

	if cancel1 == nil || cancel2 == nil {
		t.Fatal("Init returned nil cancel")
	}

	// Double init must not double-subscribe.
	if got := svc.State().Subscribers; got != 1 {
		t.Errorf("Subscribers = %d, want 1 after duplicate init", got)
	}

	cancel1()
	if got := svc.State().Subscribers; got != 0 {
		t.Errorf("Subscribers = %d, want 0 after cancel", got)
	}

	// The second cancel is the same registration; calling it is a no-op.
	cancel2()
	if got := svc.State().Subscribers; got != 0 {
		t.Errorf("Subscribers = %d, want 0 after second cancel", got)
	}
}

func TestAdapter_InitAfterCancelStaysLatched(t *testing.T) {
	svc := newTestService()
	a := New("orders-panel", svc, nil)

	cancel := a.Init(func(event.Envelope) {})
	cancel()

	// The init marker is monotonic: a later Init does not re-register.
	a.Init(func(event.Envelope) {})
	if got := svc.State().Subscribers; got != 0 {
		t.Errorf("Subscribers = %d, want 0 (init latches once)", got)
	}
}

func TestAdapter_Reconfigure(t *testing.T) {
	svc := newTestService()
	svc.Configure(connection.Config{
		BaseURL:  "https://api.mealato.com",
		Identity: "biz-1",
		Role:     connection.RoleBusiness,
		Enabled:  true,
	})

	a := New("orders-panel", svc, nil)
	a.Reconfigure("biz-2", connection.RoleAdmin)

	cfg := svc.Config()
	if cfg.Identity != "biz-2" {
		t.Errorf("Identity = %q, want biz-2", cfg.Identity)
	}
	if cfg.Role != connection.RoleAdmin {
		t.Errorf("Role = %q, want %q", cfg.Role, connection.RoleAdmin)
	}
	if cfg.BaseURL != "https://api.mealato.com" {
		t.Errorf("BaseURL = %q, endpoint must survive a reconfigure", cfg.BaseURL)
	}
	if !cfg.Enabled {
		t.Error("Enabled flipped during reconfigure")
	}
}

func TestAdapter_State(t *testing.T) {
	svc := newTestService()
	a := New("orders-panel", svc, nil)

	st := a.State()
	if st.Status != connection.StatusDisabled {
		t.Errorf("Status = %s, want %s before configuration", st.Status, connection.StatusDisabled)
	}
	if st.Connected {
		t.Error("Connected = true before any connection")
	}

	if a.Name() != "orders-panel" {
		t.Errorf("Name = %q, want orders-panel", a.Name())
	}
}
