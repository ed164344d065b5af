package approval

import (
	"sync"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, opts ...QueueOption) *Queue {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	q := NewQueue(store, opts...)
	t.Cleanup(q.Close)
	return q
}

func TestAutoApproveLighting(t *testing.T) {
	q := newTestQueue(t)

	req, err := q.AddRequest("lighting", "turn_on_light",
		map[string]any{"entity_id": "light.kitchen"}, ImpactLow, "evening routine", 0)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	if req.Status != StatusApproved {
		t.Errorf("expected approved, got %s", req.Status)
	}
	if req.Resolver != SystemResolver {
		t.Errorf("expected resolver %q, got %q", SystemResolver, req.Resolver)
	}
	if req.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
}

func TestClimateSmallChangeAutoApproved(t *testing.T) {
	q := newTestQueue(t)

	req, err := q.AddRequest("heating", "set_temperature",
		map[string]any{"temperature": 21.0, "temperature_change": 1.5, "mode": "heat"},
		ImpactMedium, "morning warmup", 0)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	if req.Status != StatusApproved {
		t.Errorf("1.5 degree change in heat mode should auto-approve, got %s", req.Status)
	}
}

func TestClimateLargeChangeStaysPending(t *testing.T) {
	q := newTestQueue(t)

	req, err := q.AddRequest("heating", "set_temperature",
		map[string]any{"temperature": 25.0, "temperature_change": 4.0},
		ImpactMedium, "cold snap", 0)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	if req.Status != StatusPending {
		t.Errorf("4 degree change should stay pending, got %s", req.Status)
	}
}

func TestClimateDisallowedModeStaysPending(t *testing.T) {
	q := newTestQueue(t)

	req, err := q.AddRequest("heating", "set_hvac_mode",
		map[string]any{"temperature_change": 0.5, "mode": "off"},
		ImpactMedium, "shutting down", 0)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	if req.Status != StatusPending {
		t.Errorf("mode off should stay pending, got %s", req.Status)
	}
}

func TestSecurityAllowlist(t *testing.T) {
	q := newTestQueue(t)

	req, err := q.AddRequest("security", "armed_home_to_armed_away",
		map[string]any{"entity_id": "alarm_control_panel.home"}, ImpactMedium, "leaving", 0)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	if req.Status != StatusApproved {
		t.Errorf("allowlisted security action should auto-approve, got %s", req.Status)
	}

	req, err = q.AddRequest("security", "disarm",
		map[string]any{"entity_id": "alarm_control_panel.home"}, ImpactHigh, "guest arriving", 0)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	if req.Status != StatusPending {
		t.Errorf("disarm should stay pending, got %s", req.Status)
	}
}

func TestHighImpactAlwaysPending(t *testing.T) {
	q := newTestQueue(t)

	for _, impact := range []ImpactLevel{ImpactHigh, ImpactCritical} {
		req, err := q.AddRequest("heating", "set_hvac_mode",
			map[string]any{"mode": "off"}, impact, "maintenance", 0)
		if err != nil {
			t.Fatalf("AddRequest failed: %v", err)
		}
		if req.Status != StatusPending {
			t.Errorf("%s impact should stay pending, got %s", impact, req.Status)
		}
	}
}

func TestLowImpactDefaultApproves(t *testing.T) {
	q := newTestQueue(t)

	req, err := q.AddRequest("unknown_agent", "log", nil, ImpactLow, "note", 0)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	if req.Status != StatusApproved {
		t.Errorf("low impact with no rule should approve, got %s", req.Status)
	}

	req, err = q.AddRequest("unknown_agent", "call_service", nil, ImpactMedium, "note", 0)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	if req.Status != StatusPending {
		t.Errorf("medium impact with no rule should stay pending, got %s", req.Status)
	}
}

func TestApproveRequiresPending(t *testing.T) {
	q := newTestQueue(t)

	req, err := q.AddRequest("security", "disarm", nil, ImpactHigh, "guest", 0)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}

	ok, err := q.Approve(req.ID, "alice")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if !ok {
		t.Fatal("first approve should succeed")
	}

	// Terminal states absorb further transitions.
	ok, err = q.Approve(req.ID, "bob")
	if err != nil {
		t.Fatalf("second Approve errored: %v", err)
	}
	if ok {
		t.Error("approving an already-approved request should return false")
	}
	ok, err = q.Reject(req.ID, "bob")
	if err != nil {
		t.Fatalf("Reject errored: %v", err)
	}
	if ok {
		t.Error("rejecting an approved request should return false")
	}

	got, err := q.Get(req.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusApproved || got.Resolver != "alice" {
		t.Errorf("request mutated by absorbed transition: %+v", got)
	}
}

func TestApproveUnknownRequest(t *testing.T) {
	q := newTestQueue(t)
	ok, err := q.Approve("no-such-id", "alice")
	if err != nil {
		t.Fatalf("Approve errored: %v", err)
	}
	if ok {
		t.Error("approving an unknown request should return false")
	}
}

func TestTimeoutExpiresPendingRequest(t *testing.T) {
	q := newTestQueue(t)

	req, err := q.AddRequest("security", "disarm", nil, ImpactCritical, "test", time.Second)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := q.Get(req.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status == StatusExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("request did not expire, status %s", got.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Expired is terminal too.
	ok, err := q.Approve(req.ID, "alice")
	if err != nil {
		t.Fatalf("Approve errored: %v", err)
	}
	if ok {
		t.Error("approving an expired request should return false")
	}
}

func TestResolvedRequestNeverExpires(t *testing.T) {
	q := newTestQueue(t)

	req, err := q.AddRequest("security", "disarm", nil, ImpactHigh, "test", time.Second)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	if ok, _ := q.Approve(req.ID, "alice"); !ok {
		t.Fatal("approve should succeed")
	}

	time.Sleep(1500 * time.Millisecond)

	got, err := q.Get(req.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusApproved {
		t.Errorf("resolved request must not expire, got %s", got.Status)
	}
}

func TestCallbacksFireOnPending(t *testing.T) {
	q := newTestQueue(t)

	var mu sync.Mutex
	var events []Event
	q.Subscribe(func(ev Event) error {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	})

	// Auto-approved: no notification.
	if _, err := q.AddRequest("lighting", "turn_on_light", nil, ImpactLow, "x", 0); err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	// Pending: one notification.
	req, err := q.AddRequest("security", "disarm", nil, ImpactHigh, "y", 0)
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].RequestID != req.ID || events[0].Type != "approval_required" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestPendingListing(t *testing.T) {
	q := newTestQueue(t)

	if _, err := q.AddRequest("security", "disarm", nil, ImpactHigh, "a", 0); err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	if _, err := q.AddRequest("lighting", "turn_on_light", nil, ImpactLow, "b", 0); err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}

	pending, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}
	if pending[0].AgentID != "security" {
		t.Errorf("unexpected pending request: %+v", pending[0])
	}

	history, err := q.History(10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("expected 2 history rows, got %d", len(history))
	}
}
