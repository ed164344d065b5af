package bus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testToken = "secret-token"

// fakeBusServer speaks the websocket protocol: auth handshake, then
// command/response frames keyed by type.
type fakeBusServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conn  *websocket.Conn
	calls []map[string]any

	states    []EntityState
	rejectAll bool // guarded by mu
}

func (f *fakeBusServer) setRejectAll(v bool) {
	f.mu.Lock()
	f.rejectAll = v
	f.mu.Unlock()
}

func newFakeBusServer(t *testing.T) *fakeBusServer {
	t.Helper()
	f := &fakeBusServer{t: t}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBusServer) URL() string { return f.server.URL }

func (f *fakeBusServer) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/api/websocket") {
		http.NotFound(w, r)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	if err := conn.WriteJSON(map[string]any{"type": "auth_required"}); err != nil {
		return
	}
	var auth map[string]any
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth["access_token"] != testToken {
		_ = conn.WriteJSON(map[string]any{"type": "auth_invalid", "message": "bad token"})
		conn.Close()
		return
	}
	if err := conn.WriteJSON(map[string]any{"type": "auth_ok"}); err != nil {
		return
	}

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.mu.Lock()
		f.calls = append(f.calls, msg)
		f.mu.Unlock()
		f.respond(conn, msg)
	}
}

func (f *fakeBusServer) respond(conn *websocket.Conn, msg map[string]any) {
	id := msg["id"]
	f.mu.Lock()
	reject := f.rejectAll
	f.mu.Unlock()
	if reject {
		_ = conn.WriteJSON(map[string]any{
			"id": id, "type": "result", "success": false,
			"error": map[string]any{"code": "unknown_command", "message": "rejected"},
		})
		return
	}

	switch msg["type"] {
	case "get_states":
		_ = conn.WriteJSON(map[string]any{"id": id, "type": "result", "success": true, "result": f.states})
	case "call_service", "subscribe_events":
		_ = conn.WriteJSON(map[string]any{"id": id, "type": "result", "success": true, "result": map[string]any{}})
	default:
		_ = conn.WriteJSON(map[string]any{
			"id": id, "type": "result", "success": false,
			"error": map[string]any{"code": "unknown_command", "message": "unknown"},
		})
	}
}

// pushEvent emits a state_changed event frame on the given subscription id.
func (f *fakeBusServer) pushEvent(subID int64, entityID, newState string) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	event := map[string]any{
		"event_type": "state_changed",
		"data": map[string]any{
			"entity_id": entityID,
			"new_state": map[string]any{"entity_id": entityID, "state": newState},
		},
	}
	raw, _ := json.Marshal(event)
	_ = conn.WriteJSON(map[string]any{"id": subID, "type": "event", "event": json.RawMessage(raw)})
}

func connect(t *testing.T, f *fakeBusServer) *Client {
	t.Helper()
	c, err := NewClient(f.URL(), testToken)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnectAndGetStates(t *testing.T) {
	f := newFakeBusServer(t)
	f.states = []EntityState{
		{EntityID: "light.hall", State: "off"},
		{EntityID: "climate.bedroom", State: "heat", Attributes: map[string]any{"temperature": 21.0}},
	}
	c := connect(t, f)

	if !c.Connected() {
		t.Fatal("client not marked connected")
	}
	states, err := c.GetStates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 || states[0].EntityID != "light.hall" {
		t.Errorf("unexpected states: %+v", states)
	}
	if states[1].Domain() != "climate" {
		t.Errorf("domain parsing broken: %q", states[1].Domain())
	}
}

func TestAuthRejectionIsTerminal(t *testing.T) {
	f := newFakeBusServer(t)
	c, err := NewClient(f.URL(), "wrong-token")
	if err != nil {
		t.Fatal(err)
	}
	err = c.Connect(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if c.Connected() {
		t.Error("client marked connected after auth failure")
	}
}

func TestGetStateMissingEntity(t *testing.T) {
	f := newFakeBusServer(t)
	f.states = []EntityState{{EntityID: "light.hall", State: "on"}}
	c := connect(t, f)

	if _, err := c.GetState(context.Background(), "light.hall"); err != nil {
		t.Fatal(err)
	}
	_, err := c.GetState(context.Background(), "light.ghost")
	var notFound *EntityNotFoundError
	if !errors.As(err, &notFound) || notFound.EntityID != "light.ghost" {
		t.Errorf("expected *EntityNotFoundError, got %v", err)
	}
}

func TestCallServiceCarriesData(t *testing.T) {
	f := newFakeBusServer(t)
	c := connect(t, f)

	_, err := c.CallService(context.Background(), "light", "turn_on",
		map[string]any{"entity_id": "light.hall", "brightness_pct": 50})
	if err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(f.calls))
	}
	call := f.calls[0]
	if call["domain"] != "light" || call["service"] != "turn_on" {
		t.Errorf("unexpected call: %v", call)
	}
	data, _ := call["service_data"].(map[string]any)
	if data["entity_id"] != "light.hall" {
		t.Errorf("service data lost: %v", data)
	}
}

func TestCommandRejectionReturnsRequestError(t *testing.T) {
	f := newFakeBusServer(t)
	c := connect(t, f)
	f.setRejectAll(true)

	_, err := c.CallService(context.Background(), "light", "turn_on", nil)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %v", err)
	}
	if reqErr.Code != "unknown_command" {
		t.Errorf("error detail lost: %+v", reqErr)
	}
}

func TestSubscribeFiltersEntities(t *testing.T) {
	f := newFakeBusServer(t)
	c := connect(t, f)

	events := make(chan StateChangedEvent, 4)
	subID, err := c.Subscribe(context.Background(), "", []string{"light.hall"}, func(ev StateChangedEvent) {
		events <- ev
	})
	if err != nil {
		t.Fatal(err)
	}

	f.pushEvent(subID, "light.kitchen", "on") // filtered out
	f.pushEvent(subID, "light.hall", "on")

	select {
	case ev := <-events:
		if ev.EntityID != "light.hall" {
			t.Errorf("filter let through %q", ev.EntityID)
		}
		if ev.NewState == nil || ev.NewState.State != "on" {
			t.Errorf("new state missing: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRequestsFailAfterClose(t *testing.T) {
	f := newFakeBusServer(t)
	c := connect(t, f)
	c.Close()

	_, err := c.GetStates(context.Background())
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("expected ErrDisconnected, got %v", err)
	}
}

func TestURLDerivation(t *testing.T) {
	c, err := NewClient("http://bus.local:8123", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if c.wsURL != "ws://bus.local:8123/api/websocket" {
		t.Errorf("unexpected ws url: %q", c.wsURL)
	}

	c, err = NewClient("https://bus.local/", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if c.wsURL != "wss://bus.local/api/websocket" {
		t.Errorf("unexpected wss url: %q", c.wsURL)
	}

	if _, err := NewClient("ftp://bus.local", "tok"); err == nil {
		t.Error("invalid scheme accepted")
	}
}
