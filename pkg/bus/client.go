// Package bus implements the device-bus client: a long-lived authenticated
// websocket session with request/response correlation and event subscription,
// speaking the Home-Assistant websocket protocol.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castellan/castellan/pkg/metrics"
)

// maxFrameSize tolerates large full-state dumps.
const maxFrameSize = 10 * 1024 * 1024

type Client struct {
	wsURL string
	token string

	requestTimeout time.Duration
	statesTimeout  time.Duration

	conn    *websocket.Conn
	writeMu sync.Mutex

	nextID    atomic.Int64
	connected atomic.Bool

	mu      sync.Mutex
	pending map[int64]chan *frame
	subs    map[int64]*subscription
	done    chan struct{}
}

type subscription struct {
	entities map[string]bool // empty = all entities
	handler  EventHandler
}

type Option func(*Client)

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

func WithStatesTimeout(d time.Duration) Option {
	return func(c *Client) { c.statesTimeout = d }
}

// NewClient builds a client for the given base URL (http(s)://host[:port]).
// The websocket endpoint is derived from it; https maps to wss.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid bus URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid bus URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/websocket"

	c := &Client{
		wsURL:          u.String(),
		token:          token,
		requestTimeout: 10 * time.Second,
		statesTimeout:  60 * time.Second,
		pending:        make(map[int64]chan *frame),
		subs:           make(map[int64]*subscription),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect dials the bus, completes the auth handshake, and starts the
// background receiver. Auth rejection returns *AuthError and is terminal.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{"Authorization": {"Bearer " + c.token}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	conn.SetReadLimit(maxFrameSize)

	// Handshake: expect auth_required, answer with the token, expect auth_ok.
	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read handshake: %w", err)
	}
	if hello.Type != "auth_required" {
		conn.Close()
		return fmt.Errorf("unexpected handshake message %q", hello.Type)
	}
	if err := conn.WriteJSON(frame{Type: "auth", AccessToken: c.token}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send auth: %w", err)
	}
	var result frame
	if err := conn.ReadJSON(&result); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read auth result: %w", err)
	}
	if result.Type != "auth_ok" {
		conn.Close()
		return &AuthError{Message: result.Message}
	}

	c.conn = conn
	c.connected.Store(true)
	go c.receive()

	slog.Info("connected to device bus", "url", c.wsURL)
	return nil
}

// Connected reports whether the session is live.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Close tears down the session. Outstanding requests fail with
// ErrDisconnected.
func (c *Client) Close() error {
	c.connected.Store(false)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// receive demultiplexes incoming frames by id until the connection drops.
func (c *Client) receive() {
	defer c.failAll()
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if c.connected.Load() {
				slog.Warn("device bus connection closed", "error", err)
			}
			return
		}

		if f.Type == "event" {
			c.dispatchEvent(&f)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- &f
		}
	}
}

func (c *Client) dispatchEvent(f *frame) {
	c.mu.Lock()
	sub, ok := c.subs[f.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	var payload eventPayload
	if err := json.Unmarshal(f.Event, &payload); err != nil {
		slog.Warn("failed to decode bus event", "error", err)
		return
	}
	if len(sub.entities) > 0 && !sub.entities[payload.Data.EntityID] {
		return
	}
	sub.handler(StateChangedEvent{
		EventType: payload.EventType,
		EntityID:  payload.Data.EntityID,
		OldState:  payload.Data.OldState,
		NewState:  payload.Data.NewState,
		Raw:       f.Event,
	})
}

// failAll marks the session disconnected and fails every outstanding request.
func (c *Client) failAll() {
	c.connected.Store(false)
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan *frame)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// send writes a command frame and waits for its correlated response.
func (c *Client) send(ctx context.Context, payload map[string]any, timeout time.Duration) (*frame, error) {
	if !c.connected.Load() {
		return nil, ErrDisconnected
	}

	id := c.nextID.Add(1)
	payload["id"] = id

	ch := make(chan *frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(payload)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to send %v: %w", payload["type"], ErrDisconnected)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case f, ok := <-ch:
		if !ok {
			return nil, ErrDisconnected
		}
		return f, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for %v response: %w", payload["type"], ctx.Err())
	}
}

func (c *Client) command(ctx context.Context, payload map[string]any, timeout time.Duration) (json.RawMessage, error) {
	cmd, _ := payload["type"].(string)
	f, err := c.send(ctx, payload, timeout)
	if err != nil {
		metrics.BusRequests.WithLabelValues(cmd, "error").Inc()
		return nil, err
	}
	if f.Success == nil || !*f.Success {
		metrics.BusRequests.WithLabelValues(cmd, "rejected").Inc()
		reqErr := &RequestError{Command: cmd}
		if f.Error != nil {
			reqErr.Code = f.Error.Code
			reqErr.Message = f.Error.Message
		}
		return nil, reqErr
	}
	metrics.BusRequests.WithLabelValues(cmd, "ok").Inc()
	return f.Result, nil
}

// GetStates returns the full entity registry.
func (c *Client) GetStates(ctx context.Context) ([]EntityState, error) {
	result, err := c.command(ctx, map[string]any{"type": "get_states"}, c.statesTimeout)
	if err != nil {
		return nil, err
	}
	var states []EntityState
	if err := json.Unmarshal(result, &states); err != nil {
		return nil, fmt.Errorf("failed to decode states: %w", err)
	}
	return states, nil
}

// GetState returns one entity's state, or *EntityNotFoundError.
func (c *Client) GetState(ctx context.Context, entityID string) (*EntityState, error) {
	states, err := c.GetStates(ctx)
	if err != nil {
		return nil, err
	}
	for i := range states {
		if states[i].EntityID == entityID {
			return &states[i], nil
		}
	}
	return nil, &EntityNotFoundError{EntityID: entityID}
}

// GetServices returns the capability map: domain -> service -> schema.
func (c *Client) GetServices(ctx context.Context) (map[string]map[string]json.RawMessage, error) {
	result, err := c.command(ctx, map[string]any{"type": "get_services"}, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	var services map[string]map[string]json.RawMessage
	if err := json.Unmarshal(result, &services); err != nil {
		return nil, fmt.Errorf("failed to decode services: %w", err)
	}
	return services, nil
}

// CallService fires a service call. entity_id, when present, is carried in
// the service data.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) (json.RawMessage, error) {
	if data == nil {
		data = map[string]any{}
	}
	return c.command(ctx, map[string]any{
		"type":         "call_service",
		"domain":       domain,
		"service":      service,
		"service_data": data,
	}, c.requestTimeout)
}

// Subscribe registers an event subscription. When entities is non-empty,
// only events for those entity ids reach the handler. Returns the
// subscription id.
func (c *Client) Subscribe(ctx context.Context, eventType string, entities []string, handler EventHandler) (int64, error) {
	if eventType == "" {
		eventType = "state_changed"
	}

	filter := make(map[string]bool, len(entities))
	for _, id := range entities {
		filter[id] = true
	}

	// Register before awaiting the ack: events may arrive immediately after
	// the bus confirms.
	id := c.nextID.Add(1)
	c.mu.Lock()
	c.subs[id] = &subscription{entities: filter, handler: handler}
	c.mu.Unlock()

	ch := make(chan *frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(map[string]any{
		"id":         id,
		"type":       "subscribe_events",
		"event_type": eventType,
	})
	c.writeMu.Unlock()
	if err != nil {
		c.dropSubscription(id)
		return 0, ErrDisconnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	select {
	case f, ok := <-ch:
		if !ok {
			c.dropSubscription(id)
			return 0, ErrDisconnected
		}
		if f.Success == nil || !*f.Success {
			c.dropSubscription(id)
			return 0, &RequestError{Command: "subscribe_events", Message: "subscription rejected"}
		}
		return id, nil
	case <-ctx.Done():
		c.dropSubscription(id)
		return 0, fmt.Errorf("timeout waiting for subscription ack: %w", ctx.Err())
	}
}

func (c *Client) dropSubscription(id int64) {
	c.mu.Lock()
	delete(c.subs, id)
	delete(c.pending, id)
	c.mu.Unlock()
}

// ClimateState condenses a climate entity's state for the climate tools.
func (c *Client) ClimateState(ctx context.Context, entityID string) (*ClimateState, error) {
	state, err := c.GetState(ctx, entityID)
	if err != nil {
		return nil, err
	}
	cs := &ClimateState{
		EntityID:   entityID,
		State:      state.State,
		Attributes: state.Attributes,
	}
	if v, ok := toFloat(state.Attributes["current_temperature"]); ok {
		cs.CurrentTemperature = &v
	}
	if v, ok := toFloat(state.Attributes["temperature"]); ok {
		cs.TargetTemperature = &v
	}
	if v, ok := state.Attributes["hvac_mode"].(string); ok {
		cs.HVACMode = v
	}
	if v, ok := state.Attributes["preset_mode"].(string); ok {
		cs.PresetMode = v
	}
	return cs, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
