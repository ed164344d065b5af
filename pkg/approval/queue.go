package approval

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castellan/castellan/pkg/metrics"
)

// DefaultTimeout is applied when a request does not carry its own.
const DefaultTimeout = 5 * time.Minute

// AgentRule is the auto-approval policy for one agent id.
type AgentRule struct {
	// ApproveAll short-circuits everything else (lighting).
	ApproveAll bool
	// MaxTempChange auto-approves climate requests whose
	// |temperature_change| stays within this bound.
	MaxTempChange float64
	// AllowedModes restricts which HVAC modes the climate rule accepts.
	AllowedModes []string
	// AutoApprove lists action types approved outright (security).
	AutoApprove []string
}

// DefaultRules mirrors the per-agent household policy: lighting is fully
// trusted, climate agents may nudge within two degrees, security may only
// tighten the alarm.
func DefaultRules() map[string]AgentRule {
	return map[string]AgentRule{
		"lighting": {ApproveAll: true},
		"heating":  {MaxTempChange: 2.0, AllowedModes: []string{"heat", "auto"}},
		"cooling":  {MaxTempChange: 2.0, AllowedModes: []string{"cool", "auto"}},
		"security": {AutoApprove: []string{"armed_home_to_armed_away"}},
	}
}

// Queue wires the store, the auto-approval rules, the notification
// subscribers, and the per-request timeout watchers together.
type Queue struct {
	store          *Store
	rules          map[string]AgentRule
	defaultTimeout time.Duration

	mu        sync.Mutex
	callbacks []Callback
	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

type QueueOption func(*Queue)

func WithRules(rules map[string]AgentRule) QueueOption {
	return func(q *Queue) { q.rules = rules }
}

func WithDefaultTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.defaultTimeout = d }
}

func NewQueue(store *Store, opts ...QueueOption) *Queue {
	q := &Queue{
		store:          store,
		rules:          DefaultRules(),
		defaultTimeout: DefaultTimeout,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Close stops the timeout watchers and waits for them to finish. The store
// is owned by the caller and stays open.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
	q.wg.Wait()
}

// Subscribe registers a callback invoked whenever a request enters pending.
func (q *Queue) Subscribe(cb Callback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callbacks = append(q.callbacks, cb)
}

// AddRequest creates a request and runs it through the auto-approval rules.
// A request the rules do not settle comes back pending, with subscribers
// notified and a timeout watcher scheduled.
func (q *Queue) AddRequest(agentID, actionType string, actionData map[string]any, impact ImpactLevel, reason string, timeout time.Duration) (*Request, error) {
	if !impact.Valid() {
		return nil, fmt.Errorf("invalid impact level %q", impact)
	}
	if timeout <= 0 {
		timeout = q.defaultTimeout
	}

	now := time.Now()
	req := &Request{
		ID:             uuid.NewString(),
		CreatedAt:      now,
		AgentID:        agentID,
		ActionType:     actionType,
		ActionData:     actionData,
		ImpactLevel:    impact,
		Reason:         reason,
		Status:         StatusPending,
		TimeoutSeconds: int(timeout / time.Second),
	}

	if q.shouldAutoApprove(req) {
		req.Status = StatusApproved
		req.Resolver = SystemResolver
		resolvedAt := now
		req.ResolvedAt = &resolvedAt
		slog.Info("Auto-approved request", "id", req.ID, "agent", agentID, "action", actionType)
	}

	if err := q.store.Insert(req); err != nil {
		return nil, err
	}
	metrics.ApprovalTransitions.WithLabelValues(string(req.Status)).Inc()

	if req.Status == StatusPending {
		slog.Info("Queued for approval", "id", req.ID, "agent", agentID,
			"action", actionType, "impact", impact, "timeout", timeout)
		q.notify(Event{
			Type:           "approval_required",
			RequestID:      req.ID,
			AgentID:        agentID,
			ActionType:     actionType,
			ImpactLevel:    impact,
			Reason:         reason,
			TimeoutSeconds: req.TimeoutSeconds,
		})
		q.watchTimeout(req.ID, timeout)
	}

	return req, nil
}

// Approve resolves a pending request; returns false when the request is
// missing or already terminal.
func (q *Queue) Approve(id, resolver string) (bool, error) {
	return q.resolve(id, StatusApproved, resolver)
}

// Reject resolves a pending request; returns false when the request is
// missing or already terminal.
func (q *Queue) Reject(id, resolver string) (bool, error) {
	return q.resolve(id, StatusRejected, resolver)
}

func (q *Queue) resolve(id string, status Status, resolver string) (bool, error) {
	if resolver == "" {
		resolver = "user"
	}
	ok, err := q.store.Resolve(id, status, resolver, time.Now())
	if err != nil {
		return false, err
	}
	if ok {
		metrics.ApprovalTransitions.WithLabelValues(string(status)).Inc()
		slog.Info("Request resolved", "id", id, "status", status, "resolver", resolver)
	}
	return ok, nil
}

// Get returns the request by id, or nil when absent.
func (q *Queue) Get(id string) (*Request, error) {
	return q.store.Get(id)
}

// Pending returns all pending requests, newest first.
func (q *Queue) Pending() ([]*Request, error) {
	return q.store.Pending()
}

// History returns recent requests regardless of status.
func (q *Queue) History(limit int) ([]*Request, error) {
	return q.store.History(limit)
}

func (q *Queue) shouldAutoApprove(req *Request) bool {
	rule, ok := q.rules[req.AgentID]

	if ok && rule.ApproveAll {
		return true
	}

	// Climate agents: small set-point nudges in an allowed mode pass.
	if ok && rule.MaxTempChange > 0 {
		if change, present := toFloat(req.ActionData["temperature_change"]); present {
			if math.Abs(change) <= rule.MaxTempChange && modeAllowed(req.ActionData, rule.AllowedModes) {
				return true
			}
		}
	}

	if ok && len(rule.AutoApprove) > 0 {
		for _, at := range rule.AutoApprove {
			if req.ActionType == at {
				return true
			}
		}
	}

	if req.ImpactLevel == ImpactHigh || req.ImpactLevel == ImpactCritical {
		return false
	}
	return req.ImpactLevel == ImpactLow
}

func modeAllowed(data map[string]any, allowed []string) bool {
	mode, ok := data["mode"].(string)
	if !ok || mode == "" {
		return true
	}
	for _, m := range allowed {
		if mode == m {
			return true
		}
	}
	return false
}

func (q *Queue) notify(ev Event) {
	q.mu.Lock()
	callbacks := make([]Callback, len(q.callbacks))
	copy(callbacks, q.callbacks)
	q.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb(ev); err != nil {
			slog.Error("Approval callback failed", "request", ev.RequestID, "error", err)
		}
	}
}

// watchTimeout expires the request after its timeout unless it already
// reached a terminal state. The conditional update in the store makes the
// expiry idempotent.
func (q *Queue) watchTimeout(id string, timeout time.Duration) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-q.done:
			return
		}
		ok, err := q.store.Resolve(id, StatusExpired, SystemResolver, time.Now())
		if err != nil {
			slog.Error("Failed to expire request", "id", id, "error", err)
			return
		}
		if ok {
			metrics.ApprovalTransitions.WithLabelValues(string(StatusExpired)).Inc()
			slog.Warn("Request expired", "id", id, "timeout", timeout)
		}
	}()
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
	}
	return 0, false
}
