// Package circuit implements the per-route protection the Migration
// Engine wraps every adapter call in: a three-state breaker that trips
// on a sustained failure rate, composed with a dynamic concurrency
// ceiling that shrinks when the adapter reports throttling and grows
// back on sustained success. One RouteThrottle exists per
// (source_provider, dest_provider) pair the engine has actually used.
package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is one of a route's three breaker states.
type State int

const (
	// StateClosed lets requests through and counts failures.
	StateClosed State = iota
	// StateOpen rejects every request until Timeout elapses.
	StateOpen
	// StateHalfOpen lets a limited number of probe requests through to
	// test whether the route has recovered.
	StateHalfOpen
)

// String returns the wire representation of a state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes one route's breaker.
type Config struct {
	// MaxRequests caps concurrent probe requests while half-open.
	MaxRequests uint32
	// Interval is how long the closed state accumulates Counts before
	// they're cleared, bounding how far back a trip decision looks.
	Interval time.Duration
	// Timeout is how long the open state lasts before probing again.
	Timeout time.Duration
	// ReadyToTrip decides whether Counts justify opening the breaker.
	ReadyToTrip func(counts Counts) bool
	// OnStateChange, if set, is called on every state transition.
	OnStateChange func(route string, from, to State)
	// IsSuccessful decides whether an error counts as a failure.
	IsSuccessful func(err error) bool
}

// Counts tallies one breaker's request outcomes since its last clear.
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}

var (
	// ErrOpenState is returned while a route's breaker is open.
	ErrOpenState = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when a half-open route already has
	// MaxRequests probes in flight.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// CircuitBreaker is the trip/recover state machine behind one route.
// It is composed by RouteThrottle rather than used standalone.
type CircuitBreaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewCircuitBreaker constructs a breaker with defaults filled in for
// any zero-valued Config field.
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

func defaultReadyToTrip(counts Counts) bool {
	return counts.Requests >= 20 &&
		float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

func defaultIsSuccessful(err error) bool {
	return err == nil
}

// Execute runs fn if the breaker allows it, translating its outcome
// into the next state transition.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, _ := cb.currentState(now)

	if state == StateOpen {
		return ErrOpenState
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests {
		return ErrTooManyRequests
	}

	cb.counts.onRequest()
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, _ := cb.currentState(now)

	if cb.config.IsSuccessful(err) {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	cb.counts.onSuccess()
	if state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(state State, now time.Time) {
	cb.counts.onFailure()
	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// currentState must be called with cb.mu held.
func (cb *CircuitBreaker) currentState(now time.Time) (State, time.Time) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts.clear()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.expiry
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.counts.clear()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// GetState returns the current state, resolving any pending
// open->half-open or closed-interval transition first.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.currentState(time.Now())
	return state
}

// GetCounts returns a copy of the breaker's current counts.
func (cb *CircuitBreaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset forces the breaker back to closed with cleared counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.counts.clear()
	cb.setState(StateClosed, time.Now())
}

// Name returns the route name the breaker was created with.
func (cb *CircuitBreaker) Name() string { return cb.name }

// RouteThrottle bounds concurrent transfers on one (source_provider,
// dest_provider) route and answers the Migration Engine's per-file
// execution path with two independent signals: the breaker's fail-fast
// state, and a concurrency ceiling that shrinks whenever the adapter
// reports throttling and grows back one slot at a time on sustained
// success. This is the mechanism behind the backpressure rule: adapter
// throttling errors feed back into the per-route concurrency cap,
// temporarily lowering it.
type RouteThrottle struct {
	route   string
	breaker *CircuitBreaker

	mu       sync.Mutex
	cond     *sync.Cond
	inFlight int
	limit    int
	base     int
	min      int
}

func newRouteThrottle(route string, base int, cfg Config) *RouteThrottle {
	if base <= 0 {
		base = 1
	}
	t := &RouteThrottle{
		route:   route,
		breaker: NewCircuitBreaker(route, cfg),
		limit:   base,
		base:    base,
		min:     1,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Route returns the route key this throttle was created for.
func (t *RouteThrottle) Route() string { return t.route }

// Limit returns the route's current concurrency ceiling.
func (t *RouteThrottle) Limit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// State returns the underlying breaker's fail-fast state.
func (t *RouteThrottle) State() State { return t.breaker.GetState() }

// Counts returns the underlying breaker's request counts.
func (t *RouteThrottle) Counts() Counts { return t.breaker.GetCounts() }

// Execute acquires one of this route's concurrency slots, runs fn
// behind the breaker, and then adjusts the slot ceiling: isThrottled
// classifies fn's error as an adapter-reported throttling signal,
// distinct from the breaker's own trip decision, that should shrink
// the route's concurrency; a clean call nudges the ceiling back toward
// base. Execute blocks until a slot is free, so it must never be
// called while already holding one (no reentrant calls per goroutine).
func (t *RouteThrottle) Execute(fn func() error, isThrottled func(error) bool) error {
	t.acquire()
	defer t.release()

	err := t.breaker.Execute(fn)
	switch {
	case err != nil && isThrottled(err):
		t.shrink()
	case err == nil:
		t.grow()
	}
	return err
}

func (t *RouteThrottle) acquire() {
	t.mu.Lock()
	for t.inFlight >= t.limit {
		t.cond.Wait()
	}
	t.inFlight++
	t.mu.Unlock()
}

func (t *RouteThrottle) release() {
	t.mu.Lock()
	t.inFlight--
	t.cond.Signal()
	t.mu.Unlock()
}

// shrink halves the ceiling, never below min.
func (t *RouteThrottle) shrink() {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.limit / 2
	if next < t.min {
		next = t.min
	}
	if next != t.limit {
		t.limit = next
		t.cond.Broadcast()
	}
}

// grow steps the ceiling up by one toward base after a clean call.
func (t *RouteThrottle) grow() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit < t.base {
		t.limit++
		t.cond.Broadcast()
	}
}

// RouteStats summarizes one route's breaker and throttle state, for
// the Control API's health surface.
type RouteStats struct {
	Route  string `json:"route"`
	State  State  `json:"state"`
	Limit  int    `json:"limit"`
	Counts Counts `json:"counts"`
}

// Manager owns one RouteThrottle per route, created lazily so the
// Migration Engine never has to know every (source, dest) pair a
// deployment will see in advance.
type Manager struct {
	mu        sync.Mutex
	config    Config
	baseLimit int
	routes    map[string]*RouteThrottle
}

// NewManager constructs a Manager. baseLimit is the concurrency
// ceiling every new route starts at and grows back toward after being
// throttled; it is Config.PerRouteConcurrency from the engine.
func NewManager(config Config, baseLimit int) *Manager {
	return &Manager{
		config:    config,
		baseLimit: baseLimit,
		routes:    make(map[string]*RouteThrottle),
	}
}

// Route gets or creates the throttle for one route key.
func (m *Manager) Route(route string) *RouteThrottle {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.routes[route]
	if !ok {
		rt = newRouteThrottle(route, m.baseLimit, m.config)
		m.routes[route] = rt
	}
	return rt
}

// Snapshot returns stats for every route the manager has created so
// far.
func (m *Manager) Snapshot() map[string]RouteStats {
	m.mu.Lock()
	routes := make([]*RouteThrottle, 0, len(m.routes))
	for _, rt := range m.routes {
		routes = append(routes, rt)
	}
	m.mu.Unlock()

	out := make(map[string]RouteStats, len(routes))
	for _, rt := range routes {
		out[rt.Route()] = RouteStats{
			Route:  rt.Route(),
			State:  rt.State(),
			Limit:  rt.Limit(),
			Counts: rt.Counts(),
		}
	}
	return out
}

// HealthCheck reports an error naming any route whose breaker has
// tripped open.
func (m *Manager) HealthCheck() error {
	var open []string
	for route, stat := range m.Snapshot() {
		if stat.State == StateOpen {
			open = append(open, route)
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("circuit breakers open: %v", open)
	}
	return nil
}
