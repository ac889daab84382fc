// Package connstate models the client-observed lifecycle of a chat socket
// as an explicit state machine. States change only in response to named
// events, never through ad-hoc flags, so the transport wrapper and any UI
// observing it agree on what the connection is doing.
package connstate

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the client-observed connection states. The server knows
// nothing beyond open/closed; everything here is local to the client.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
	StateFailed       State = "failed"
	StateOffline      State = "offline"
)

// Event is a lifecycle occurrence observed by the transport wrapper.
type Event string

const (
	// EventDial fires when an open attempt starts.
	EventDial Event = "dial"
	// EventOpened fires when the transport completes its handshake.
	EventOpened Event = "opened"
	// EventDialFailed fires when the transport fails before opening.
	EventDialFailed Event = "dial_failed"
	// EventClosed fires on a clean close or a missed heartbeat window.
	EventClosed Event = "closed"
	// EventPongTimeout fires when no pong arrived within the configured
	// window. It is equivalent to a close for state purposes.
	EventPongTimeout Event = "pong_timeout"
	// EventRetry fires when an automatic or user-triggered reconnect starts.
	EventRetry Event = "retry"
	// EventOffline is the external no-network override.
	EventOffline Event = "offline"
	// EventOnline fires when network connectivity resumes.
	EventOnline Event = "online"
)

// ErrInvalidTransition reports an event that has no edge from the current
// state. The machine stays put when this is returned.
type ErrInvalidTransition struct {
	From  State
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("no transition from %s on %s", e.From, e.Event)
}

// transitions is the edge table. EventOffline is handled separately because
// it is legal from every state.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventDial: StateConnecting,
	},
	StateConnecting: {
		EventOpened:     StateConnected,
		EventDialFailed: StateError,
		EventClosed:     StateError,
	},
	StateConnected: {
		EventClosed:      StateDisconnected,
		EventPongTimeout: StateDisconnected,
	},
	StateDisconnected: {
		EventRetry: StateReconnecting,
	},
	StateError: {
		EventRetry: StateReconnecting,
	},
	StateFailed: {
		EventRetry: StateReconnecting,
	},
	StateReconnecting: {
		EventOpened: StateConnected,
		EventRetry:  StateReconnecting,
		// EventDialFailed is guarded by the retry budget; see Machine.Fire.
	},
	StateOffline: {
		EventOnline: StateConnecting,
	},
}

// Config bounds the reconnect schedule.
type Config struct {
	// MaxRetries is the reconnect budget before the machine gives up and
	// parks in StateFailed. A user-triggered EventRetry restarts the budget.
	MaxRetries int
	// InitialBackoff is the delay before the first reconnect attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential schedule.
	MaxBackoff time.Duration
}

// DefaultConfig mirrors the defaults the chat client ships with.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     10,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Machine tracks one socket's connection state. Safe for use from the
// transport goroutine and observers concurrently.
type Machine struct {
	mu       sync.Mutex
	state    State
	attempts int
	cfg      Config
}

// NewMachine starts in StateIdle.
func NewMachine(cfg Config) *Machine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	return &Machine{state: StateIdle, cfg: cfg}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of reconnect attempts consumed since the last
// successful open.
func (m *Machine) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Fire applies one event. It returns the resulting state, or an
// *ErrInvalidTransition (state unchanged) when the event has no edge.
func (m *Machine) Fire(event Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The offline override is legal from anywhere except offline itself.
	if event == EventOffline {
		if m.state == StateOffline {
			return m.state, &ErrInvalidTransition{From: m.state, Event: event}
		}
		m.state = StateOffline
		return m.state, nil
	}

	// A failed attempt while reconnecting either consumes budget or parks
	// the machine in failed.
	if m.state == StateReconnecting && (event == EventDialFailed || event == EventClosed) {
		if m.attempts >= m.cfg.MaxRetries {
			m.state = StateFailed
		}
		// Stay in reconnecting; the next EventRetry consumes another slot.
		return m.state, nil
	}

	next, ok := transitions[m.state][event]
	if !ok {
		return m.state, &ErrInvalidTransition{From: m.state, Event: event}
	}

	switch {
	case event == EventRetry:
		if m.state == StateFailed {
			// Manual retry after exhaustion restarts the budget.
			m.attempts = 0
		}
		m.attempts++
	case next == StateConnected:
		m.attempts = 0
	}

	m.state = next
	return m.state, nil
}

// Backoff returns the capped exponential delay to wait before the next
// reconnect attempt, based on the attempts consumed so far.
func (m *Machine) Backoff() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	delay := m.cfg.InitialBackoff
	for i := 1; i < m.attempts; i++ {
		delay *= 2
		if delay >= m.cfg.MaxBackoff {
			return m.cfg.MaxBackoff
		}
	}
	if delay > m.cfg.MaxBackoff {
		return m.cfg.MaxBackoff
	}
	return delay
}

// Exhausted reports whether the retry budget is spent.
func (m *Machine) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts >= m.cfg.MaxRetries
}
