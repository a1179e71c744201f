package facade

import (
	"sync"

	"github.com/google/uuid"
)

// ConnState is the relay connection state
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateLive
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var transitions = map[ConnState][]ConnState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateLive, StateFailed, StateDisconnected},
	StateLive:         {StateDisconnected},
	StateFailed:       {StateConnecting, StateDisconnected},
}

// stateMachine tracks ConnState and fans transitions out to watchers
type stateMachine struct {
	mu       sync.Mutex
	state    ConnState
	watchers map[uuid.UUID]chan ConnState
}

func newStateMachine() *stateMachine {
	return &stateMachine{watchers: make(map[uuid.UUID]chan ConnState)}
}

func (m *stateMachine) current() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition moves to next if allowed from the current state and reports
// whether it did, along with the state it left.
func (m *stateMachine) transition(next ConnState) (ConnState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	allowed := false
	for _, s := range transitions[prev] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return prev, false
	}

	m.state = next
	for _, ch := range m.watchers {
		select {
		case ch <- next:
		default:
		}
	}
	return prev, true
}

// watch subscribes to transitions. Slow watchers miss intermediate states.
func (m *stateMachine) watch() (<-chan ConnState, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	ch := make(chan ConnState, 8)
	m.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
}
