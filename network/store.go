package network

import (
	"sync"

	"github.com/flowrelay/flowrelay/logger"
	"go.uber.org/zap"
)

// Store holds the current network State and notifies subscribers on every
// dispatch. All I/O lives in the components around it; the store only runs
// the reducer.
type Store struct {
	mu          sync.Mutex
	state       State
	subscribers []func(State)
}

func NewStore() *Store {
	return &Store{
		state: State{HasNetwork: true},
	}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) Dispatch(action Action) State {
	s.mu.Lock()
	next := Reduce(s.state, action)
	changed := next != s.state
	s.state = next
	subs := make([]func(State), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	if changed {
		logger.Debug("network state transition", zap.String("action", string(action.Type)),
			zap.Bool("hasNetwork", next.HasNetwork), zap.Bool("isOffline", next.IsOffline),
			zap.Bool("isReplaying", next.IsReplaying))
		for _, fn := range subs {
			fn(next)
		}
	}
	return next
}

func (s *Store) Subscribe(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}
