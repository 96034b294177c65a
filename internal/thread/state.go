// Package thread holds the comment forest of the open scope and runs user
// mutations against it, optimistically where the operation allows it.
package thread

import (
	"sync"

	"portal/threads/internal/comment"
)

// Forest is an immutable view of the held scope. Readers must not modify it;
// every change publishes a new Forest.
type Forest struct {
	Scope   comment.Scope
	Roots   []*comment.Comment
	Version uint64
}

// State owns the current forest. Changes are applied to a private copy and
// swapped in whole, so readers never see a half-applied update.
type State struct {
	mu      sync.RWMutex
	current *Forest
	subs    map[int]chan *Forest
	nextSub int
}

func NewState() *State {
	return &State{
		current: &Forest{Roots: []*comment.Comment{}},
		subs:    make(map[int]chan *Forest),
	}
}

func (s *State) Snapshot() *Forest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reset switches the held scope and installs roots as its forest.
func (s *State) Reset(scope comment.Scope, roots []*comment.Comment) *Forest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishLocked(scope, roots)
}

// Replace installs roots only while scope is still the held scope.
func (s *State) Replace(scope comment.Scope, roots []*comment.Comment) (*Forest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Scope != scope {
		return s.current, false
	}
	return s.publishLocked(scope, roots), true
}

// Update runs fn on a deep copy of the roots of scope. When fn reports a
// change the copy becomes the current forest. Updates aimed at a scope that
// is no longer held are dropped.
func (s *State) Update(scope comment.Scope, fn func(roots []*comment.Comment) ([]*comment.Comment, bool)) (*Forest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Scope != scope {
		return s.current, false
	}
	roots, changed := fn(comment.CloneAll(s.current.Roots))
	if !changed {
		return s.current, false
	}
	return s.publishLocked(scope, roots), true
}

func (s *State) publishLocked(scope comment.Scope, roots []*comment.Comment) *Forest {
	if roots == nil {
		roots = []*comment.Comment{}
	}
	next := &Forest{Scope: scope, Roots: roots, Version: s.current.Version + 1}
	s.current = next
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	return next
}

// Subscribe delivers every published forest. A slow reader only ever sees
// the most recent one. The returned func unsubscribes.
func (s *State) Subscribe() (<-chan *Forest, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan *Forest, 1)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}
