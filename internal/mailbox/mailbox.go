// Package mailbox is an unbounded FIFO drained by a single owner goroutine.
// Producers never block, so engine and UI callbacks can post from any
// context without risking a deadlock against the owner.
package mailbox

import "sync"

type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Post appends v and wakes the owner.
func (m *Mailbox[T]) Post(v T) {
	m.mu.Lock()
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Ready fires after one or more Posts.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.notify
}

// Drain removes and returns everything posted so far, oldest first.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// Len reports the number of undrained items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
