package utils

import "sync"

// Mailbox is a single slot, latest-wins queue. A Put never blocks; it replaces any value that
// has not been taken yet.
type Mailbox[T any] struct {
	mu     sync.Mutex
	value  T
	full   bool
	notify chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Put stores v and reports whether an untaken value was overwritten.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	replaced := m.full
	m.value = v
	m.full = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return replaced
}

// Take removes and returns the stored value, if any.
func (m *Mailbox[T]) Take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if !m.full {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.full = false
	return v, true
}

// Ready is signaled after a Put. A receive does not guarantee a value is still present since
// Take may race with it.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.notify
}
