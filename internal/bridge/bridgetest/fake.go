// Package bridgetest provides a recording call UI bridge for tests.
package bridgetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dense-identity/softphone/internal/bridge"
)

// Bridge records every call and lets tests inject user actions.
type Bridge struct {
	StartErr   error
	DisplayErr error

	mu      sync.Mutex
	calls   []string
	entries map[string]bool
	events  chan bridge.Event
}

var _ bridge.Bridge = (*Bridge)(nil)

func New() *Bridge {
	return &Bridge{entries: make(map[string]bool), events: make(chan bridge.Event, 16)}
}

func (b *Bridge) record(format string, args ...any) {
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *Bridge) StartOutgoing(_ context.Context, uiID, destination string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("start %s %s", uiID, destination)
	if b.StartErr != nil {
		return b.StartErr
	}
	b.entries[uiID] = true
	return nil
}

func (b *Bridge) DisplayIncoming(_ context.Context, uiID, callerText string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("incoming %s %s", uiID, callerText)
	if b.DisplayErr != nil {
		return b.DisplayErr
	}
	b.entries[uiID] = true
	return nil
}

func (b *Bridge) ReportOutgoingConnected(_ context.Context, uiID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("connected %s", uiID)
	return nil
}

func (b *Bridge) End(_ context.Context, uiID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("end %s", uiID)
	if !b.entries[uiID] {
		return bridge.ErrUnknownCall
	}
	delete(b.entries, uiID)
	return nil
}

func (b *Bridge) Events() <-chan bridge.Event {
	return b.events
}

// Send injects a user action.
func (b *Bridge) Send(ev bridge.Event) {
	b.events <- ev
}

// Calls returns the recorded operations in order.
func (b *Bridge) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Count returns how many recorded operations begin with verb.
func (b *Bridge) Count(verb string) int {
	n := 0
	for _, c := range b.Calls() {
		if len(c) >= len(verb) && c[:len(verb)] == verb {
			n++
		}
	}
	return n
}

// Entries returns the number of ui entries currently shown.
func (b *Bridge) Entries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
