package bridge

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Console renders call UI entries as lines on a writer. User actions are
// fed back with Answer and Hangup, e.g. from a stdin command loop.
type Console struct {
	w      io.Writer
	events chan Event

	mu      sync.Mutex
	entries map[string]*consoleEntry
}

type consoleEntry struct {
	peer     string
	incoming bool
	since    time.Time
}

var _ Bridge = (*Console)(nil)

func NewConsole(w io.Writer) *Console {
	return &Console{
		w:       w,
		events:  make(chan Event, 16),
		entries: make(map[string]*consoleEntry),
	}
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.w, "[call-ui] "+format+"\n", args...)
}

func (c *Console) StartOutgoing(_ context.Context, uiID, destination string) error {
	c.mu.Lock()
	c.entries[uiID] = &consoleEntry{peer: destination, since: time.Now()}
	c.mu.Unlock()
	c.printf("calling %s (%s)", destination, uiID)
	return nil
}

func (c *Console) DisplayIncoming(_ context.Context, uiID, callerText string) error {
	c.mu.Lock()
	c.entries[uiID] = &consoleEntry{peer: callerText, incoming: true, since: time.Now()}
	c.mu.Unlock()
	c.printf("incoming call from %s (%s), type 'ui answer' or 'ui end'", callerText, uiID)
	return nil
}

func (c *Console) ReportOutgoingConnected(_ context.Context, uiID string) error {
	c.mu.Lock()
	e, ok := c.entries[uiID]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownCall
	}
	c.printf("connected to %s", e.peer)
	return nil
}

func (c *Console) End(_ context.Context, uiID string) error {
	c.mu.Lock()
	e, ok := c.entries[uiID]
	delete(c.entries, uiID)
	c.mu.Unlock()
	if !ok {
		return ErrUnknownCall
	}
	c.printf("call with %s ended after %s", e.peer, time.Since(e.since).Round(time.Second))
	return nil
}

func (c *Console) Events() <-chan Event {
	return c.events
}

// Current returns the ui id of the newest entry, if any.
func (c *Console) Current() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", false
	}
	sort.Slice(ids, func(i, j int) bool {
		return c.entries[ids[i]].since.After(c.entries[ids[j]].since)
	})
	return ids[0], true
}

// Answer reports that the user accepted the call on the native UI.
func (c *Console) Answer(uiID string) {
	c.events <- Event{Kind: EventAnswer, UIID: uiID}
}

// Hangup reports that the user ended the call on the native UI. The entry
// is dropped here, the way a system call screen dismisses itself.
func (c *Console) Hangup(uiID string) {
	c.mu.Lock()
	delete(c.entries, uiID)
	c.mu.Unlock()
	c.events <- Event{Kind: EventEnd, UIID: uiID}
}
