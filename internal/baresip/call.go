package baresip

import (
	"context"
	"fmt"
	"sync"

	"github.com/dense-identity/softphone/internal/engine"
)

// call buffers state events until a listener is attached so that events
// raced ahead of OnState are replayed in order.
type call struct {
	ep     *Endpoint
	id     string
	remote string

	// deliverMu keeps replay and live delivery from interleaving.
	deliverMu sync.Mutex
	mu        sync.Mutex
	listener  func(engine.CallEvent)
	backlog   []engine.CallEvent
	detached  bool
}

var _ engine.Call = (*call)(nil)

func newCall(ep *Endpoint, id, remote string) *call {
	return &call{ep: ep, id: id, remote: remote}
}

func (c *call) ID() string        { return c.id }
func (c *call) RemoteURI() string { return c.remote }

func (c *call) OnState(fn func(engine.CallEvent)) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	c.listener = fn
	c.detached = false
	backlog := c.backlog
	c.backlog = nil
	c.mu.Unlock()

	for _, ev := range backlog {
		fn(ev)
	}
}

func (c *call) RemoveListeners() {
	c.mu.Lock()
	c.listener = nil
	c.backlog = nil
	c.detached = true
	c.mu.Unlock()
}

func (c *call) push(ev engine.CallEvent) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	fn := c.listener
	if fn == nil {
		if !c.detached {
			c.backlog = append(c.backlog, ev)
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(ev)
}

func (c *call) Answer(ctx context.Context) error {
	if _, err := c.ep.do(ctx, "accept", c.id); err != nil {
		return fmt.Errorf("accepting call %s: %w", c.id, err)
	}
	return nil
}

func (c *call) Hangup(ctx context.Context, code int) error {
	params := c.id
	if code > 0 {
		params += fmt.Sprintf(" scode=%d", code)
		if reason := reasonPhrase(code); reason != "" {
			params += " reason=" + reason
		}
	}
	if _, err := c.ep.do(ctx, "hangup", params); err != nil {
		return fmt.Errorf("hanging up call %s: %w", c.id, err)
	}
	return nil
}

func reasonPhrase(code int) string {
	switch code {
	case engine.StatusBusyHere:
		return "Busy"
	case engine.StatusDecline:
		return "Decline"
	case engine.StatusForbidden:
		return "Forbidden"
	}
	return ""
}
