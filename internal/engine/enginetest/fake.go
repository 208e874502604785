// Package enginetest provides an in-memory signaling engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dense-identity/softphone/internal/engine"
)

// Recorder keeps an ordered log of engine operations.
type Recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *Recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.ops = append(r.ops, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

// Ops returns a copy of the log.
func (r *Recorder) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

// Count returns how many entries start with prefix.
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, op := range r.Ops() {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

// Endpoint is a fake engine.Endpoint. Error fields make the matching
// operation fail; gate channels, when set, block the operation until closed.
type Endpoint struct {
	Rec *Recorder

	StartErr    error
	CreateErr   error
	RegisterErr error
	DialErr     error
	HangupErr   error

	// AnonymousCalls makes MakeCall hand back calls with no id.
	AnonymousCalls bool

	StartGate    chan struct{}
	RegisterGate chan struct{}

	mu       sync.Mutex
	accounts []*Account
	nextCall int
}

// NewEndpoint returns a fake with a fresh recorder.
func NewEndpoint() *Endpoint {
	return &Endpoint{Rec: &Recorder{}}
}

func (e *Endpoint) Start(ctx context.Context) error {
	if e.StartGate != nil {
		select {
		case <-e.StartGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.Rec.add("endpoint.start")
	return e.StartErr
}

func (e *Endpoint) CreateAccount(_ context.Context, cfg engine.AccountConfig) (engine.Account, error) {
	e.Rec.add("account.create %s", cfg.URI)
	if e.CreateErr != nil {
		return nil, e.CreateErr
	}
	a := &Account{ep: e, cfg: cfg}
	e.mu.Lock()
	e.accounts = append(e.accounts, a)
	e.mu.Unlock()
	return a, nil
}

func (e *Endpoint) Release(context.Context) error {
	e.Rec.add("endpoint.release")
	return nil
}

// Accounts returns every account created so far.
func (e *Endpoint) Accounts() []*Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Account(nil), e.accounts...)
}

// LastAccount returns the most recently created account or nil.
func (e *Endpoint) LastAccount() *Account {
	accts := e.Accounts()
	if len(accts) == 0 {
		return nil
	}
	return accts[len(accts)-1]
}

func (e *Endpoint) newCallID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextCall++
	return fmt.Sprintf("call-%d", e.nextCall)
}

// Account is a fake engine.Account.
type Account struct {
	ep  *Endpoint
	cfg engine.AccountConfig

	mu         sync.Mutex
	handlers   engine.AccountHandlers
	registered bool
	released   bool
	calls      []*Call
}

func (a *Account) ID() string { return a.cfg.URI }

// Config returns the settings the account was created with.
func (a *Account) Config() engine.AccountConfig { return a.cfg }

func (a *Account) SetHandlers(h engine.AccountHandlers) {
	a.mu.Lock()
	a.handlers = h
	a.mu.Unlock()
}

func (a *Account) Register(ctx context.Context) error {
	if a.ep.RegisterGate != nil {
		select {
		case <-a.ep.RegisterGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.ep.Rec.add("account.register %s", a.cfg.URI)
	if a.ep.RegisterErr != nil {
		return a.ep.RegisterErr
	}
	a.mu.Lock()
	a.registered = true
	a.mu.Unlock()
	return nil
}

func (a *Account) Unregister(context.Context) error {
	a.ep.Rec.add("account.unregister %s", a.cfg.URI)
	a.mu.Lock()
	a.registered = false
	a.mu.Unlock()
	return nil
}

func (a *Account) Release(context.Context) error {
	a.ep.Rec.add("account.release %s", a.cfg.URI)
	a.mu.Lock()
	a.released = true
	a.handlers = engine.AccountHandlers{}
	a.mu.Unlock()
	return nil
}

// Registered reports whether Register succeeded and was not undone.
func (a *Account) Registered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registered
}

// Released reports whether Release was called.
func (a *Account) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

func (a *Account) MakeCall(_ context.Context, uri string) (engine.Call, error) {
	a.ep.Rec.add("call.make %s", uri)
	if a.ep.DialErr != nil {
		return nil, a.ep.DialErr
	}
	c := &Call{ep: a.ep, remote: uri}
	if !a.ep.AnonymousCalls {
		c.id = a.ep.newCallID()
	}
	a.mu.Lock()
	a.calls = append(a.calls, c)
	a.mu.Unlock()
	return c, nil
}

// EmitReg delivers a registration event as the engine would.
func (a *Account) EmitReg(ev engine.RegistrationEvent) {
	a.mu.Lock()
	fn := a.handlers.OnRegState
	a.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Incoming simulates an inbound INVITE and returns the new call.
func (a *Account) Incoming(remote string) *Call {
	c := &Call{ep: a.ep, id: a.ep.newCallID(), remote: remote}
	a.mu.Lock()
	a.calls = append(a.calls, c)
	fn := a.handlers.OnIncomingCall
	a.mu.Unlock()
	if fn != nil {
		fn(c)
	}
	return c
}

// Calls returns all calls made or received on this account.
func (a *Account) Calls() []*Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Call(nil), a.calls...)
}

// Call is a fake engine.Call.
type Call struct {
	ep     *Endpoint
	id     string
	remote string

	mu         sync.Mutex
	listener   func(engine.CallEvent)
	answered   int
	hangupCode []int
}

func (c *Call) ID() string        { return c.id }
func (c *Call) RemoteURI() string { return c.remote }

func (c *Call) OnState(fn func(engine.CallEvent)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

func (c *Call) RemoveListeners() {
	c.mu.Lock()
	c.listener = nil
	c.mu.Unlock()
}

// HasListener reports whether a state listener is attached.
func (c *Call) HasListener() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener != nil
}

func (c *Call) Answer(context.Context) error {
	c.ep.Rec.add("call.answer %s", c.id)
	c.mu.Lock()
	c.answered++
	c.mu.Unlock()
	return nil
}

func (c *Call) Hangup(_ context.Context, code int) error {
	c.ep.Rec.add("call.hangup %s %d", c.id, code)
	if c.ep.HangupErr != nil {
		return c.ep.HangupErr
	}
	c.mu.Lock()
	c.hangupCode = append(c.hangupCode, code)
	c.mu.Unlock()
	return nil
}

// HangupCodes returns the codes passed to successful Hangup calls.
func (c *Call) HangupCodes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.hangupCode...)
}

// Answered returns how many times Answer was called.
func (c *Call) Answered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered
}

// Emit delivers a state event to the attached listener, if any.
func (c *Call) Emit(ev engine.CallEvent) {
	c.mu.Lock()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
