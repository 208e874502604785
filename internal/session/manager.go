// Package session owns the signaling endpoint and account and keeps them
// in step with the configured credentials.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/dense-identity/softphone/internal/engine"
	"github.com/dense-identity/softphone/internal/mailbox"
	"github.com/dense-identity/softphone/internal/metrics"
	"github.com/dense-identity/softphone/internal/phone"
	"github.com/dense-identity/softphone/internal/state"
)

var (
	ErrSuperseded = errors.New("config superseded by a newer one")
	ErrClosed     = errors.New("session manager closed")
)

// CallLifecycle is the part of the call controller the session drives.
type CallLifecycle interface {
	// HandleIncoming admits or rejects a call that arrived on the live account.
	HandleIncoming(call engine.Call)
	// StopAll ends every call and waits for local cleanup.
	StopAll(ctx context.Context)
}

// Options tunes session bring-up.
type Options struct {
	Transport   string
	RegInterval int
	StepTimeout time.Duration
}

type applyReq struct {
	seq   uint64
	cfg   *phone.SipConfig
	reply chan error
}

// notice is an engine callback tagged with the sequence that created the
// account it came from.
type notice struct {
	seq      uint64
	reg      *engine.RegistrationEvent
	incoming engine.Call
}

// Manager runs the registration state machine. All engine handles and the
// machine itself are owned by the run goroutine.
type Manager struct {
	ep      engine.Endpoint
	state   *state.Store
	metrics *metrics.Monitor
	opts    Options
	log     *logrus.Entry

	callsMu sync.RWMutex
	calls   CallLifecycle

	seq     atomic.Uint64
	applies chan applyReq
	notices *mailbox.Mailbox[notice]

	// run goroutine only
	reg     *fsm.FSM
	live    uint64
	started bool
	account engine.Account

	curMu   sync.RWMutex
	curAcct engine.Account
	curConf phone.SipConfig

	closed core.Fuse
	done   chan struct{}
}

// New starts the manager goroutine in the Disconnected state.
func New(ep engine.Endpoint, st *state.Store, m *metrics.Monitor, opts Options, log *logrus.Entry) *Manager {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 10 * time.Second
	}
	s := &Manager{
		ep:      ep,
		state:   st,
		metrics: m,
		opts:    opts,
		log:     log.WithField("component", "session"),
		applies: make(chan applyReq, 16),
		notices: mailbox.New[notice](),
		done:    make(chan struct{}),
	}
	s.reg = newRegistrationFSM(s.onStatus)
	go s.run()
	return s
}

// SetCallLifecycle wires the call controller. It must be called before the
// first ApplyConfig.
func (s *Manager) SetCallLifecycle(c CallLifecycle) {
	s.callsMu.Lock()
	s.calls = c
	s.callsMu.Unlock()
}

func (s *Manager) lifecycle() CallLifecycle {
	s.callsMu.RLock()
	defer s.callsMu.RUnlock()
	return s.calls
}

// CurrentAccount returns the account calls should be placed on and the
// config it was created from.
func (s *Manager) CurrentAccount() (engine.Account, phone.SipConfig, bool) {
	s.curMu.RLock()
	defer s.curMu.RUnlock()
	return s.curAcct, s.curConf, s.curAcct != nil
}

func (s *Manager) publishAccount(a engine.Account, cfg phone.SipConfig) {
	s.curMu.Lock()
	s.curAcct, s.curConf = a, cfg
	s.curMu.Unlock()
}

// Status returns the current connection status.
func (s *Manager) Status() phone.ConnectionStatus {
	return s.state.Snapshot().Status
}

// ApplyConfig replaces the session configuration; nil tears the session
// down. Invalid configs fail synchronously with *phone.ValidationError and
// change nothing. Otherwise it waits until this config's bring-up finishes
// and returns its error, or ErrSuperseded when a later call replaced it.
func (s *Manager) ApplyConfig(ctx context.Context, cfg *phone.SipConfig) error {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c := *cfg
		cfg = &c
	}
	if s.closed.IsBroken() {
		return ErrClosed
	}

	req := applyReq{seq: s.seq.Add(1), cfg: cfg, reply: make(chan error, 1)}
	select {
	case s.applies <- req:
	case <-s.closed.Watch():
		return ErrClosed
	}

	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the session down and stops the manager.
func (s *Manager) Close(ctx context.Context) error {
	s.closed.Break()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Manager) run() {
	defer close(s.done)
	for {
		select {
		case req := <-s.applies:
			s.apply(req)
		case <-s.notices.Ready():
			for _, n := range s.notices.Drain() {
				s.handleNotice(n)
			}
		case <-s.closed.Watch():
			s.shutdown()
			return
		}
	}
}

func (s *Manager) shutdown() {
	s.teardown()
	s.transition(evReset, "")
	for {
		select {
		case req := <-s.applies:
			req.reply <- ErrClosed
		default:
			// Late engine callbacks may still hold calls.
			for _, n := range s.notices.Drain() {
				if n.incoming != nil {
					s.rejectStale(n.incoming)
				}
			}
			return
		}
	}
}

func (s *Manager) superseded(seq uint64) bool {
	return s.seq.Load() != seq || s.closed.IsBroken()
}

func (s *Manager) apply(req applyReq) {
	if s.superseded(req.seq) {
		req.reply <- ErrSuperseded
		return
	}

	s.teardown()
	if req.cfg == nil {
		s.transition(evReset, "")
		s.log.Info("session cleared")
		req.reply <- nil
		return
	}

	err := s.bringUp(req)
	switch {
	case errors.Is(err, ErrSuperseded):
		s.metrics.SessionStart("superseded")
	case err != nil:
		s.metrics.SessionStart("error")
	default:
		s.metrics.SessionStart("ok")
	}
	req.reply <- err
}

func (s *Manager) stepCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.StepTimeout)
}

// bringUp runs start -> create -> register, checking after every step that
// no newer config arrived. Partial handles are released on any exit path
// that does not end with a live session.
func (s *Manager) bringUp(req applyReq) error {
	cfg := *req.cfg
	log := s.log.WithFields(logrus.Fields{"seq": req.seq, "aor": cfg.AccountURI()})
	s.transition(evConfigure, "")

	var (
		started bool
		acct    engine.Account
	)
	abandon := func() {
		ctx, cancel := s.stepCtx()
		defer cancel()
		if acct != nil {
			acct.SetHandlers(engine.AccountHandlers{})
			if err := acct.Release(ctx); err != nil {
				log.WithError(err).Warn("releasing partial account")
			}
		}
		if started {
			if err := s.ep.Release(ctx); err != nil {
				log.WithError(err).Warn("releasing partial endpoint")
			}
		}
	}
	fail := func(step string, err error) error {
		abandon()
		diag := fmt.Sprintf("%s failed: %v", step, err)
		log.WithError(err).Errorf("%s failed", step)
		s.transition(evFail, diag)
		return fmt.Errorf("%s: %w", step, err)
	}
	stale := func() bool {
		if !s.superseded(req.seq) {
			return false
		}
		log.Info("config superseded during bring-up")
		abandon()
		s.transition(evReset, "")
		return true
	}

	// A failed Start may still hold resources, so release regardless.
	started = true
	ctx, cancel := s.stepCtx()
	err := s.ep.Start(ctx)
	cancel()
	if err != nil {
		return fail("engine start", err)
	}
	if stale() {
		return ErrSuperseded
	}

	ctx, cancel = s.stepCtx()
	acct, err = s.ep.CreateAccount(ctx, engine.NewAccountConfig(cfg, s.opts.Transport, s.opts.RegInterval))
	cancel()
	if err != nil {
		acct = nil
		return fail("account creation", err)
	}
	if stale() {
		return ErrSuperseded
	}

	seq := req.seq
	acct.SetHandlers(engine.AccountHandlers{
		OnRegState: func(ev engine.RegistrationEvent) {
			s.notices.Post(notice{seq: seq, reg: &ev})
		},
		OnIncomingCall: func(c engine.Call) {
			s.notices.Post(notice{seq: seq, incoming: c})
		},
	})

	ctx, cancel = s.stepCtx()
	err = acct.Register(ctx)
	cancel()
	if err != nil {
		return fail("registration", err)
	}
	if stale() {
		return ErrSuperseded
	}

	s.live = req.seq
	s.started = true
	s.account = acct
	s.publishAccount(acct, cfg)
	s.transition(evConnect, "")
	log.Info("registration sent")
	return nil
}

// teardown stops calls, then unregisters, releases the account, releases
// the endpoint and finally forgets both handles.
func (s *Manager) teardown() {
	if !s.started && s.account == nil {
		return
	}
	log := s.log.WithField("seq", s.live)
	s.publishAccount(nil, phone.SipConfig{})

	ctx, cancel := s.stepCtx()
	defer cancel()

	if calls := s.lifecycle(); calls != nil {
		calls.StopAll(ctx)
	}
	if s.account != nil {
		s.account.SetHandlers(engine.AccountHandlers{})
		if err := s.account.Unregister(ctx); err != nil {
			log.WithError(err).Warn("unregister failed")
		}
		if err := s.account.Release(ctx); err != nil {
			log.WithError(err).Warn("releasing account")
		}
	}
	if s.started {
		if err := s.ep.Release(ctx); err != nil {
			log.WithError(err).Warn("releasing endpoint")
		}
	}

	s.account = nil
	s.started = false
	s.live = 0
	log.Info("session torn down")
}

func (s *Manager) handleNotice(n notice) {
	if n.seq != s.live || s.account == nil {
		if n.incoming != nil {
			s.rejectStale(n.incoming)
		}
		return
	}

	switch {
	case n.reg != nil:
		ev := *n.reg
		diag := ""
		name := registrationEvent(ev)
		if name == evFail {
			diag = fmt.Sprintf("registration failed: %s (code %d)", ev.Reason, ev.Code)
		}
		s.log.WithFields(logrus.Fields{"state": ev.State, "code": ev.Code}).Info("registration event")
		s.transition(name, diag)

	case n.incoming != nil:
		if calls := s.lifecycle(); calls != nil {
			calls.HandleIncoming(n.incoming)
			return
		}
		s.rejectStale(n.incoming)
	}
}

func (s *Manager) rejectStale(c engine.Call) {
	go func() {
		ctx, cancel := s.stepCtx()
		defer cancel()
		if err := c.Hangup(ctx, engine.StatusBusyHere); err != nil {
			s.log.WithError(err).WithField("call_id", c.ID()).Debug("rejecting call on stale account")
		}
	}()
}

// transition is the only writer of the connection status.
func (s *Manager) transition(event, diag string) {
	err := s.reg.Event(context.Background(), event, diag)
	switch {
	case err == nil:
	case isBenign(err):
		if diag != "" {
			s.state.SetDiagnostic(diag)
		}
	default:
		s.log.WithError(err).WithField("event", event).Debug("ignored registration transition")
	}
}

func (s *Manager) onStatus(status phone.ConnectionStatus, diag string) {
	s.state.SetConnectionStatus(status, diag)
	s.metrics.SetStatus(status)
}
