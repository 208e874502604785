// Package calls enforces the single active call and reconciles engine call
// events with the native call UI.
package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frostbyte73/core"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/dense-identity/softphone/internal/audio"
	"github.com/dense-identity/softphone/internal/bridge"
	"github.com/dense-identity/softphone/internal/engine"
	"github.com/dense-identity/softphone/internal/mailbox"
	"github.com/dense-identity/softphone/internal/metrics"
	"github.com/dense-identity/softphone/internal/phone"
	"github.com/dense-identity/softphone/internal/state"
)

var (
	ErrAlreadyInCall = errors.New("already in a call")
	ErrNoAccount     = errors.New("no active sip account")
	ErrClosed        = errors.New("call controller closed")
)

// AccountProvider hands out the live account, if any.
type AccountProvider interface {
	CurrentAccount() (engine.Account, phone.SipConfig, bool)
}

// Options tunes call handling.
type Options struct {
	// OutboundRingback plays a local tone from dialing until the first
	// state change. When false outgoing calls are silent until answered.
	OutboundRingback bool
	TerminatedMemory int
	OpTimeout        time.Duration
}

// callEntry is the controller's record of the active call.
type callEntry struct {
	id        phone.CallIdentity
	call      engine.Call
	dir       phone.Direction
	machine   *fsm.FSM
	info      phone.CallInfo
	uiShown   bool
	audioOn   bool
	ringback  bool
	startedAt time.Time
	answerAt  time.Time
}

type msgKind int

const (
	msgState msgKind = iota
	msgIncoming
	msgTerminateFailed
)

type callMsg struct {
	kind msgKind
	call engine.Call
	ev   engine.CallEvent
	err  error
}

type request struct {
	fn   func()
	done chan struct{}
}

// Controller owns the identity map, the per-call machines and the active
// call snapshot. Everything runs on one goroutine; public methods are
// requests to it.
type Controller struct {
	accounts AccountProvider
	bridge   bridge.Bridge
	audio    audio.Session
	state    *state.Store
	metrics  *metrics.Monitor
	opts     Options
	log      *logrus.Entry

	requests chan request
	inbox    *mailbox.Mailbox[callMsg]

	ids        *IdentityMap[*callEntry]
	terminated *lru.Cache[string, struct{}]
	speaker    bool

	stopped core.Fuse
	done    chan struct{}
}

// New starts the controller loop.
func New(accounts AccountProvider, b bridge.Bridge, a audio.Session, st *state.Store, m *metrics.Monitor, opts Options, log *logrus.Entry) (*Controller, error) {
	if opts.TerminatedMemory <= 0 {
		opts.TerminatedMemory = 128
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 10 * time.Second
	}
	terminated, err := lru.New[string, struct{}](opts.TerminatedMemory)
	if err != nil {
		return nil, fmt.Errorf("creating terminated call cache: %w", err)
	}

	c := &Controller{
		accounts:   accounts,
		bridge:     b,
		audio:      a,
		state:      st,
		metrics:    m,
		opts:       opts,
		log:        log.WithField("component", "calls"),
		requests:   make(chan request),
		inbox:      mailbox.New[callMsg](),
		ids:        NewIdentityMap[*callEntry](),
		terminated: terminated,
		done:       make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// Close ends any call and stops the loop.
func (c *Controller) Close() {
	c.stopped.Break()
	<-c.done
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case req := <-c.requests:
			req.fn()
			close(req.done)

		case <-c.inbox.Ready():
			for _, m := range c.inbox.Drain() {
				c.handleMsg(m)
			}

		case ev := <-c.bridge.Events():
			c.handleBridgeEvent(ev)

		case <-c.stopped.Watch():
			ctx, cancel := c.opCtx()
			c.endAll(ctx)
			cancel()
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(ctx context.Context, fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case c.requests <- req:
	case <-c.stopped.Watch():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}

func (c *Controller) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opts.OpTimeout)
}

func (c *Controller) entryLog(e *callEntry) *logrus.Entry {
	return c.log.WithFields(logrus.Fields{
		"call_id":   e.id.SignalingID,
		"ui_id":     e.id.UIID,
		"direction": e.dir,
	})
}

// ActiveIdentity returns the identity of the active call, if any.
func (c *Controller) ActiveIdentity(ctx context.Context) (phone.CallIdentity, bool, error) {
	var (
		id phone.CallIdentity
		ok bool
	)
	err := c.do(ctx, func() {
		id, _, ok = c.ids.Current()
	})
	return id, ok, err
}

// ActiveCount is the number of mapped calls; never more than one.
func (c *Controller) ActiveCount(ctx context.Context) (int, error) {
	n := 0
	err := c.do(ctx, func() { n = c.ids.Len() })
	return n, err
}

// PlaceCall starts an outbound call to destination on the live account.
func (c *Controller) PlaceCall(ctx context.Context, destination string) (phone.CallIdentity, error) {
	var (
		id     phone.CallIdentity
		result error
	)
	err := c.do(ctx, func() {
		id, result = c.placeCall(ctx, destination)
	})
	if err != nil {
		return phone.CallIdentity{}, err
	}
	return id, result
}

func (c *Controller) placeCall(ctx context.Context, destination string) (phone.CallIdentity, error) {
	if c.ids.Len() > 0 {
		c.metrics.Rejected("outbound_busy")
		return phone.CallIdentity{}, ErrAlreadyInCall
	}
	acct, cfg, ok := c.accounts.CurrentAccount()
	if !ok {
		return phone.CallIdentity{}, ErrNoAccount
	}
	uri, err := phone.DialURI(destination, cfg.Server)
	if err != nil {
		return phone.CallIdentity{}, err
	}

	uiID := uuid.NewString()
	log := c.log.WithFields(logrus.Fields{"ui_id": uiID, "to": uri})

	if err := c.bridge.StartOutgoing(ctx, uiID, destination); err != nil {
		log.WithError(err).Warn("call ui refused outgoing call")
		return phone.CallIdentity{}, fmt.Errorf("starting call ui: %w", err)
	}
	if c.opts.OutboundRingback {
		c.startRingtone(ctx)
	}

	call, err := acct.MakeCall(ctx, uri)
	if err != nil {
		log.WithError(err).Error("outbound call failed")
		if endErr := c.bridge.End(ctx, uiID); endErr != nil && !errors.Is(endErr, bridge.ErrUnknownCall) {
			log.WithError(endErr).Warn("discarding call ui entry")
		}
		if c.opts.OutboundRingback {
			c.stopRingtone(ctx)
		}
		c.state.SetDiagnostic(fmt.Sprintf("call to %s failed: %v", destination, err))
		c.metrics.CallEnded(phone.DirectionOutgoing, metrics.OutcomeFailed, 0)
		return phone.CallIdentity{}, fmt.Errorf("calling %s: %w", destination, err)
	}

	e := &callEntry{
		id:        phone.CallIdentity{SignalingID: call.ID(), UIID: uiID},
		call:      call,
		dir:       phone.DirectionOutgoing,
		machine:   newCallFSM(),
		uiShown:   true,
		ringback:  c.opts.OutboundRingback,
		startedAt: time.Now(),
	}
	if err := c.admit(e, phone.CallCalling); err != nil {
		log.WithError(err).Error("mapping outbound call")
		if herr := call.Hangup(ctx, engine.StatusNormal); herr != nil {
			log.WithError(herr).Warn("unmapped call hangup failed")
		}
		if eerr := c.bridge.End(ctx, uiID); eerr != nil && !errors.Is(eerr, bridge.ErrUnknownCall) {
			log.WithError(eerr).Warn("discarding call ui entry")
		}
		if c.opts.OutboundRingback {
			c.stopRingtone(ctx)
		}
		return phone.CallIdentity{}, err
	}
	c.entryLog(e).Info("outbound call started")
	return e.id, nil
}

// admit maps e, attaches its listener and publishes its first snapshot.
func (c *Controller) admit(e *callEntry, initial phone.CallState) error {
	if _, seen := c.terminated.Get(e.id.SignalingID); seen {
		return fmt.Errorf("call %s already terminated", e.id.SignalingID)
	}
	if err := c.ids.Insert(e.id, e); err != nil {
		return err
	}
	if _, err := advance(e.machine, initial); err != nil {
		c.ids.Remove(e.id.SignalingID)
		return err
	}
	e.info = phone.NewCallInfo(e.id.SignalingID, e.call.RemoteURI(), e.dir, initial, c.state.Locale(), e.startedAt)
	c.state.SetActiveCall(e.info)
	c.metrics.SetActiveCalls(c.ids.Len())

	call := e.call
	call.OnState(func(ev engine.CallEvent) {
		c.inbox.Post(callMsg{kind: msgState, call: call, ev: ev})
	})
	return nil
}

// HandleIncoming queues a call that just arrived on the live account.
func (c *Controller) HandleIncoming(call engine.Call) {
	c.inbox.Post(callMsg{kind: msgIncoming, call: call})
}

func (c *Controller) handleIncoming(call engine.Call) {
	ctx, cancel := c.opCtx()
	defer cancel()
	log := c.log.WithFields(logrus.Fields{"call_id": call.ID(), "from": call.RemoteURI()})

	if _, seen := c.terminated.Get(call.ID()); seen {
		return
	}
	if c.ids.Len() > 0 {
		c.metrics.Rejected("busy")
		log.Info("rejecting incoming call, busy")
		if err := call.Hangup(ctx, engine.StatusBusyHere); err != nil {
			log.WithError(err).Warn("busy rejection failed")
		}
		return
	}

	e := &callEntry{
		id:        phone.CallIdentity{SignalingID: call.ID(), UIID: uuid.NewString()},
		call:      call,
		dir:       phone.DirectionIncoming,
		machine:   newCallFSM(),
		startedAt: time.Now(),
	}
	if err := c.admit(e, phone.CallIncoming); err != nil {
		log.WithError(err).Warn("ignoring incoming call")
		return
	}
	c.entryLog(e).Info("incoming call")

	c.startRingtone(ctx)
	if err := c.bridge.DisplayIncoming(ctx, e.id.UIID, call.RemoteURI()); err != nil {
		// Nobody could answer it, so let the caller hear busy.
		c.entryLog(e).WithError(err).Warn("call ui could not show incoming call, rejecting")
		c.metrics.Rejected("ui_unavailable")
		if herr := call.Hangup(ctx, engine.StatusBusyHere); herr != nil {
			c.entryLog(e).WithError(herr).Warn("busy rejection failed")
		}
		c.cleanup(ctx, e, "call ui unavailable")
		return
	}
	e.uiShown = true
}

// Answer accepts the ringing incoming call.
func (c *Controller) Answer(ctx context.Context) error {
	var result error
	if err := c.do(ctx, func() {
		_, e, ok := c.ids.Current()
		if !ok {
			c.log.Warn("answer with no active call")
			return
		}
		result = c.answer(ctx, e)
	}); err != nil {
		return err
	}
	return result
}

func (c *Controller) answer(ctx context.Context, e *callEntry) error {
	log := c.entryLog(e)
	if e.dir != phone.DirectionIncoming || currentState(e.machine) != phone.CallIncoming {
		log.WithField("state", e.machine.Current()).Warn("nothing to answer")
		return nil
	}
	c.stopRingtone(ctx)
	if err := e.call.Answer(ctx); err != nil {
		log.WithError(err).Error("answer failed")
		return fmt.Errorf("answering call: %w", err)
	}
	log.Info("answered")
	return nil
}

// Decline rejects the ringing incoming call.
func (c *Controller) Decline(ctx context.Context) error {
	return c.do(ctx, func() {
		_, e, ok := c.ids.Current()
		if !ok {
			c.log.Warn("decline with no active call")
			return
		}
		c.stopRingtone(ctx)
		c.terminate(e, engine.StatusDecline)
	})
}

// Hangup ends the call with signalingID, or the active call when empty.
// Cleanup follows once the engine reports the call disconnected.
func (c *Controller) Hangup(ctx context.Context, signalingID string) error {
	return c.do(ctx, func() {
		var (
			e  *callEntry
			ok bool
		)
		if signalingID != "" {
			_, e, ok = c.ids.BySignaling(signalingID)
		} else {
			_, e, ok = c.ids.Current()
		}
		if !ok {
			c.log.WithField("call_id", signalingID).Warn("hangup with no matching call")
			return
		}
		c.stopRingtone(ctx)
		c.terminate(e, engine.StatusNormal)
	})
}

// terminate asks the engine to end the call without waiting. If the
// request fails outright the loop cleans up locally.
func (c *Controller) terminate(e *callEntry, code int) {
	call := e.call
	c.entryLog(e).WithField("code", code).Info("terminating")
	go func() {
		ctx, cancel := c.opCtx()
		defer cancel()
		if err := call.Hangup(ctx, code); err != nil {
			c.inbox.Post(callMsg{kind: msgTerminateFailed, call: call, err: err})
		}
	}()
}

// ToggleSpeaker flips the speaker and returns the new setting.
func (c *Controller) ToggleSpeaker(ctx context.Context) (bool, error) {
	var (
		on     bool
		result error
	)
	err := c.do(ctx, func() {
		c.speaker = !c.speaker
		on = c.speaker
		c.state.SetSpeaker(on)
		result = c.audio.SetSpeaker(ctx, on)
	})
	if err != nil {
		return false, err
	}
	return on, result
}

// StopAll terminates and cleans up every call. The session manager calls
// it before tearing down the account.
func (c *Controller) StopAll(ctx context.Context) {
	_ = c.do(ctx, func() { c.endAll(ctx) })
}

func (c *Controller) endAll(ctx context.Context) {
	for _, e := range c.ids.Values() {
		if err := e.call.Hangup(ctx, engine.StatusNormal); err != nil {
			c.entryLog(e).WithError(err).Warn("hangup during stop")
		}
		c.cleanup(ctx, e, "stopped")
	}
}

func (c *Controller) startRingtone(ctx context.Context) {
	if err := c.audio.StartRingtone(ctx); err != nil {
		c.log.WithError(err).Warn("ringtone start failed")
	}
}

func (c *Controller) stopRingtone(ctx context.Context) {
	if err := c.audio.StopRingtone(ctx); err != nil {
		c.log.WithError(err).Warn("ringtone stop failed")
	}
}
