package baresip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dense-identity/softphone/internal/engine"
	"github.com/dense-identity/softphone/internal/phone"
)

var ErrDialTimeout = errors.New("no call id reported for dial")

// abandonedTTL bounds how long a given-up dial waits for its late call id.
const abandonedTTL = 30 * time.Second

// Options configures an Endpoint.
type Options struct {
	Addr        string
	CmdTimeout  time.Duration
	DialTimeout time.Duration
}

// Endpoint implements engine.Endpoint on top of a baresip process. Each
// Start opens a fresh ctrl_tcp connection; Release closes it.
type Endpoint struct {
	opts Options
	log  *logrus.Entry

	// uaMu serialises select-then-act command pairs (uafind + uareg/dial).
	uaMu sync.Mutex

	mu       sync.Mutex
	client   *Client
	accounts map[string]*account
	calls    map[string]*call
	dialing  *pendingDial
	// abandoned holds dials whose caller gave up; their calls are hung up
	// as soon as baresip reports them.
	abandoned []abandonedDial
	done      chan struct{}
}

type pendingDial struct {
	aor    string
	target string
	ch     chan *call
	// claimed is set under mu once a call id has been matched to the dial.
	claimed bool
}

type abandonedDial struct {
	aor    string
	target string
	at     time.Time
}

var _ engine.Endpoint = (*Endpoint)(nil)

// NewEndpoint returns an endpoint that connects on Start.
func NewEndpoint(opts Options, log *logrus.Entry) *Endpoint {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return &Endpoint{
		opts:     opts,
		log:      log.WithField("component", "engine"),
		accounts: make(map[string]*account),
		calls:    make(map[string]*call),
	}
}

func (e *Endpoint) Start(ctx context.Context) error {
	client := NewClient(e.opts.Addr, e.opts.CmdTimeout, e.log)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	e.attach(client)
	return nil
}

// attach installs a connected client and starts event dispatch.
func (e *Endpoint) attach(client *Client) {
	done := make(chan struct{})
	e.mu.Lock()
	e.client = client
	e.done = done
	e.mu.Unlock()
	go e.dispatch(client, done)
}

// Client exposes the live connection for auxiliary commands such as audio
// routing. It returns nil before Start and after Release.
func (e *Endpoint) Client() *Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

func (e *Endpoint) Release(context.Context) error {
	e.mu.Lock()
	client, done := e.client, e.done
	e.client = nil
	e.accounts = make(map[string]*account)
	e.calls = make(map[string]*call)
	e.dialing = nil
	e.abandoned = nil
	e.mu.Unlock()

	if client == nil {
		return nil
	}
	err := client.Close()
	<-done
	return err
}

func (e *Endpoint) do(ctx context.Context, cmd, params string) (*Response, error) {
	client := e.Client()
	if client == nil {
		return nil, engine.ErrUnavailable
	}
	return client.Do(ctx, cmd, params)
}

// selectUA makes aor the current user agent; callers hold uaMu.
func (e *Endpoint) selectUA(ctx context.Context, aor string) error {
	_, err := e.do(ctx, "uafind", aor)
	return err
}

func (e *Endpoint) CreateAccount(ctx context.Context, cfg engine.AccountConfig) (engine.Account, error) {
	params := fmt.Sprintf("<%s;transport=%s>;auth_user=\"%s\";auth_pass=\"%s\";outbound=\"%s\";regint=0",
		cfg.URI, transportOrUDP(cfg.Transport), cfg.AuthUser, cfg.AuthPass, cfg.Registrar)
	if _, err := e.do(ctx, "uanew", params); err != nil {
		return nil, fmt.Errorf("creating account %s: %w", cfg.URI, err)
	}

	a := &account{ep: e, aor: cfg.URI, regInterval: cfg.RegInterval}
	e.mu.Lock()
	e.accounts[cfg.URI] = a
	e.mu.Unlock()
	return a, nil
}

func transportOrUDP(t string) string {
	if t == "" {
		return "udp"
	}
	return strings.ToLower(t)
}

func (e *Endpoint) dispatch(client *Client, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			e.handleEvent(ev)
		case err := <-client.Errors():
			e.log.WithError(err).Error("connection lost")
		}
	}
}

func (e *Endpoint) handleEvent(ev Event) {
	e.log.WithFields(logrus.Fields{
		"type": ev.Type,
		"id":   ev.ID,
		"aor":  ev.AccountAOR,
		"peer": ev.PeerURI,
	}).Debug("event")

	switch ev.Type {
	case EventRegisterOK, EventRegisterFail, EventUnregistering:
		e.handleRegistration(ev)
	case EventCallIncoming:
		e.handleIncoming(ev)
	case EventCallOutgoing:
		e.handleOutgoing(ev)
	default:
		if st, ok := callStateFor(ev.Type); ok {
			e.deliverCallEvent(ev, st)
		}
	}
}

func (e *Endpoint) handleRegistration(ev Event) {
	e.mu.Lock()
	a := e.accounts[ev.AccountAOR]
	e.mu.Unlock()
	if a == nil {
		return
	}

	re := engine.RegistrationEvent{Code: ev.StatusCode(), Reason: ev.Param}
	switch ev.Type {
	case EventRegisterOK:
		re.State = engine.RegRegistered
		if re.Code == 0 {
			re.Code = 200
		}
	case EventRegisterFail:
		re.State = engine.RegFailed
	case EventUnregistering:
		re.State = engine.RegUnregistered
	}
	if h := a.handlers().OnRegState; h != nil {
		h(re)
	}
}

func (e *Endpoint) handleIncoming(ev Event) {
	e.mu.Lock()
	a := e.accounts[ev.AccountAOR]
	if a == nil || e.calls[ev.ID] != nil {
		e.mu.Unlock()
		return
	}
	c := newCall(e, ev.ID, ev.PeerURI)
	e.calls[ev.ID] = c
	e.mu.Unlock()

	if h := a.handlers().OnIncomingCall; h != nil {
		h(c)
		c.push(engine.CallEvent{State: phone.CallIncoming})
		return
	}
	// Nobody to take it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.DialTimeout)
		defer cancel()
		_ = c.Hangup(ctx, engine.StatusBusyHere)
	}()
}

// abandon withdraws pd. With tombstone set, its call, if it ever shows up,
// is hung up instead of ringing with no owner. It reports true when the
// call id was already claimed and is on its way through pd.ch.
func (e *Endpoint) abandon(pd *pendingDial, tombstone bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dialing != pd {
		return pd.claimed
	}
	e.dialing = nil
	if tombstone {
		e.abandoned = append(e.abandoned, abandonedDial{aor: pd.aor, target: pd.target, at: time.Now()})
	}
	return false
}

// claimAbandoned removes and reports the oldest tombstone matching ev.
// Callers hold mu.
func (e *Endpoint) claimAbandoned(ev Event) bool {
	now := time.Now()
	live := e.abandoned[:0]
	for _, ad := range e.abandoned {
		if now.Sub(ad.at) < abandonedTTL {
			live = append(live, ad)
		}
	}
	e.abandoned = live
	for i, ad := range e.abandoned {
		if ad.aor == ev.AccountAOR && samePeer(ad.target, ev.PeerURI) {
			e.abandoned = append(e.abandoned[:i], e.abandoned[i+1:]...)
			return true
		}
	}
	return false
}

func samePeer(target, peer string) bool {
	peer = strings.Trim(peer, "<> ")
	return peer == "" || strings.EqualFold(strings.Trim(target, "<> "), peer)
}

func (e *Endpoint) handleOutgoing(ev Event) {
	e.mu.Lock()
	if e.calls[ev.ID] == nil && e.claimAbandoned(ev) {
		e.mu.Unlock()
		e.log.WithFields(logrus.Fields{"call_id": ev.ID, "peer": ev.PeerURI}).Warn("hanging up call from abandoned dial")
		orphan := newCall(e, ev.ID, ev.PeerURI)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.opts.DialTimeout)
			defer cancel()
			if err := orphan.Hangup(ctx, engine.StatusNormal); err != nil {
				e.log.WithError(err).Warn("abandoned call hangup failed")
			}
		}()
		return
	}
	c := e.calls[ev.ID]
	if c == nil {
		c = newCall(e, ev.ID, ev.PeerURI)
		e.calls[ev.ID] = c
	}
	pd := e.dialing
	if pd != nil && pd.aor == ev.AccountAOR {
		e.dialing = nil
		pd.claimed = true
	} else {
		pd = nil
	}
	e.mu.Unlock()

	c.push(engine.CallEvent{State: phone.CallCalling})
	if pd != nil {
		pd.ch <- c
	}
}

func (e *Endpoint) deliverCallEvent(ev Event, st phone.CallState) {
	e.mu.Lock()
	c := e.calls[ev.ID]
	if st == phone.CallDisconnected {
		delete(e.calls, ev.ID)
	}
	e.mu.Unlock()
	if c == nil {
		return
	}
	c.push(engine.CallEvent{State: st, Code: ev.StatusCode(), Reason: ev.Param})
}

// callStateFor maps call events other than INCOMING/OUTGOING.
func callStateFor(t EventType) (phone.CallState, bool) {
	switch t {
	case EventCallRinging, EventCallProgress:
		return phone.CallEarly, true
	case EventCallAnswered:
		return phone.CallConnecting, true
	case EventCallEstablished:
		return phone.CallConfirmed, true
	case EventCallClosed:
		return phone.CallDisconnected, true
	}
	return phone.CallNull, false
}

// Command runs an arbitrary ctrl_tcp command on the live connection.
func (e *Endpoint) Command(ctx context.Context, cmd, params string) error {
	_, err := e.do(ctx, cmd, params)
	return err
}
