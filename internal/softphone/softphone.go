// Package softphone wires the session manager, the call controller and the
// stores into the operations the HTTP and console surfaces expose.
package softphone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dense-identity/softphone/internal/audio"
	"github.com/dense-identity/softphone/internal/bridge"
	"github.com/dense-identity/softphone/internal/calls"
	"github.com/dense-identity/softphone/internal/engine"
	"github.com/dense-identity/softphone/internal/metrics"
	"github.com/dense-identity/softphone/internal/phone"
	"github.com/dense-identity/softphone/internal/session"
	"github.com/dense-identity/softphone/internal/state"
	"github.com/dense-identity/softphone/internal/store"
)

var ErrNotRegistered = errors.New("sip account is not registered")

// Deps are the collaborators a Phone drives.
type Deps struct {
	Store    store.Store
	Endpoint engine.Endpoint
	Bridge   bridge.Bridge
	Audio    audio.Session
	Metrics  *metrics.Monitor
}

type Options struct {
	Locale      phone.Locale
	Transport   string
	RegInterval int
	StepTimeout time.Duration
	Calls       calls.Options
}

// Phone is the running softphone.
type Phone struct {
	store   store.Store
	state   *state.Store
	metrics *metrics.Monitor
	session *session.Manager
	calls   *calls.Controller
	log     *logrus.Entry
}

func New(deps Deps, opts Options, log *logrus.Entry) (*Phone, error) {
	if deps.Store == nil || deps.Endpoint == nil || deps.Bridge == nil || deps.Audio == nil {
		return nil, errors.New("softphone: missing dependency")
	}
	if opts.Locale == "" {
		opts.Locale = phone.LocaleEnglish
	}

	st := state.New(opts.Locale)
	mgr := session.New(deps.Endpoint, st, deps.Metrics, session.Options{
		Transport:   opts.Transport,
		RegInterval: opts.RegInterval,
		StepTimeout: opts.StepTimeout,
	}, log)

	ctrl, err := calls.New(mgr, deps.Bridge, deps.Audio, st, deps.Metrics, opts.Calls, log)
	if err != nil {
		_ = mgr.Close(context.Background())
		return nil, err
	}
	mgr.SetCallLifecycle(ctrl)

	return &Phone{
		store:   deps.Store,
		state:   st,
		metrics: deps.Metrics,
		session: mgr,
		calls:   ctrl,
		log:     log.WithField("component", "softphone"),
	}, nil
}

// Start restores the stored config, if any, and brings the session up.
// A failed registration is not an error here; it shows in the status.
func (p *Phone) Start(ctx context.Context) error {
	cfg, ok, err := store.LoadValid(ctx, p.store)
	var invalid *store.InvalidStoredError
	switch {
	case errors.As(err, &invalid):
		p.log.WithError(err).Warn("discarded stored config")
		p.state.SetDiagnostic(err.Error())
	case err != nil:
		return fmt.Errorf("loading stored config: %w", err)
	}
	p.state.SetConfigPresent(ok)
	if !ok {
		p.log.Info("no stored sip config, waiting for one")
		return nil
	}

	p.log.WithField("config", cfg.Redacted()).Info("restoring stored sip config")
	if err := p.session.ApplyConfig(ctx, &cfg); err != nil && !errors.Is(err, session.ErrSuperseded) {
		p.log.WithError(err).Warn("initial bring-up failed")
	}
	return nil
}

func (p *Phone) State() *state.Store { return p.state }

func (p *Phone) Snapshot() state.Snapshot { return p.state.Snapshot() }

func (p *Phone) Metrics() *metrics.Monitor { return p.metrics }

// SetConfig validates, persists and applies cfg. The returned error is the
// bring-up result; the config stays saved either way.
func (p *Phone) SetConfig(ctx context.Context, cfg phone.SipConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := p.store.Save(ctx, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	p.state.SetConfigPresent(true)
	p.log.WithField("config", cfg.Redacted()).Info("sip config saved")

	err := p.session.ApplyConfig(ctx, &cfg)
	if errors.Is(err, session.ErrSuperseded) {
		return nil
	}
	return err
}

// Config returns the stored config.
func (p *Phone) Config(ctx context.Context) (phone.SipConfig, bool, error) {
	cfg, err := p.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return phone.SipConfig{}, false, nil
	}
	if err != nil {
		return phone.SipConfig{}, false, err
	}
	return cfg, true, nil
}

// ClearConfig forgets the stored config and tears the session down.
func (p *Phone) ClearConfig(ctx context.Context) error {
	if err := p.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing config: %w", err)
	}
	p.state.SetConfigPresent(false)
	err := p.session.ApplyConfig(ctx, nil)
	if errors.Is(err, session.ErrSuperseded) {
		return nil
	}
	return err
}

func (p *Phone) Contacts(ctx context.Context) ([]phone.Contact, error) {
	return p.store.LoadContacts(ctx)
}

func (p *Phone) AddContact(ctx context.Context, name, number string) (phone.Contact, error) {
	return p.store.AddContact(ctx, name, number)
}

func (p *Phone) RemoveContact(ctx context.Context, id string) error {
	return p.store.RemoveContact(ctx, id)
}

// PlaceCall dials destination. Calls are only offered while registered.
func (p *Phone) PlaceCall(ctx context.Context, destination string) (phone.CallIdentity, error) {
	if status := p.state.Snapshot().Status; status != phone.StatusRegistered {
		return phone.CallIdentity{}, fmt.Errorf("%w (status %s)", ErrNotRegistered, status)
	}
	return p.calls.PlaceCall(ctx, destination)
}

// CallContact dials the number stored for the contact with id.
func (p *Phone) CallContact(ctx context.Context, id string) (phone.CallIdentity, error) {
	contacts, err := p.store.LoadContacts(ctx)
	if err != nil {
		return phone.CallIdentity{}, err
	}
	for _, c := range contacts {
		if c.ID == id {
			return p.PlaceCall(ctx, c.Number)
		}
	}
	return phone.CallIdentity{}, fmt.Errorf("contact %s: %w", id, store.ErrNotFound)
}

func (p *Phone) Answer(ctx context.Context) error { return p.calls.Answer(ctx) }

func (p *Phone) Decline(ctx context.Context) error { return p.calls.Decline(ctx) }

// Hangup ends the call with signalingID, or the active call when empty.
func (p *Phone) Hangup(ctx context.Context, signalingID string) error {
	return p.calls.Hangup(ctx, signalingID)
}

func (p *Phone) ToggleSpeaker(ctx context.Context) (bool, error) {
	return p.calls.ToggleSpeaker(ctx)
}

// Close ends any call, unregisters and releases the stores.
func (p *Phone) Close(ctx context.Context) error {
	err := p.session.Close(ctx)
	p.calls.Close()
	if cerr := p.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
