package baresip

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dense-identity/softphone/internal/engine"
)

type account struct {
	ep          *Endpoint
	aor         string
	regInterval int

	mu sync.Mutex
	h  engine.AccountHandlers
}

var _ engine.Account = (*account)(nil)

func (a *account) ID() string { return a.aor }

func (a *account) SetHandlers(h engine.AccountHandlers) {
	a.mu.Lock()
	a.h = h
	a.mu.Unlock()
}

func (a *account) handlers() engine.AccountHandlers {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.h
}

func (a *account) Register(ctx context.Context) error {
	interval := a.regInterval
	if interval <= 0 {
		interval = 600
	}
	return a.uareg(ctx, interval)
}

func (a *account) Unregister(ctx context.Context) error {
	return a.uareg(ctx, 0)
}

func (a *account) uareg(ctx context.Context, interval int) error {
	a.ep.uaMu.Lock()
	defer a.ep.uaMu.Unlock()

	if err := a.ep.selectUA(ctx, a.aor); err != nil {
		return fmt.Errorf("selecting %s: %w", a.aor, err)
	}
	if _, err := a.ep.do(ctx, "uareg", strconv.Itoa(interval)); err != nil {
		return fmt.Errorf("uareg %d %s: %w", interval, a.aor, err)
	}
	return nil
}

func (a *account) Release(ctx context.Context) error {
	a.SetHandlers(engine.AccountHandlers{})

	a.ep.mu.Lock()
	delete(a.ep.accounts, a.aor)
	a.ep.mu.Unlock()

	if _, err := a.ep.do(ctx, "uadel", a.aor); err != nil {
		return fmt.Errorf("deleting account %s: %w", a.aor, err)
	}
	return nil
}

// MakeCall dials uri and waits for baresip to report the new call id. The
// wait is detached from ctx: once dial is sent the call exists, so giving
// up early would leave it ringing with nobody to hang it up.
func (a *account) MakeCall(ctx context.Context, uri string) (engine.Call, error) {
	ctx = context.WithoutCancel(ctx)
	pd := &pendingDial{aor: a.aor, target: uri, ch: make(chan *call, 1)}
	a.ep.uaMu.Lock()
	a.ep.mu.Lock()
	a.ep.dialing = pd
	a.ep.mu.Unlock()
	err := a.ep.selectUA(ctx, a.aor)
	dialSent := false
	if err == nil {
		dialSent = true
		_, err = a.ep.do(ctx, "dial", uri)
	}
	a.ep.uaMu.Unlock()
	if err != nil {
		// A lost dial response may still have created the call.
		if a.ep.abandon(pd, dialSent && errors.Is(err, ErrTimeout)) {
			return <-pd.ch, nil
		}
		return nil, fmt.Errorf("dialing %s: %w", uri, err)
	}

	timer := time.NewTimer(a.ep.opts.DialTimeout)
	defer timer.Stop()
	select {
	case c := <-pd.ch:
		return c, nil
	case <-timer.C:
		if a.ep.abandon(pd, true) {
			return <-pd.ch, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrDialTimeout, uri)
	}
}
