// Package engine defines what the softphone needs from a SIP signaling
// engine. The engine owns the protocol stack; callers only hold handles.
package engine

import (
	"context"
	"errors"

	"github.com/dense-identity/softphone/internal/phone"
)

// SIP status codes used when ending calls.
const (
	StatusNormal    = 0
	StatusBusyHere  = 486
	StatusDecline   = 603
	StatusForbidden = 403
)

var ErrUnavailable = errors.New("signaling engine unavailable")

// RegState is the engine's view of an account registration.
type RegState string

const (
	RegRegistered   RegState = "registered"
	RegUnregistered RegState = "unregistered"
	RegFailed       RegState = "failed"
	RegProgress     RegState = "progress"
)

// RegistrationEvent reports a registration change for an account.
type RegistrationEvent struct {
	State  RegState
	Code   int
	Reason string
}

// CallEvent reports a signaling state change for a call.
type CallEvent struct {
	State  phone.CallState
	Code   int
	Reason string
}

// AccountConfig is what the engine needs to create an account.
type AccountConfig struct {
	URI         string
	Registrar   string
	Transport   string
	AuthUser    string
	AuthPass    string
	RegInterval int
}

// NewAccountConfig derives the account settings from a SIP config.
func NewAccountConfig(cfg phone.SipConfig, transport string, regInterval int) AccountConfig {
	return AccountConfig{
		URI:         cfg.AccountURI(),
		Registrar:   cfg.RegistrarURI(),
		Transport:   transport,
		AuthUser:    cfg.Username,
		AuthPass:    cfg.Password,
		RegInterval: regInterval,
	}
}

// Endpoint is one running protocol stack instance.
type Endpoint interface {
	Start(ctx context.Context) error
	CreateAccount(ctx context.Context, cfg AccountConfig) (Account, error)
	Release(ctx context.Context) error
}

// AccountHandlers receive account scoped events. Handlers are invoked from
// engine goroutines and must not block.
type AccountHandlers struct {
	OnRegState     func(RegistrationEvent)
	OnIncomingCall func(Call)
}

// Account is one identity registered on a server.
type Account interface {
	ID() string
	SetHandlers(h AccountHandlers)
	Register(ctx context.Context) error
	Unregister(ctx context.Context) error
	MakeCall(ctx context.Context, uri string) (Call, error)
	Release(ctx context.Context) error
}

// Call is a single signaling dialog.
type Call interface {
	ID() string
	RemoteURI() string
	// OnState replaces the state listener. Events arrive in order.
	OnState(fn func(CallEvent))
	RemoveListeners()
	Answer(ctx context.Context) error
	// Hangup ends or rejects the call; code 0 lets the engine choose.
	Hangup(ctx context.Context, code int) error
}
