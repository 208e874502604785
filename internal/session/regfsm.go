package session

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/dense-identity/softphone/internal/engine"
	"github.com/dense-identity/softphone/internal/phone"
)

// Registration machine events.
const (
	evConfigure    = "configure"
	evConnect      = "connect"
	evRegistered   = "registered"
	evUnregistered = "unregistered"
	evProgress     = "progress"
	evFail         = "fail"
	evReset        = "reset"
)

var (
	stDisconnected = phone.StatusDisconnected.String()
	stConfiguring  = phone.StatusConfiguring.String()
	stConnecting   = phone.StatusConnecting.String()
	stRegistered   = phone.StatusRegistered.String()
	stUnregistered = phone.StatusUnregistered.String()
	stError        = phone.StatusError.String()

	allStates  = []string{stDisconnected, stConfiguring, stConnecting, stRegistered, stUnregistered, stError}
	liveStates = []string{stConnecting, stRegistered, stUnregistered, stError}
)

// newRegistrationFSM builds the machine. onEnter runs for every real
// transition with the new status and the diagnostic passed to Event.
func newRegistrationFSM(onEnter func(status phone.ConnectionStatus, diag string)) *fsm.FSM {
	return fsm.NewFSM(
		stDisconnected,
		fsm.Events{
			{Name: evConfigure, Src: allStates, Dst: stConfiguring},
			{Name: evConnect, Src: []string{stConfiguring}, Dst: stConnecting},
			{Name: evRegistered, Src: liveStates, Dst: stRegistered},
			{Name: evUnregistered, Src: liveStates, Dst: stUnregistered},
			{Name: evProgress, Src: liveStates, Dst: stConnecting},
			{Name: evFail, Src: allStates, Dst: stError},
			{Name: evReset, Src: allStates, Dst: stDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				status, _ := phone.ParseConnectionStatus(e.Dst)
				onEnter(status, diagFromArgs(e.Args))
			},
		},
	)
}

func diagFromArgs(args []interface{}) string {
	if len(args) == 0 {
		return ""
	}
	s, _ := args[0].(string)
	return s
}

// isBenign reports fsm errors that mean "already there".
func isBenign(err error) bool {
	var nte fsm.NoTransitionError
	return errors.As(err, &nte)
}

// registrationEvent maps an engine registration report onto a machine
// event. Failure wins over everything else so an error code is never
// shown as a healthy registration.
func registrationEvent(ev engine.RegistrationEvent) string {
	switch {
	case ev.State == engine.RegFailed || ev.Code >= 400:
		return evFail
	case ev.State == engine.RegRegistered:
		return evRegistered
	case ev.State == engine.RegUnregistered:
		return evUnregistered
	default:
		return evProgress
	}
}

// StatusFor is the status a registration report leads to.
func StatusFor(ev engine.RegistrationEvent) phone.ConnectionStatus {
	switch registrationEvent(ev) {
	case evFail:
		return phone.StatusError
	case evRegistered:
		return phone.StatusRegistered
	case evUnregistered:
		return phone.StatusUnregistered
	default:
		return phone.StatusConnecting
	}
}
