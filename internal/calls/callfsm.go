package calls

import (
	"context"
	"errors"
	"strings"

	"github.com/looplab/fsm"

	"github.com/dense-identity/softphone/internal/phone"
)

func stateName(s phone.CallState) string {
	return s.String()
}

// eventFor names the machine event that moves a call into s.
func eventFor(s phone.CallState) string {
	return strings.ToLower(s.String())
}

// newCallFSM builds the per-call signaling machine. Every live state lists
// itself as a source so repeats are reported as no-ops. Disconnected is
// terminal: no event leaves it.
func newCallFSM() *fsm.FSM {
	null := stateName(phone.CallNull)
	calling := stateName(phone.CallCalling)
	incoming := stateName(phone.CallIncoming)
	early := stateName(phone.CallEarly)
	connecting := stateName(phone.CallConnecting)
	confirmed := stateName(phone.CallConfirmed)
	disconnected := stateName(phone.CallDisconnected)

	return fsm.NewFSM(
		null,
		fsm.Events{
			{Name: eventFor(phone.CallCalling), Src: []string{null, calling}, Dst: calling},
			{Name: eventFor(phone.CallIncoming), Src: []string{null, incoming}, Dst: incoming},
			{Name: eventFor(phone.CallEarly), Src: []string{calling, incoming, early}, Dst: early},
			{Name: eventFor(phone.CallConnecting), Src: []string{calling, early, incoming, connecting}, Dst: connecting},
			{Name: eventFor(phone.CallConfirmed), Src: []string{calling, early, connecting, incoming, confirmed}, Dst: confirmed},
			{Name: eventFor(phone.CallDisconnected), Src: []string{null, calling, incoming, early, connecting, confirmed}, Dst: disconnected},
		},
		fsm.Callbacks{},
	)
}

// advance moves m to s. changed is false when m was already in s; err is
// set when the transition is not allowed from the current state.
func advance(m *fsm.FSM, s phone.CallState) (changed bool, err error) {
	err = m.Event(context.Background(), eventFor(s))
	if err == nil {
		return true, nil
	}
	var nte fsm.NoTransitionError
	if errors.As(err, &nte) {
		return false, nil
	}
	return false, err
}

func currentState(m *fsm.FSM) phone.CallState {
	for s := phone.CallNull; s <= phone.CallDisconnected; s++ {
		if m.Current() == stateName(s) {
			return s
		}
	}
	return phone.CallNull
}
