package phone

import "time"

// CallState is the signaling state of a single call.
type CallState int

const (
	CallNull CallState = iota
	CallCalling
	CallIncoming
	CallEarly
	CallConnecting
	CallConfirmed
	CallDisconnected
)

var callStateNames = []string{
	"Null", "Calling", "Incoming", "Early", "Connecting", "Confirmed", "Disconnected",
}

func (s CallState) String() string {
	if int(s) >= 0 && int(s) < len(callStateNames) {
		return callStateNames[s]
	}
	return "Unknown"
}

// Terminal reports whether no further transition is accepted.
func (s CallState) Terminal() bool {
	return s == CallDisconnected
}

// Direction of a call relative to this client.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// CallIdentity pairs the engine's call id with the id the native call UI
// knows the call by.
type CallIdentity struct {
	SignalingID string `json:"signaling_id"`
	UIID        string `json:"ui_id"`
}

// CallInfo is the observable snapshot of the active call.
type CallInfo struct {
	ID        string    `json:"id"`
	RemoteURI string    `json:"remote_uri"`
	State     CallState `json:"-"`
	StateName string    `json:"state"`
	StateText string    `json:"state_text"`
	Direction Direction `json:"direction"`
	StartedAt time.Time `json:"started_at"`
}

// NewCallInfo builds a snapshot with labels for the given locale.
func NewCallInfo(id, remoteURI string, dir Direction, st CallState, loc Locale, startedAt time.Time) CallInfo {
	return CallInfo{
		ID:        id,
		RemoteURI: remoteURI,
		State:     st,
		StateName: st.String(),
		StateText: loc.CallStateText(st),
		Direction: dir,
		StartedAt: startedAt,
	}
}

// WithState returns a copy moved to st.
func (c CallInfo) WithState(st CallState, loc Locale) CallInfo {
	c.State = st
	c.StateName = st.String()
	c.StateText = loc.CallStateText(st)
	return c
}
