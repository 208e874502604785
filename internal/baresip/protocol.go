package baresip

import (
	"strconv"
	"strings"
)

// EventType is the "type" field of a ctrl_tcp event.
type EventType string

const (
	EventCallIncoming    EventType = "CALL_INCOMING"
	EventCallOutgoing    EventType = "CALL_OUTGOING"
	EventCallRinging     EventType = "CALL_RINGING"
	EventCallProgress    EventType = "CALL_PROGRESS"
	EventCallAnswered    EventType = "CALL_ANSWERED"
	EventCallEstablished EventType = "CALL_ESTABLISHED"
	EventCallClosed      EventType = "CALL_CLOSED"
	EventRegisterOK      EventType = "REGISTER_OK"
	EventRegisterFail    EventType = "REGISTER_FAIL"
	EventUnregistering   EventType = "UNREGISTERING"
)

// Event is an asynchronous notification from baresip.
type Event struct {
	Event      bool      `json:"event"`
	Class      string    `json:"class"`
	Type       EventType `json:"type"`
	AccountAOR string    `json:"accountaor"`
	Direction  string    `json:"direction"`
	PeerURI    string    `json:"peeruri"`
	PeerName   string    `json:"peername"`
	ID         string    `json:"id"`
	Param      string    `json:"param"`
}

// StatusCode extracts a leading SIP status code from Param, e.g.
// "401 Unauthorized". It returns 0 when there is none.
func (e Event) StatusCode() int {
	field, _, _ := strings.Cut(strings.TrimSpace(e.Param), " ")
	code, err := strconv.Atoi(field)
	if err != nil || code < 100 || code > 699 {
		return 0
	}
	return code
}

// Response answers a command carrying the same token.
type Response struct {
	Response bool   `json:"response"`
	OK       bool   `json:"ok"`
	Data     string `json:"data"`
	Token    string `json:"token"`
}

// Command is sent to baresip.
type Command struct {
	Command string `json:"command"`
	Params  string `json:"params,omitempty"`
	Token   string `json:"token,omitempty"`
}

// envelope discriminates events from responses without decoding twice.
type envelope struct {
	Event    *bool `json:"event"`
	Response *bool `json:"response"`
}
