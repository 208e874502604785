// Package bridge connects calls to the native call UI.
package bridge

import (
	"context"
	"errors"
)

var ErrUnknownCall = errors.New("unknown ui call")

// EventKind is a user action taken on the native call UI.
type EventKind int

const (
	EventAnswer EventKind = iota
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventAnswer:
		return "answer"
	case EventEnd:
		return "end"
	}
	return "unknown"
}

// Event carries the ui id the action applies to.
type Event struct {
	Kind EventKind
	UIID string
}

// Bridge is the native call UI provider.
type Bridge interface {
	StartOutgoing(ctx context.Context, uiID, destination string) error
	DisplayIncoming(ctx context.Context, uiID, callerText string) error
	ReportOutgoingConnected(ctx context.Context, uiID string) error
	End(ctx context.Context, uiID string) error
	Events() <-chan Event
}
