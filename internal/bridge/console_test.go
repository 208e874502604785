package bridge

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleEntries(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)
	ctx := context.Background()

	_, ok := c.Current()
	assert.False(t, ok)

	require.NoError(t, c.DisplayIncoming(ctx, "u1", "sip:1003@pbx"))
	id, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "u1", id)
	assert.Contains(t, out.String(), "incoming call from sip:1003@pbx")

	require.NoError(t, c.End(ctx, "u1"))
	assert.ErrorIs(t, c.End(ctx, "u1"), ErrUnknownCall)
	assert.ErrorIs(t, c.ReportOutgoingConnected(ctx, "u1"), ErrUnknownCall)

	require.NoError(t, c.StartOutgoing(ctx, "u2", "1002"))
	require.NoError(t, c.ReportOutgoingConnected(ctx, "u2"))
	assert.Contains(t, out.String(), "connected to 1002")
}

func TestConsoleEvents(t *testing.T) {
	c := NewConsole(&bytes.Buffer{})
	require.NoError(t, c.DisplayIncoming(context.Background(), "u1", "sip:bob@example.com"))
	c.Answer("u1")
	c.Hangup("u1")
	_, ok := c.Current()
	assert.False(t, ok, "ui hangup dismisses the entry")

	assert.Equal(t, Event{Kind: EventAnswer, UIID: "u1"}, <-c.Events())
	assert.Equal(t, Event{Kind: EventEnd, UIID: "u1"}, <-c.Events())
	assert.Equal(t, "end", EventEnd.String())
}
