package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dense-identity/softphone/internal/audio/audiotest"
	"github.com/dense-identity/softphone/internal/bridge"
	"github.com/dense-identity/softphone/internal/engine/enginetest"
	"github.com/dense-identity/softphone/internal/logger"
	"github.com/dense-identity/softphone/internal/softphone"
	"github.com/dense-identity/softphone/internal/store"
)

func TestCommandLoop(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	var uiOut bytes.Buffer
	ui := bridge.NewConsole(&uiOut)
	p, err := softphone.New(softphone.Deps{
		Store:    fs,
		Endpoint: enginetest.NewEndpoint(),
		Bridge:   ui,
		Audio:    audiotest.New(),
	}, softphone.Options{}, logger.Discard())
	require.NoError(t, err)
	defer p.Close(context.Background())

	in := strings.NewReader(strings.Join([]string{
		"dial 1001",
		"dial",
		"status",
		"contacts",
		"ui answer",
		"bogus",
		"quit",
		"status",
	}, "\n"))
	var out bytes.Buffer
	stopped := false
	commandLoop(context.Background(), in, &out, p, ui, func() { stopped = true })

	text := out.String()
	assert.True(t, stopped)
	assert.Contains(t, text, "Dial failed: sip account is not registered")
	assert.Contains(t, text, "Usage: dial <number>")
	assert.Contains(t, text, "Status: Disconnected")
	assert.Contains(t, text, "No contacts")
	assert.Contains(t, text, "No call screen entry")
	assert.Contains(t, text, "Unknown command: bogus")
	assert.Equal(t, 1, strings.Count(text, "Status:"), "loop returns on quit")
}
