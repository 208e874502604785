package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dense-identity/softphone/internal/phone"
)

func TestStatusAndDiagnostic(t *testing.T) {
	s := New(phone.LocalePortuguese)
	snap := s.Snapshot()
	assert.Equal(t, phone.StatusDisconnected, snap.Status)
	assert.Equal(t, "Desconectado", snap.StatusText)

	s.SetConnectionStatus(phone.StatusError, "registration failed: Forbidden (code 403)")
	snap = s.Snapshot()
	assert.Equal(t, "Erro", snap.StatusText)
	assert.Equal(t, phone.SeverityError, snap.Severity)
	assert.Equal(t, "registration failed: Forbidden (code 403)", snap.Diagnostic)

	s.SetConnectionStatus(phone.StatusRegistered, "")
	snap = s.Snapshot()
	assert.Equal(t, "Registrado", snap.StatusText)
	assert.Empty(t, snap.Diagnostic)
}

func TestActiveCallOwnership(t *testing.T) {
	s := New(phone.LocaleEnglish)
	ci := phone.NewCallInfo("c1", "sip:1002@pbx", phone.DirectionOutgoing, phone.CallCalling, phone.LocaleEnglish, time.Now())
	s.SetActiveCall(ci)

	assert.False(t, s.ClearActiveCallIf("other"))
	require.NotNil(t, s.Snapshot().ActiveCall)

	// Snapshots are copies.
	snap := s.Snapshot()
	snap.ActiveCall.State = phone.CallConfirmed
	assert.Equal(t, phone.CallCalling, s.Snapshot().ActiveCall.State)

	assert.True(t, s.ClearActiveCallIf("c1"))
	assert.Nil(t, s.Snapshot().ActiveCall)
	assert.False(t, s.ClearActiveCallIf("c1"))
}

func TestSubscribeKeepsNewest(t *testing.T) {
	s := New(phone.LocaleEnglish)
	ch, cancel := s.Subscribe()
	defer cancel()

	first := <-ch
	assert.Equal(t, phone.StatusDisconnected, first.Status)

	s.SetConnectionStatus(phone.StatusConfiguring, "")
	s.SetConnectionStatus(phone.StatusConnecting, "")
	s.SetConnectionStatus(phone.StatusRegistered, "")

	latest := <-ch
	assert.Equal(t, phone.StatusRegistered, latest.Status)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot %v", extra.Status)
	default:
	}

	cancel()
	s.SetSpeaker(true)
	select {
	case <-ch:
		t.Fatal("cancelled subscriber received a snapshot")
	default:
	}
}
