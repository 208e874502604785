package calls_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dense-identity/softphone/internal/audio/audiotest"
	"github.com/dense-identity/softphone/internal/bridge"
	"github.com/dense-identity/softphone/internal/bridge/bridgetest"
	"github.com/dense-identity/softphone/internal/calls"
	"github.com/dense-identity/softphone/internal/engine"
	"github.com/dense-identity/softphone/internal/engine/enginetest"
	"github.com/dense-identity/softphone/internal/logger"
	"github.com/dense-identity/softphone/internal/phone"
	"github.com/dense-identity/softphone/internal/state"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type accounts struct {
	acct engine.Account
	cfg  phone.SipConfig
}

func (a *accounts) CurrentAccount() (engine.Account, phone.SipConfig, bool) {
	return a.acct, a.cfg, a.acct != nil
}

type harness struct {
	ep     *enginetest.Endpoint
	acct   *enginetest.Account
	bridge *bridgetest.Bridge
	audio  *audiotest.Session
	state  *state.Store
	ctrl   *calls.Controller
}

func newHarness(t *testing.T, opts calls.Options) *harness {
	t.Helper()
	ctx := context.Background()
	cfg := phone.SipConfig{Server: "sip.example.com", Username: "alice", Password: "secret"}

	ep := enginetest.NewEndpoint()
	a, err := ep.CreateAccount(ctx, engine.NewAccountConfig(cfg, "udp", 300))
	require.NoError(t, err)

	h := &harness{
		ep:     ep,
		acct:   a.(*enginetest.Account),
		bridge: bridgetest.New(),
		audio:  audiotest.New(),
		state:  state.New(phone.LocaleEnglish),
	}
	h.ctrl, err = calls.New(&accounts{acct: a, cfg: cfg}, h.bridge, h.audio, h.state, nil, opts, logger.Discard())
	require.NoError(t, err)
	h.acct.SetHandlers(engine.AccountHandlers{OnIncomingCall: h.ctrl.HandleIncoming})
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) activeCount(t *testing.T) int {
	n, err := h.ctrl.ActiveCount(context.Background())
	require.NoError(t, err)
	return n
}

func (h *harness) activeState(t *testing.T) (phone.CallState, bool) {
	snap := h.state.Snapshot()
	if snap.ActiveCall == nil {
		return phone.CallNull, false
	}
	return snap.ActiveCall.State, true
}

func (h *harness) waitState(t *testing.T, want phone.CallState) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := h.activeState(t)
		return ok && st == want
	}, waitFor, tick)
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := h.activeState(t)
		return !ok && h.activeCount(t) == 0
	}, waitFor, tick)
}

func TestOutgoingCallLifecycle(t *testing.T) {
	h := newHarness(t, calls.Options{})
	ctx := context.Background()

	id, err := h.ctrl.PlaceCall(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "call-1", id.SignalingID)
	assert.NotEmpty(t, id.UIID)
	assert.Equal(t, 1, h.activeCount(t))
	assert.Equal(t, 1, h.ep.Rec.Count("call.make sip:1001@sip.example.com"))

	snap := h.state.Snapshot()
	require.NotNil(t, snap.ActiveCall)
	assert.Equal(t, phone.CallCalling, snap.ActiveCall.State)
	assert.Equal(t, phone.DirectionOutgoing, snap.ActiveCall.Direction)
	assert.Equal(t, 0, h.audio.Count("ringtone"), "outbound calls are silent by default")

	call := h.acct.Calls()[0]
	call.Emit(engine.CallEvent{State: phone.CallEarly})
	call.Emit(engine.CallEvent{State: phone.CallConfirmed})
	h.waitState(t, phone.CallConfirmed)
	call.Emit(engine.CallEvent{State: phone.CallConfirmed})

	require.Eventually(t, func() bool { return h.bridge.Count("connected") == 1 }, waitFor, tick)
	assert.Equal(t, 1, h.audio.Count("start"))

	call.Emit(engine.CallEvent{State: phone.CallDisconnected, Reason: "bye"})
	h.waitIdle(t)
	assert.Equal(t, 1, h.audio.Count("start"))
	assert.GreaterOrEqual(t, h.audio.Count("stop"), 1)
	assert.False(t, call.HasListener())
	assert.Equal(t, 0, h.bridge.Entries())
}

func TestPlaceCallWhileBusy(t *testing.T) {
	h := newHarness(t, calls.Options{})
	ctx := context.Background()

	_, err := h.ctrl.PlaceCall(ctx, "1001")
	require.NoError(t, err)

	_, err = h.ctrl.PlaceCall(ctx, "1002")
	assert.ErrorIs(t, err, calls.ErrAlreadyInCall)
	assert.Equal(t, 1, h.ep.Rec.Count("call.make"))
	assert.Equal(t, 1, h.activeCount(t))
}

func TestPlaceCallWithoutAccount(t *testing.T) {
	ctrl, err := calls.New(&accounts{}, bridgetest.New(), audiotest.New(), state.New(phone.LocaleEnglish), nil, calls.Options{}, logger.Discard())
	require.NoError(t, err)
	defer ctrl.Close()

	_, err = ctrl.PlaceCall(context.Background(), "1001")
	assert.ErrorIs(t, err, calls.ErrNoAccount)
}

func TestPlaceCallRejectsBadDestination(t *testing.T) {
	h := newHarness(t, calls.Options{})
	_, err := h.ctrl.PlaceCall(context.Background(), "   ")
	assert.ErrorIs(t, err, phone.ErrInvalidDestination)
	assert.Empty(t, h.bridge.Calls())
}

func TestBridgeStartFailureStopsBeforeEngine(t *testing.T) {
	h := newHarness(t, calls.Options{})
	h.bridge.StartErr = errors.New("ui unavailable")

	_, err := h.ctrl.PlaceCall(context.Background(), "1001")
	require.Error(t, err)
	assert.Equal(t, 0, h.ep.Rec.Count("call.make"))
	assert.Equal(t, 0, h.activeCount(t))
}

func TestEngineDialFailureEndsUIEntry(t *testing.T) {
	h := newHarness(t, calls.Options{OutboundRingback: true})
	h.ep.DialErr = errors.New("no route")

	_, err := h.ctrl.PlaceCall(context.Background(), "1001")
	require.Error(t, err)
	assert.Equal(t, 1, h.bridge.Count("end"))
	assert.Equal(t, 0, h.bridge.Entries())
	assert.Equal(t, 0, h.activeCount(t))
	assert.Equal(t, 1, h.audio.Count("ringtone_stop"))
	assert.Contains(t, h.state.Snapshot().Diagnostic, "no route")
}

func TestUnmappableCallIsUndone(t *testing.T) {
	for _, hangupErr := range []error{nil, errors.New("engine gone")} {
		h := newHarness(t, calls.Options{OutboundRingback: true})
		h.ep.AnonymousCalls = true
		h.ep.HangupErr = hangupErr

		_, err := h.ctrl.PlaceCall(context.Background(), "1001")
		require.Error(t, err)
		assert.Equal(t, 1, h.ep.Rec.Count("call.hangup"))
		assert.Equal(t, 1, h.bridge.Count("end"), "ui entry ends even when the hangup fails")
		assert.Equal(t, 0, h.bridge.Entries())
		assert.Equal(t, 1, h.audio.Count("ringtone_stop"))
		assert.Equal(t, 0, h.activeCount(t))
	}
}

func TestOutboundRingbackStopsOnFirstChange(t *testing.T) {
	h := newHarness(t, calls.Options{OutboundRingback: true})

	_, err := h.ctrl.PlaceCall(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, 1, h.audio.Count("ringtone"))

	h.acct.Calls()[0].Emit(engine.CallEvent{State: phone.CallEarly})
	h.waitState(t, phone.CallEarly)
	assert.Equal(t, 1, h.audio.Count("ringtone_stop"))
}

func TestIncomingCallAnswer(t *testing.T) {
	h := newHarness(t, calls.Options{})

	call := h.acct.Incoming("sip:bob@example.com")
	h.waitState(t, phone.CallIncoming)
	require.Eventually(t, func() bool { return h.bridge.Count("incoming") == 1 }, waitFor, tick)
	assert.Equal(t, 1, h.audio.Count("ringtone"))
	assert.Equal(t, phone.DirectionIncoming, h.state.Snapshot().ActiveCall.Direction)

	require.NoError(t, h.ctrl.Answer(context.Background()))
	assert.Equal(t, 1, call.Answered())

	call.Emit(engine.CallEvent{State: phone.CallConnecting})
	call.Emit(engine.CallEvent{State: phone.CallConfirmed})
	h.waitState(t, phone.CallConfirmed)
	assert.Equal(t, 1, h.audio.Count("start"))
	assert.Equal(t, 0, h.bridge.Count("connected"), "only outbound calls report connected")
}

func TestSecondIncomingIsRejectedBusy(t *testing.T) {
	h := newHarness(t, calls.Options{})

	first := h.acct.Incoming("sip:bob@example.com")
	h.waitState(t, phone.CallIncoming)

	second := h.acct.Incoming("sip:carol@example.com")
	require.Eventually(t, func() bool {
		return len(second.HangupCodes()) == 1
	}, waitFor, tick)
	assert.Equal(t, []int{engine.StatusBusyHere}, second.HangupCodes())
	assert.Equal(t, 1, h.bridge.Count("incoming"))
	assert.Equal(t, 1, h.activeCount(t))

	id, ok, err := h.ctrl.ActiveIdentity(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID(), id.SignalingID)
}

func TestIncomingDuringOutgoingIsBusy(t *testing.T) {
	h := newHarness(t, calls.Options{})

	id, err := h.ctrl.PlaceCall(context.Background(), "1001")
	require.NoError(t, err)

	incoming := h.acct.Incoming("sip:bob@example.com")
	require.Eventually(t, func() bool {
		return len(incoming.HangupCodes()) == 1
	}, waitFor, tick)
	assert.Equal(t, []int{engine.StatusBusyHere}, incoming.HangupCodes())
	assert.Equal(t, 0, h.bridge.Count("incoming"))
	assert.Equal(t, 0, h.audio.Count("ringtone"))
	assert.Equal(t, 1, h.activeCount(t))

	active, ok, err := h.ctrl.ActiveIdentity(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, active)
}

func TestPlaceCallWhileIncomingRings(t *testing.T) {
	h := newHarness(t, calls.Options{})

	incoming := h.acct.Incoming("sip:bob@example.com")
	h.waitState(t, phone.CallIncoming)

	_, err := h.ctrl.PlaceCall(context.Background(), "1001")
	assert.ErrorIs(t, err, calls.ErrAlreadyInCall)
	assert.Equal(t, 0, h.ep.Rec.Count("call.make"))
	assert.Equal(t, 0, h.bridge.Count("start"))
	assert.Empty(t, incoming.HangupCodes())
	assert.Equal(t, 1, h.activeCount(t))
	h.waitState(t, phone.CallIncoming)
}

func TestConcurrentAdmissionKeepsOneCall(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t, calls.Options{})

		var (
			wg       sync.WaitGroup
			placeErr error
			incoming *enginetest.Call
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, placeErr = h.ctrl.PlaceCall(context.Background(), "1001")
		}()
		go func() {
			defer wg.Done()
			incoming = h.acct.Incoming("sip:bob@example.com")
		}()
		wg.Wait()

		if placeErr == nil {
			require.Eventually(t, func() bool {
				return len(incoming.HangupCodes()) == 1
			}, waitFor, tick, "iteration %d", i)
			assert.Equal(t, []int{engine.StatusBusyHere}, incoming.HangupCodes())
			assert.Equal(t, 0, h.bridge.Count("incoming"))
		} else {
			require.ErrorIs(t, placeErr, calls.ErrAlreadyInCall, "iteration %d", i)
			assert.Empty(t, incoming.HangupCodes())
			assert.Equal(t, 0, h.ep.Rec.Count("call.make"))
		}
		assert.Equal(t, 1, h.activeCount(t), "iteration %d", i)
		h.ctrl.Close()
	}
}

func TestIncomingWithoutCallUIIsRejected(t *testing.T) {
	h := newHarness(t, calls.Options{})
	h.bridge.DisplayErr = errors.New("call ui offline")

	call := h.acct.Incoming("sip:bob@example.com")
	require.Eventually(t, func() bool {
		return len(call.HangupCodes()) == 1
	}, waitFor, tick)
	assert.Equal(t, []int{engine.StatusBusyHere}, call.HangupCodes())
	h.waitIdle(t)
	assert.Equal(t, 0, h.bridge.Entries())
	assert.GreaterOrEqual(t, h.audio.Count("ringtone_stop"), 1)
	assert.False(t, call.HasListener())

	// A late disconnect for the rejected call changes nothing.
	call.Emit(engine.CallEvent{State: phone.CallDisconnected})
	_, err := h.ctrl.PlaceCall(context.Background(), "1001")
	require.NoError(t, err)
}

func TestDeclineIncoming(t *testing.T) {
	h := newHarness(t, calls.Options{})

	call := h.acct.Incoming("sip:bob@example.com")
	h.waitState(t, phone.CallIncoming)

	require.NoError(t, h.ctrl.Decline(context.Background()))
	require.Eventually(t, func() bool { return len(call.HangupCodes()) == 1 }, waitFor, tick)
	assert.Equal(t, []int{engine.StatusDecline}, call.HangupCodes())

	call.Emit(engine.CallEvent{State: phone.CallDisconnected})
	h.waitIdle(t)
	assert.Equal(t, 0, h.bridge.Entries())
}

func TestHangupWithoutCallIsNoop(t *testing.T) {
	h := newHarness(t, calls.Options{})
	require.NoError(t, h.ctrl.Hangup(context.Background(), ""))
	require.NoError(t, h.ctrl.Answer(context.Background()))
	assert.Equal(t, 0, h.ep.Rec.Count("call."))
}

func TestHangupFailureForcesCleanup(t *testing.T) {
	h := newHarness(t, calls.Options{})

	_, err := h.ctrl.PlaceCall(context.Background(), "1001")
	require.NoError(t, err)
	h.ep.HangupErr = errors.New("transport closed")

	require.NoError(t, h.ctrl.Hangup(context.Background(), ""))
	h.waitIdle(t)
	assert.Equal(t, 0, h.bridge.Entries())
}

func TestTerminatedCallStaysTerminated(t *testing.T) {
	h := newHarness(t, calls.Options{})

	call := h.acct.Incoming("sip:bob@example.com")
	h.waitState(t, phone.CallIncoming)
	call.Emit(engine.CallEvent{State: phone.CallDisconnected})
	h.waitIdle(t)
	assert.False(t, call.HasListener())

	// A late duplicate of the same dialog must not revive it.
	h.ctrl.HandleIncoming(call)
	assert.Never(t, func() bool { return h.activeCount(t) > 0 }, 50*time.Millisecond, tick)
	assert.Nil(t, h.state.Snapshot().ActiveCall)
	assert.Equal(t, 1, h.bridge.Count("incoming"))
	assert.Equal(t, 1, h.audio.Count("ringtone"))
}

func TestCleanupRunsOnce(t *testing.T) {
	h := newHarness(t, calls.Options{})

	_, err := h.ctrl.PlaceCall(context.Background(), "1001")
	require.NoError(t, err)
	call := h.acct.Calls()[0]

	call.Emit(engine.CallEvent{State: phone.CallDisconnected})
	h.waitIdle(t)
	stops := h.audio.Count("stop")

	h.ctrl.StopAll(context.Background())
	require.NoError(t, h.ctrl.Hangup(context.Background(), call.ID()))
	assert.Equal(t, stops, h.audio.Count("stop"))
	assert.Equal(t, 1, h.bridge.Count("end"))
}

func TestBridgeEndTerminatesCall(t *testing.T) {
	h := newHarness(t, calls.Options{})

	call := h.acct.Incoming("sip:bob@example.com")
	h.waitState(t, phone.CallIncoming)
	id, ok, err := h.ctrl.ActiveIdentity(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	h.bridge.Send(bridge.Event{Kind: bridge.EventEnd, UIID: id.UIID})
	require.Eventually(t, func() bool { return len(call.HangupCodes()) == 1 }, waitFor, tick)
	assert.Equal(t, []int{engine.StatusDecline}, call.HangupCodes())
	h.waitIdle(t)
}

func TestBridgeAnswer(t *testing.T) {
	h := newHarness(t, calls.Options{})

	call := h.acct.Incoming("sip:bob@example.com")
	h.waitState(t, phone.CallIncoming)
	id, _, err := h.ctrl.ActiveIdentity(context.Background())
	require.NoError(t, err)

	h.bridge.Send(bridge.Event{Kind: bridge.EventAnswer, UIID: id.UIID})
	require.Eventually(t, func() bool { return call.Answered() == 1 }, waitFor, tick)
}

func TestSpeakerToggleResetsOnCleanup(t *testing.T) {
	h := newHarness(t, calls.Options{})
	ctx := context.Background()

	_, err := h.ctrl.PlaceCall(ctx, "1001")
	require.NoError(t, err)

	on, err := h.ctrl.ToggleSpeaker(ctx)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, h.audio.Speaker())
	assert.True(t, h.state.Snapshot().SpeakerOn)

	h.acct.Calls()[0].Emit(engine.CallEvent{State: phone.CallDisconnected})
	h.waitIdle(t)
	assert.False(t, h.audio.Speaker())
	assert.False(t, h.state.Snapshot().SpeakerOn)
}

func TestStopAllEndsActiveCall(t *testing.T) {
	h := newHarness(t, calls.Options{})

	call := h.acct.Incoming("sip:bob@example.com")
	h.waitState(t, phone.CallIncoming)

	h.ctrl.StopAll(context.Background())
	assert.Equal(t, 0, h.activeCount(t))
	assert.Equal(t, []int{engine.StatusNormal}, call.HangupCodes())
	assert.False(t, call.HasListener())
}
