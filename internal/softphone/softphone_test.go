package softphone_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dense-identity/softphone/internal/audio/audiotest"
	"github.com/dense-identity/softphone/internal/bridge/bridgetest"
	"github.com/dense-identity/softphone/internal/engine"
	"github.com/dense-identity/softphone/internal/engine/enginetest"
	"github.com/dense-identity/softphone/internal/logger"
	"github.com/dense-identity/softphone/internal/phone"
	"github.com/dense-identity/softphone/internal/softphone"
	"github.com/dense-identity/softphone/internal/store"
)

var cfg = phone.SipConfig{Server: "pbx.example.com", Username: "1001", Password: "secret"}

type fixture struct {
	dir    string
	store  *store.FileStore
	ep     *enginetest.Endpoint
	bridge *bridgetest.Bridge
	phone  *softphone.Phone
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir)
	require.NoError(t, err)
	return &fixture{dir: dir, store: fs, ep: enginetest.NewEndpoint(), bridge: bridgetest.New()}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	p, err := softphone.New(softphone.Deps{
		Store:    f.store,
		Endpoint: f.ep,
		Bridge:   f.bridge,
		Audio:    audiotest.New(),
	}, softphone.Options{Transport: "udp", RegInterval: 600, StepTimeout: time.Second}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	require.NoError(t, p.Start(context.Background()))
	f.phone = p
}

func (f *fixture) register(t *testing.T) {
	t.Helper()
	acct := f.ep.LastAccount()
	require.NotNil(t, acct)
	acct.EmitReg(engine.RegistrationEvent{State: engine.RegRegistered, Code: 200})
	require.Eventually(t, func() bool {
		return f.phone.Snapshot().Status == phone.StatusRegistered
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartWithoutConfig(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	snap := f.phone.Snapshot()
	assert.False(t, snap.ConfigPresent)
	assert.Equal(t, phone.StatusDisconnected, snap.Status)
	assert.Empty(t, f.ep.Rec.Ops())
}

func TestStartRestoresStoredConfig(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Save(context.Background(), cfg))
	f.start(t)

	snap := f.phone.Snapshot()
	assert.True(t, snap.ConfigPresent)
	assert.Equal(t, phone.StatusConnecting, snap.Status)
	assert.Equal(t, 1, f.ep.Rec.Count("account.register sip:1001@pbx.example.com"))
}

func TestStartDiscardsInvalidStoredConfig(t *testing.T) {
	f := newFixture(t)
	bad := []byte(`{"server":"pbx.example.com","username":"1001","password":""}`)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "sip_config.json"), bad, 0o600))
	f.start(t)

	_, err := f.store.Load(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
	snap := f.phone.Snapshot()
	assert.False(t, snap.ConfigPresent)
	assert.Contains(t, snap.Diagnostic, "invalid")
	assert.Empty(t, f.ep.Rec.Ops())
}

func TestSetConfigPersistsAndRegisters(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	bad := cfg
	bad.Server = "not a host"
	var verr *phone.ValidationError
	require.ErrorAs(t, f.phone.SetConfig(ctx, bad), &verr)
	assert.Contains(t, verr.Fields, "server")

	require.NoError(t, f.phone.SetConfig(ctx, cfg))
	stored, ok, err := f.phone.Config(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cfg, stored)
	assert.True(t, f.phone.Snapshot().ConfigPresent)

	f.register(t)
}

func TestPlaceCallRequiresRegistration(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	_, err := f.phone.PlaceCall(ctx, "2002")
	assert.ErrorIs(t, err, softphone.ErrNotRegistered)

	require.NoError(t, f.phone.SetConfig(ctx, cfg))
	_, err = f.phone.PlaceCall(ctx, "2002")
	assert.ErrorIs(t, err, softphone.ErrNotRegistered, "connecting is not enough")
	assert.Equal(t, 0, f.ep.Rec.Count("call.make"))
}

func TestCallFlowThroughPhone(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	require.NoError(t, f.phone.SetConfig(ctx, cfg))
	f.register(t)

	id, err := f.phone.PlaceCall(ctx, "2002")
	require.NoError(t, err)
	assert.Equal(t, 1, f.ep.Rec.Count("call.make sip:2002@pbx.example.com"))

	call := f.ep.LastAccount().Calls()[0]
	call.Emit(engine.CallEvent{State: phone.CallConfirmed})
	require.Eventually(t, func() bool {
		c := f.phone.Snapshot().ActiveCall
		return c != nil && c.State == phone.CallConfirmed
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.phone.Hangup(ctx, id.SignalingID))
	require.Eventually(t, func() bool { return len(call.HangupCodes()) == 1 }, 2*time.Second, 5*time.Millisecond)
	call.Emit(engine.CallEvent{State: phone.CallDisconnected})
	require.Eventually(t, func() bool {
		return f.phone.Snapshot().ActiveCall == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestIncomingCallReachesUI(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	require.NoError(t, f.phone.SetConfig(context.Background(), cfg))
	f.register(t)

	f.ep.LastAccount().Incoming("sip:2002@pbx.example.com")
	require.Eventually(t, func() bool { return f.bridge.Count("incoming") == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, phone.CallIncoming, f.phone.Snapshot().ActiveCall.State)
}

func TestCallContact(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	require.NoError(t, f.phone.SetConfig(ctx, cfg))
	f.register(t)

	_, err := f.phone.CallContact(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	c, err := f.phone.AddContact(ctx, "Bob", "3003")
	require.NoError(t, err)
	contacts, err := f.phone.Contacts(ctx)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)

	_, err = f.phone.CallContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.ep.Rec.Count("call.make sip:3003@pbx.example.com"))

	require.NoError(t, f.phone.RemoveContact(ctx, c.ID))
	assert.ErrorIs(t, f.phone.RemoveContact(ctx, c.ID), store.ErrNotFound)
}

func TestClearConfigTearsDown(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	require.NoError(t, f.phone.SetConfig(ctx, cfg))
	f.register(t)

	require.NoError(t, f.phone.ClearConfig(ctx))
	snap := f.phone.Snapshot()
	assert.False(t, snap.ConfigPresent)
	assert.Equal(t, phone.StatusDisconnected, snap.Status)
	assert.True(t, f.ep.LastAccount().Released())

	_, ok, err := f.phone.Config(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
