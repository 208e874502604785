package calls

import (
	"context"
	"errors"
	"time"

	"github.com/dense-identity/softphone/internal/bridge"
	"github.com/dense-identity/softphone/internal/engine"
	"github.com/dense-identity/softphone/internal/metrics"
	"github.com/dense-identity/softphone/internal/phone"
)

func (c *Controller) handleMsg(m callMsg) {
	switch m.kind {
	case msgIncoming:
		c.handleIncoming(m.call)
	case msgState:
		c.handleState(m.call, m.ev)
	case msgTerminateFailed:
		_, e, ok := c.ids.BySignaling(m.call.ID())
		if !ok {
			return
		}
		c.entryLog(e).WithError(m.err).Warn("engine hangup failed, cleaning up locally")
		ctx, cancel := c.opCtx()
		defer cancel()
		c.cleanup(ctx, e, "hangup failed")
	}
}

func (c *Controller) handleState(call engine.Call, ev engine.CallEvent) {
	if _, seen := c.terminated.Get(call.ID()); seen {
		return
	}
	_, e, ok := c.ids.BySignaling(call.ID())
	if !ok {
		c.log.WithField("call_id", call.ID()).Debug("state for unknown call")
		return
	}
	log := c.entryLog(e).WithField("state", ev.State)

	ctx, cancel := c.opCtx()
	defer cancel()

	if ev.State == phone.CallDisconnected {
		log.WithField("code", ev.Code).WithField("reason", ev.Reason).Info("call disconnected")
		c.cleanup(ctx, e, ev.Reason)
		return
	}

	changed, err := advance(e.machine, ev.State)
	if err != nil {
		log.WithError(err).Debug("ignoring out of order call state")
		return
	}
	if !changed {
		return
	}
	if e.ringback {
		e.ringback = false
		c.stopRingtone(ctx)
	}

	e.info = e.info.WithState(ev.State, c.state.Locale())
	c.state.SetActiveCall(e.info)
	log.Info("call state")

	if ev.State == phone.CallConfirmed {
		c.confirmed(ctx, e)
	}
}

// confirmed runs once, on the first transition into Confirmed.
func (c *Controller) confirmed(ctx context.Context, e *callEntry) {
	if e.audioOn {
		return
	}
	e.audioOn = true
	e.answerAt = time.Now()
	c.stopRingtone(ctx)
	if err := c.audio.StartCallAudio(ctx); err != nil {
		c.entryLog(e).WithError(err).Error("starting call audio")
	}
	if e.dir == phone.DirectionOutgoing && e.uiShown {
		if err := c.bridge.ReportOutgoingConnected(ctx, e.id.UIID); err != nil {
			c.entryLog(e).WithError(err).Warn("call ui connected report failed")
		}
	}
}

func (c *Controller) handleBridgeEvent(ev bridge.Event) {
	_, e, ok := c.ids.ByUI(ev.UIID)
	if !ok {
		c.log.WithField("ui_id", ev.UIID).WithField("kind", ev.Kind).Debug("call ui event for unknown call")
		return
	}
	ctx, cancel := c.opCtx()
	defer cancel()

	switch ev.Kind {
	case bridge.EventAnswer:
		_ = c.answer(ctx, e)

	case bridge.EventEnd:
		// The UI already dropped its entry.
		e.uiShown = false
		code := engine.StatusNormal
		if e.dir == phone.DirectionIncoming && !e.audioOn {
			code = engine.StatusDecline
		}
		c.stopRingtone(ctx)
		c.terminate(e, code)
		c.cleanup(ctx, e, "ended from call ui")
	}
}

// cleanup releases everything tied to e. Calling it twice is harmless.
func (c *Controller) cleanup(ctx context.Context, e *callEntry, reason string) {
	if !c.ids.Remove(e.id.SignalingID) {
		return
	}
	log := c.entryLog(e).WithField("reason", reason)

	if e.uiShown {
		e.uiShown = false
		if err := c.bridge.End(ctx, e.id.UIID); err != nil && !errors.Is(err, bridge.ErrUnknownCall) {
			log.WithError(err).Warn("ending call ui entry")
		}
	}
	e.call.RemoveListeners()
	_, _ = advance(e.machine, phone.CallDisconnected)
	c.state.ClearActiveCallIf(e.id.SignalingID)

	c.stopRingtone(ctx)
	if err := c.audio.Stop(ctx); err != nil {
		log.WithError(err).Warn("stopping call audio")
	}
	if c.speaker {
		c.speaker = false
		if err := c.audio.SetSpeaker(ctx, false); err != nil {
			log.WithError(err).Warn("resetting speaker")
		}
	}
	c.state.SetSpeaker(false)
	c.terminated.Add(e.id.SignalingID, struct{}{})

	var talked time.Duration
	outcome := metrics.OutcomeUnanswered
	switch {
	case !e.answerAt.IsZero():
		outcome = metrics.OutcomeAnswered
		talked = time.Since(e.answerAt)
	case e.dir == phone.DirectionIncoming:
		outcome = metrics.OutcomeMissed
	}
	c.metrics.CallEnded(e.dir, outcome, talked)
	c.metrics.SetActiveCalls(c.ids.Len())
	log.WithField("outcome", outcome).Info("call cleaned up")
}
