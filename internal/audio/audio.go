// Package audio routes call audio between earpiece and speaker.
package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Session is the audio collaborator used by the call controller.
type Session interface {
	StartCallAudio(ctx context.Context) error
	Stop(ctx context.Context) error
	SetSpeaker(ctx context.Context, on bool) error
	StartRingtone(ctx context.Context) error
	StopRingtone(ctx context.Context) error
}

// Commander runs a control command on the media engine.
type Commander interface {
	Command(ctx context.Context, cmd, params string) error
}

// Router switches the engine's audio player device when the speaker is
// toggled during a call. Without configured devices it only tracks state.
type Router struct {
	cmd      Commander
	speaker  string
	earpiece string
	log      *logrus.Entry

	mu      sync.Mutex
	active  bool
	ringing bool
	onSpkr  bool
}

var _ Session = (*Router)(nil)

func NewRouter(cmd Commander, speakerDevice, earpieceDevice string, log *logrus.Entry) *Router {
	return &Router{
		cmd:      cmd,
		speaker:  speakerDevice,
		earpiece: earpieceDevice,
		log:      log.WithField("component", "audio"),
	}
}

func (r *Router) device(speaker bool) string {
	if speaker {
		return r.speaker
	}
	return r.earpiece
}

// route switches the player; callers hold mu.
func (r *Router) route(ctx context.Context, speaker bool) error {
	dev := r.device(speaker)
	if dev == "" || r.cmd == nil {
		return nil
	}
	if err := r.cmd.Command(ctx, "auplay", dev); err != nil {
		return fmt.Errorf("switching audio to %s: %w", dev, err)
	}
	return nil
}

func (r *Router) StartCallAudio(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil
	}
	r.active = true
	r.ringing = false
	r.log.WithField("speaker", r.onSpkr).Info("call audio started")
	return r.route(ctx, r.onSpkr)
}

func (r *Router) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active || r.ringing {
		r.log.Info("audio stopped")
	}
	r.active = false
	r.ringing = false
	return nil
}

func (r *Router) SetSpeaker(ctx context.Context, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onSpkr == on {
		return nil
	}
	r.onSpkr = on
	if !r.active {
		return nil
	}
	return r.route(ctx, on)
}

func (r *Router) StartRingtone(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ringing {
		r.ringing = true
		r.log.Debug("ringtone started")
	}
	return nil
}

func (r *Router) StopRingtone(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ringing {
		r.ringing = false
		r.log.Debug("ringtone stopped")
	}
	return nil
}

// State reports whether call audio is active, a tone is playing and the
// speaker is selected.
func (r *Router) State() (active, ringing, speaker bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.ringing, r.onSpkr
}
