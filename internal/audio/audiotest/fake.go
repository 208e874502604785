// Package audiotest provides a recording audio session for tests.
package audiotest

import (
	"context"
	"sync"

	"github.com/dense-identity/softphone/internal/audio"
)

// Session counts every call.
type Session struct {
	mu     sync.Mutex
	counts map[string]int
	spkr   bool
}

var _ audio.Session = (*Session)(nil)

func New() *Session {
	return &Session{counts: make(map[string]int)}
}

func (s *Session) inc(op string) {
	s.mu.Lock()
	s.counts[op]++
	s.mu.Unlock()
}

func (s *Session) StartCallAudio(context.Context) error { s.inc("start"); return nil }
func (s *Session) Stop(context.Context) error           { s.inc("stop"); return nil }
func (s *Session) StartRingtone(context.Context) error  { s.inc("ringtone"); return nil }
func (s *Session) StopRingtone(context.Context) error   { s.inc("ringtone_stop"); return nil }

func (s *Session) SetSpeaker(_ context.Context, on bool) error {
	s.mu.Lock()
	s.counts["speaker"]++
	s.spkr = on
	s.mu.Unlock()
	return nil
}

// Count returns how often op was invoked: start, stop, ringtone,
// ringtone_stop or speaker.
func (s *Session) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[op]
}

// Speaker returns the last value passed to SetSpeaker.
func (s *Session) Speaker() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spkr
}
