// Package state holds the process wide view the UI renders from.
package state

import (
	"sync"
	"time"

	"github.com/dense-identity/softphone/internal/phone"
)

// Snapshot is an immutable copy of the observable state.
type Snapshot struct {
	Status        phone.ConnectionStatus `json:"-"`
	StatusName    string                 `json:"status"`
	StatusText    string                 `json:"status_text"`
	Severity      phone.Severity         `json:"severity"`
	ActiveCall    *phone.CallInfo        `json:"active_call"`
	SpeakerOn     bool                   `json:"speaker_on"`
	Diagnostic    string                 `json:"diagnostic,omitempty"`
	ConfigPresent bool                   `json:"config_present"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Store is read by many and written by the session manager (status,
// diagnostic) and the call controller (active call, speaker).
type Store struct {
	locale phone.Locale
	now    func() time.Time

	mu   sync.RWMutex
	snap Snapshot
	subs map[int]chan Snapshot
	next int
}

func New(locale phone.Locale) *Store {
	s := &Store{
		locale: locale,
		now:    time.Now,
		subs:   make(map[int]chan Snapshot),
	}
	s.snap = s.decorate(Snapshot{Status: phone.StatusDisconnected})
	return s
}

// Locale is the language labels are rendered in.
func (s *Store) Locale() phone.Locale {
	return s.locale
}

func (s *Store) decorate(snap Snapshot) Snapshot {
	snap.StatusName = snap.Status.String()
	snap.StatusText = s.locale.StatusText(snap.Status)
	snap.Severity = snap.Status.Severity()
	snap.UpdatedAt = s.now()
	return snap
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySnap(s.snap)
}

func copySnap(snap Snapshot) Snapshot {
	if snap.ActiveCall != nil {
		ci := *snap.ActiveCall
		snap.ActiveCall = &ci
	}
	return snap
}

// Subscribe returns a channel that always converges on the newest
// snapshot. Intermediate snapshots may be skipped by slow readers.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	ch <- copySnap(s.snap)
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// update applies fn under the write lock and fans out the result.
func (s *Store) update(fn func(*Snapshot) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := copySnap(s.snap)
	if !fn(&next) {
		return
	}
	s.snap = s.decorate(next)
	for _, ch := range s.subs {
		publish(ch, copySnap(s.snap))
	}
}

// publish replaces whatever the reader has not consumed yet.
func publish(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// SetConnectionStatus records a registration transition. A non-empty
// diagnostic replaces the current one; moving to a healthy state clears it.
func (s *Store) SetConnectionStatus(status phone.ConnectionStatus, diagnostic string) {
	s.update(func(snap *Snapshot) bool {
		if snap.Status == status && snap.Diagnostic == diagnostic {
			return false
		}
		snap.Status = status
		if diagnostic != "" || status != phone.StatusError {
			snap.Diagnostic = diagnostic
		}
		return true
	})
}

// SetDiagnostic surfaces a message without touching the status.
func (s *Store) SetDiagnostic(msg string) {
	s.update(func(snap *Snapshot) bool {
		if snap.Diagnostic == msg {
			return false
		}
		snap.Diagnostic = msg
		return true
	})
}

// SetConfigPresent records whether a SIP config is stored.
func (s *Store) SetConfigPresent(present bool) {
	s.update(func(snap *Snapshot) bool {
		if snap.ConfigPresent == present {
			return false
		}
		snap.ConfigPresent = present
		return true
	})
}

// SetActiveCall publishes info as the active call.
func (s *Store) SetActiveCall(info phone.CallInfo) {
	s.update(func(snap *Snapshot) bool {
		snap.ActiveCall = &info
		return true
	})
}

// ClearActiveCallIf clears the active call only when it belongs to id.
func (s *Store) ClearActiveCallIf(id string) bool {
	cleared := false
	s.update(func(snap *Snapshot) bool {
		if snap.ActiveCall == nil || snap.ActiveCall.ID != id {
			return false
		}
		snap.ActiveCall = nil
		cleared = true
		return true
	})
	return cleared
}

// SetSpeaker records the speaker toggle.
func (s *Store) SetSpeaker(on bool) {
	s.update(func(snap *Snapshot) bool {
		if snap.SpeakerOn == on {
			return false
		}
		snap.SpeakerOn = on
		return true
	})
}
