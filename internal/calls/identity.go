package calls

import (
	"errors"

	"github.com/dense-identity/softphone/internal/phone"
)

var ErrDuplicateIdentity = errors.New("call identity already mapped")

// IdentityMap associates engine call ids with native UI ids. Inserts and
// removals touch both directions at once, so the two indexes cannot drift.
// It is not safe for concurrent use; the controller loop owns it.
type IdentityMap[V any] struct {
	bySignaling map[string]*mapped[V]
	byUI        map[string]*mapped[V]
}

type mapped[V any] struct {
	id    phone.CallIdentity
	value V
}

func NewIdentityMap[V any]() *IdentityMap[V] {
	return &IdentityMap[V]{
		bySignaling: make(map[string]*mapped[V]),
		byUI:        make(map[string]*mapped[V]),
	}
}

// Insert adds the pair, failing if either id is already present.
func (m *IdentityMap[V]) Insert(id phone.CallIdentity, v V) error {
	if id.SignalingID == "" || id.UIID == "" {
		return errors.New("call identity needs both ids")
	}
	if _, ok := m.bySignaling[id.SignalingID]; ok {
		return ErrDuplicateIdentity
	}
	if _, ok := m.byUI[id.UIID]; ok {
		return ErrDuplicateIdentity
	}
	e := &mapped[V]{id: id, value: v}
	m.bySignaling[id.SignalingID] = e
	m.byUI[id.UIID] = e
	return nil
}

// Remove deletes the pair containing signalingID. It reports whether
// anything was removed.
func (m *IdentityMap[V]) Remove(signalingID string) bool {
	e, ok := m.bySignaling[signalingID]
	if !ok {
		return false
	}
	delete(m.bySignaling, e.id.SignalingID)
	delete(m.byUI, e.id.UIID)
	return true
}

func (m *IdentityMap[V]) BySignaling(id string) (phone.CallIdentity, V, bool) {
	return lookup(m.bySignaling, id)
}

func (m *IdentityMap[V]) ByUI(id string) (phone.CallIdentity, V, bool) {
	return lookup(m.byUI, id)
}

func lookup[V any](idx map[string]*mapped[V], key string) (phone.CallIdentity, V, bool) {
	e, ok := idx[key]
	if !ok {
		var zero V
		return phone.CallIdentity{}, zero, false
	}
	return e.id, e.value, true
}

func (m *IdentityMap[V]) Len() int {
	return len(m.bySignaling)
}

// Current returns an entry when exactly one exists.
func (m *IdentityMap[V]) Current() (phone.CallIdentity, V, bool) {
	if len(m.bySignaling) != 1 {
		var zero V
		return phone.CallIdentity{}, zero, false
	}
	for _, e := range m.bySignaling {
		return e.id, e.value, true
	}
	panic("unreachable")
}

// Values returns every mapped value.
func (m *IdentityMap[V]) Values() []V {
	out := make([]V, 0, len(m.bySignaling))
	for _, e := range m.bySignaling {
		out = append(out, e.value)
	}
	return out
}
