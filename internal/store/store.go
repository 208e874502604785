// Package store persists the SIP config and the contact list.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dense-identity/softphone/internal/phone"
)

var ErrNotFound = errors.New("not found")

// Store is the durable config and contact storage.
type Store interface {
	// Load returns ErrNotFound when no config is stored.
	Load(ctx context.Context) (phone.SipConfig, error)
	Save(ctx context.Context, cfg phone.SipConfig) error
	Clear(ctx context.Context) error

	LoadContacts(ctx context.Context) ([]phone.Contact, error)
	AddContact(ctx context.Context, name, number string) (phone.Contact, error)
	// RemoveContact returns ErrNotFound for an unknown id.
	RemoveContact(ctx context.Context, id string) error

	Close() error
}

// newContact validates and assigns an id.
func newContact(name, number string) (phone.Contact, error) {
	if err := phone.ValidateContact(name, number); err != nil {
		return phone.Contact{}, err
	}
	return phone.Contact{ID: uuid.NewString(), Name: name, Number: number}, nil
}

func removeByID(contacts []phone.Contact, id string) ([]phone.Contact, bool) {
	for i, c := range contacts {
		if c.ID == id {
			return append(contacts[:i:i], contacts[i+1:]...), true
		}
	}
	return contacts, false
}

// opTimeout bounds a single backend round trip when the caller has no deadline.
const opTimeout = 5 * time.Second

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, opTimeout)
}

// LoadValid loads the stored config. A stored config that no longer passes
// validation is deleted and reported as absent.
func LoadValid(ctx context.Context, s Store) (phone.SipConfig, bool, error) {
	cfg, err := s.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return phone.SipConfig{}, false, nil
	}
	if err != nil {
		return phone.SipConfig{}, false, err
	}
	if verr := cfg.Validate(); verr != nil {
		if err := s.Clear(ctx); err != nil {
			return phone.SipConfig{}, false, fmt.Errorf("removing invalid config: %w", err)
		}
		return phone.SipConfig{}, false, &InvalidStoredError{Err: verr}
	}
	return cfg, true, nil
}

// InvalidStoredError reports that a stored config was discarded.
type InvalidStoredError struct {
	Err error
}

func (e *InvalidStoredError) Error() string {
	return "stored sip config was invalid and has been removed: " + e.Err.Error()
}

func (e *InvalidStoredError) Unwrap() error { return e.Err }
