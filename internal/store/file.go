package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dense-identity/softphone/internal/phone"
)

const (
	configFile   = "sip_config.json"
	contactsFile = "contacts.json"
)

// FileStore keeps one JSON document per key in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating store dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *FileStore) read(name string, v any) error {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

// write replaces the file atomically via a temp file and rename.
func (s *FileStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Load(context.Context) (phone.SipConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cfg phone.SipConfig
	if err := s.read(configFile, &cfg); err != nil {
		return phone.SipConfig{}, err
	}
	return cfg, nil
}

func (s *FileStore) Save(_ context.Context, cfg phone.SipConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(configFile, cfg)
}

func (s *FileStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(configFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", configFile, err)
	}
	return nil
}

func (s *FileStore) loadContacts() ([]phone.Contact, error) {
	var contacts []phone.Contact
	err := s.read(contactsFile, &contacts)
	if errors.Is(err, ErrNotFound) {
		return []phone.Contact{}, nil
	}
	if contacts == nil {
		contacts = []phone.Contact{}
	}
	return contacts, err
}

func (s *FileStore) LoadContacts(context.Context) ([]phone.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadContacts()
}

func (s *FileStore) AddContact(_ context.Context, name, number string) (phone.Contact, error) {
	c, err := newContact(name, number)
	if err != nil {
		return phone.Contact{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	contacts, err := s.loadContacts()
	if err != nil {
		return phone.Contact{}, err
	}
	if err := s.write(contactsFile, append(contacts, c)); err != nil {
		return phone.Contact{}, err
	}
	return c, nil
}

func (s *FileStore) RemoveContact(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts, err := s.loadContacts()
	if err != nil {
		return err
	}
	contacts, ok := removeByID(contacts, id)
	if !ok {
		return fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	return s.write(contactsFile, contacts)
}
