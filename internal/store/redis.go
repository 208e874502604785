package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dense-identity/softphone/internal/phone"
)

// RedisOptions selects the server and key namespace.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps the same JSON documents as FileStore under prefixed keys.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions, log *logrus.Entry) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.WithField("addr", opts.Addr).Info("connected to redis")

	return &RedisStore{client: rdb, prefix: strings.TrimSuffix(opts.Prefix, ":")}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + ":" + name
}

func (s *RedisStore) Load(ctx context.Context) (phone.SipConfig, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, s.key("sip_config")).Bytes()
	if errors.Is(err, redis.Nil) {
		return phone.SipConfig{}, ErrNotFound
	}
	if err != nil {
		return phone.SipConfig{}, fmt.Errorf("loading sip config: %w", err)
	}
	var cfg phone.SipConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return phone.SipConfig{}, fmt.Errorf("decoding sip config: %w", err)
	}
	return cfg, nil
}

func (s *RedisStore) Save(ctx context.Context, cfg phone.SipConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding sip config: %w", err)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := s.client.Set(ctx, s.key("sip_config"), data, 0).Err(); err != nil {
		return fmt.Errorf("saving sip config: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := s.client.Del(ctx, s.key("sip_config")).Err(); err != nil {
		return fmt.Errorf("clearing sip config: %w", err)
	}
	return nil
}

func decodeContacts(data []byte) ([]phone.Contact, error) {
	contacts := []phone.Contact{}
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, fmt.Errorf("decoding contacts: %w", err)
	}
	if contacts == nil {
		contacts = []phone.Contact{}
	}
	return contacts, nil
}

func (s *RedisStore) LoadContacts(ctx context.Context) ([]phone.Contact, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, s.key("contacts")).Bytes()
	if errors.Is(err, redis.Nil) {
		return []phone.Contact{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading contacts: %w", err)
	}
	return decodeContacts(data)
}

// updateContacts runs fn inside a WATCH transaction so concurrent writers
// never lose each other's edits.
func (s *RedisStore) updateContacts(ctx context.Context, fn func([]phone.Contact) ([]phone.Contact, error)) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	key := s.key("contacts")
	txf := func(tx *redis.Tx) error {
		contacts := []phone.Contact{}
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if contacts, err = decodeContacts(data); err != nil {
				return err
			}
		}

		next, err := fn(contacts)
		if err != nil {
			return err
		}
		out, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for range 3 {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("updating contacts: %w", redis.TxFailedErr)
}

func (s *RedisStore) AddContact(ctx context.Context, name, number string) (phone.Contact, error) {
	c, err := newContact(name, number)
	if err != nil {
		return phone.Contact{}, err
	}
	err = s.updateContacts(ctx, func(contacts []phone.Contact) ([]phone.Contact, error) {
		return append(contacts, c), nil
	})
	if err != nil {
		return phone.Contact{}, err
	}
	return c, nil
}

func (s *RedisStore) RemoveContact(ctx context.Context, id string) error {
	return s.updateContacts(ctx, func(contacts []phone.Contact) ([]phone.Contact, error) {
		next, ok := removeByID(contacts, id)
		if !ok {
			return nil, fmt.Errorf("contact %s: %w", id, ErrNotFound)
		}
		return next, nil
	})
}
