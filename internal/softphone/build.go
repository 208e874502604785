package softphone

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dense-identity/softphone/internal/audio"
	"github.com/dense-identity/softphone/internal/baresip"
	"github.com/dense-identity/softphone/internal/bridge"
	"github.com/dense-identity/softphone/internal/calls"
	"github.com/dense-identity/softphone/internal/config"
	"github.com/dense-identity/softphone/internal/metrics"
	"github.com/dense-identity/softphone/internal/phone"
	"github.com/dense-identity/softphone/internal/store"
)

// OpenStore opens the backend selected by cfg.
func OpenStore(ctx context.Context, cfg *config.App, log *logrus.Entry) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		return store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUser,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}, log)
	case config.StoreFile:
		return store.NewFileStore(cfg.StoreDir)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Build assembles a Phone backed by baresip and the configured store.
// ui receives call UI entries.
func Build(ctx context.Context, cfg *config.App, ui bridge.Bridge, log *logrus.Entry) (*Phone, error) {
	st, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	ep := baresip.NewEndpoint(baresip.Options{
		Addr:        cfg.BaresipAddr,
		CmdTimeout:  cfg.BaresipTimeout,
		DialTimeout: cfg.DialTimeout,
	}, log)

	p, err := New(Deps{
		Store:    st,
		Endpoint: ep,
		Bridge:   ui,
		Audio:    audio.NewRouter(ep, cfg.SpeakerDevice, cfg.EarpieceDevice, log),
		Metrics:  metrics.New(),
	}, Options{
		Locale:      phone.Locale(cfg.Locale),
		Transport:   cfg.SipTransport,
		RegInterval: cfg.RegInterval,
		Calls: calls.Options{
			OutboundRingback: cfg.OutboundRingback,
			TerminatedMemory: cfg.TerminatedCallMemory,
		},
	}, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return p, nil
}
