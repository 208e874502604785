package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dense-identity/softphone/internal/bridge"
	"github.com/dense-identity/softphone/internal/config"
	"github.com/dense-identity/softphone/internal/health"
	"github.com/dense-identity/softphone/internal/httpapi"
	"github.com/dense-identity/softphone/internal/logger"
	"github.com/dense-identity/softphone/internal/phone"
	"github.com/dense-identity/softphone/internal/softphone"
	"github.com/dense-identity/softphone/internal/store"
)

func main() {
	cmd := &cli.Command{
		Name:        "softphone",
		Usage:       "SIP softphone driving a baresip engine",
		Description: "Registers one SIP account, keeps a single call and exposes a local HTTP API and console.",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the softphone",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-console",
						Usage: "do not read commands from stdin",
					},
				},
				Action: runPhone,
			},
			{
				Name:  "config",
				Usage: "manage the stored SIP account; a running softphone picks changes up on restart or through the HTTP API",
				Commands: []*cli.Command{
					{
						Name:  "set",
						Usage: "validate and store SIP credentials",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "server", Required: true},
							&cli.StringFlag{Name: "username", Required: true},
							&cli.StringFlag{Name: "password", Required: true, Sources: cli.EnvVars("SIP_PASSWORD")},
						},
						Action: configSet,
					},
					{Name: "show", Usage: "print the stored config", Action: configShow},
					{Name: "clear", Usage: "remove the stored config", Action: configClear},
				},
			},
			{
				Name:  "contacts",
				Usage: "manage the contact list",
				Commands: []*cli.Command{
					{Name: "list", Action: contactsList},
					{
						Name:  "add",
						Usage: "add a contact",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Required: true},
							&cli.StringFlag{Name: "number", Required: true},
						},
						Action: contactsAdd,
					},
					{Name: "rm", Usage: "rm <id>", Action: contactsRemove},
				},
			},
		},
		DefaultCommand: "run",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.App, *logrus.Entry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	l, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logrus.NewEntry(l), nil
}

func runPhone(ctx context.Context, c *cli.Command) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := bridge.NewConsole(os.Stdout)
	p, err := softphone.Build(ctx, cfg, ui, log)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		_ = p.Close(context.Background())
		return err
	}

	log.WithFields(logrus.Fields{
		"baresip": cfg.BaresipAddr,
		"store":   cfg.StoreBackend,
		"http":    cfg.HTTPAddr,
		"health":  cfg.HealthAddr,
	}).Info("softphone started")

	g, gctx := errgroup.WithContext(ctx)
	if cfg.HTTPAddr != "" {
		h := httpapi.Handlers{Phone: p, Metrics: p.Metrics().Handler(), Log: log.WithField("component", "http")}
		g.Go(func() error { return httpapi.Serve(gctx, cfg.HTTPAddr, h.Router(), log) })
	}
	if cfg.HealthAddr != "" {
		g.Go(func() error { return health.Serve(gctx, cfg.HealthAddr, p.State(), log) })
	}
	if !c.Bool("no-console") {
		go commandLoop(ctx, os.Stdin, os.Stdout, p, ui, stop)
	}

	<-gctx.Done()
	stop()
	serveErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := p.Close(closeCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
	log.Info("softphone stopped")
	return serveErr
}

func withStore(ctx context.Context, fn func(store.Store) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	s, err := softphone.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func configSet(ctx context.Context, c *cli.Command) error {
	sc := phone.SipConfig{
		Server:   c.String("server"),
		Username: c.String("username"),
		Password: c.String("password"),
	}
	return withStore(ctx, func(s store.Store) error {
		if err := s.Save(ctx, sc); err != nil {
			return err
		}
		fmt.Printf("saved %s\n", sc.AccountURI())
		return nil
	})
}

func configShow(ctx context.Context, _ *cli.Command) error {
	return withStore(ctx, func(s store.Store) error {
		sc, err := s.Load(ctx)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Println("no sip config stored")
			return nil
		}
		if err != nil {
			return err
		}
		r := sc.Redacted()
		fmt.Printf("server:   %s\nusername: %s\npassword: %s\n", r.Server, r.Username, r.Password)
		if err := sc.Validate(); err != nil {
			fmt.Printf("warning: %v\n", err)
		}
		return nil
	})
}

func configClear(ctx context.Context, _ *cli.Command) error {
	return withStore(ctx, func(s store.Store) error {
		return s.Clear(ctx)
	})
}

func contactsList(ctx context.Context, _ *cli.Command) error {
	return withStore(ctx, func(s store.Store) error {
		contacts, err := s.LoadContacts(ctx)
		if err != nil {
			return err
		}
		printContacts(os.Stdout, contacts)
		return nil
	})
}

func contactsAdd(ctx context.Context, c *cli.Command) error {
	return withStore(ctx, func(s store.Store) error {
		contact, err := s.AddContact(ctx, c.String("name"), c.String("number"))
		if err != nil {
			return err
		}
		fmt.Printf("added %s (%s)\n", contact.Name, contact.ID)
		return nil
	})
}

func contactsRemove(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return errors.New("usage: contacts rm <id>")
	}
	return withStore(ctx, func(s store.Store) error {
		return s.RemoveContact(ctx, c.Args().First())
	})
}
