// Package chat assembles the client-side message pipeline: the local store,
// the backend client, the query cache, the notification bus and the
// operations façade on top of them.
package chat

import (
	"errors"
	"fmt"

	"actionit/backend/ai"
	"actionit/backend/chat/apiclient"
	"actionit/backend/chat/notify"
	"actionit/backend/chat/operations"
	"actionit/backend/chat/querycache"
	"actionit/backend/chat/store"
	"actionit/backend/pkg/config"
	"actionit/backend/pkg/jwt"
	"actionit/backend/pkg/logger"
)

type App struct {
	Config    *config.Config
	Client    *apiclient.Client
	Cache     *querycache.Cache
	Bus       *notify.Bus
	Store     *store.Store
	Ops       *operations.Operations
	Assistant *ai.Assistant

	log          *logger.Logger
	unsubscribes []func()
}

// New wires the pipeline from cfg. Without a configured backend token one is
// minted for Backend.UserID with the shared JWT secret.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Discard()
	}

	token := cfg.Backend.Token
	if token == "" {
		var err error
		token, err = jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer).
			GenerateToken(cfg.Backend.UserID, jwt.RoleUser)
		if err != nil {
			return nil, fmt.Errorf("error minting backend token: %w", err)
		}
	}

	client := apiclient.New(apiclient.Options{
		BaseURL:          cfg.Backend.BaseURL,
		Token:            token,
		Timeout:          cfg.Backend.Timeout,
		FailureThreshold: cfg.Backend.FailureThreshold,
		RetryTimeout:     cfg.Backend.RetryTimeout,
	}, log)

	qc := querycache.New(cfg.Cache.TTL, cfg.Cache.PurgeWindow, cfg.Cache.MaxSize)
	bus := notify.NewBus()
	st := store.New()

	app := &App{
		Config: cfg,
		Client: client,
		Cache:  qc,
		Bus:    bus,
		Store:  st,
		Ops:    operations.New(client, st, qc, bus, log),
		log:    log.WithComponent("chat"),
	}
	app.unsubscribes = append(app.unsubscribes, bus.Subscribe(notify.LogNotifier(log)))

	assistant, err := ai.New(cfg, log)
	switch {
	case err == nil:
		app.Assistant = assistant
	case errors.Is(err, ai.ErrDisabled):
		app.log.Debug("Assistant disabled")
	default:
		qc.Close()
		return nil, fmt.Errorf("error creating assistant: %w", err)
	}

	return app, nil
}

// OnNotification registers fn for every notification the pipeline emits
func (a *App) OnNotification(fn func(notify.Notification)) {
	a.unsubscribes = append(a.unsubscribes, a.Bus.Subscribe(fn))
}

// Logger returns the logger the pipeline writes to. Its level is shared with
// the logger passed to New.
func (a *App) Logger() *logger.Logger {
	return a.log
}

func (a *App) Close() {
	for _, unsubscribe := range a.unsubscribes {
		unsubscribe()
	}
	a.unsubscribes = nil
	a.Cache.Close()
}
