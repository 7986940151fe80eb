// Package app assembles the store, services and HTTP router from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jw6ventures/studydesk/internal/api"
	"github.com/jw6ventures/studydesk/internal/assetcache"
	"github.com/jw6ventures/studydesk/internal/auth"
	"github.com/jw6ventures/studydesk/internal/config"
	"github.com/jw6ventures/studydesk/internal/connectivity"
	httpserver "github.com/jw6ventures/studydesk/internal/http"
	"github.com/jw6ventures/studydesk/internal/prefs"
	"github.com/jw6ventures/studydesk/internal/store"
	"github.com/jw6ventures/studydesk/internal/study"
	"github.com/jw6ventures/studydesk/internal/syncqueue"
)

const lockTimeout = 2 * time.Second

type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Store   *store.Store
	Prefs   *prefs.Prefs
	Queue   *syncqueue.Queue
	Monitor *connectivity.Monitor
	Study   *study.Services
	Auth    *auth.Service
	// Assets and Prober are nil when no origin or probe URL is configured.
	Assets *assetcache.Service
	Prober *connectivity.Prober
	Router *httpserver.Router

	assetStorage *assetcache.BoltStorage
}

// Options adjust New for tests.
type Options struct {
	Now func() time.Time
	// AssetClient fetches from the asset origin.
	AssetClient *http.Client
}

// New opens the data files and wires every service. Close releases them.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	st, err := store.Open(cfg.StorePath(), store.Options{Timeout: lockTimeout, Logger: log.Named("store")})
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, Store: st}

	a.Prefs, err = prefs.Open(st, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open preferences: %w", err)
	}

	a.Queue = syncqueue.New(st.SyncQueue, log)
	a.Monitor = connectivity.NewMonitor(cfg.Connectivity.StartOnline, a.Queue, log)
	recorder := syncqueue.NewRecorder(a.Queue, a.Monitor)
	a.Study = study.New(st, recorder, log, study.WithClock(opts.Now))

	sessions := auth.NewSessionManager(cfg.Session.Secret, cfg.BaseURL)
	a.Auth = auth.NewService(ctx, st.Users, a.Prefs, sessions, log.Named("auth"), auth.Options{
		InsecureLocalAuth: cfg.Auth.InsecureLocalAuth,
		Now:               opts.Now,
	})

	if cfg.Connectivity.ProbeURL != "" {
		a.Prober = connectivity.NewProber(a.Monitor, cfg.Connectivity.ProbeURL,
			cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout, log)
	}

	if cfg.Assets.Origin != "" {
		a.assetStorage, err = assetcache.OpenBoltStorage(cfg.AssetCachePath(), lockTimeout)
		if err != nil {
			a.Close()
			return nil, err
		}
		assetOpts := assetcache.Options{
			Origin:      cfg.Assets.Origin,
			Version:     cfg.Assets.Version,
			Manifest:    cfg.Assets.Manifest,
			Shell:       cfg.Assets.Shell,
			SkipWaiting: cfg.Assets.SkipWaiting,
			Client:      opts.AssetClient,
		}
		a.Assets, err = assetcache.New(a.assetStorage, log, assetOpts)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	handler := api.NewHandler(api.Deps{
		Store:   st,
		Auth:    a.Auth,
		Study:   a.Study,
		Prefs:   a.Prefs,
		Monitor: a.Monitor,
		Queue:   a.Queue,
		Log:     log,
		Now:     opts.Now,
	})
	a.Router = httpserver.NewRouter(httpserver.Deps{
		Config: cfg,
		Store:  st,
		Auth:   a.Auth,
		API:    handler,
		Assets: a.Assets,
		Log:    log,
	})
	return a, nil
}

// Close stops background work and closes the data files.
func (a *App) Close() error {
	if a.Router != nil {
		a.Router.Close()
	}
	if a.Assets != nil {
		a.Assets.Close()
	}
	var errs []error
	if a.assetStorage != nil {
		errs = append(errs, a.assetStorage.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
