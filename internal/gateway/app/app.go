package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"wtcore/internal/demo"
	"wtcore/internal/gateway/config"
	"wtcore/internal/gateway/handler"
	"wtcore/internal/gateway/handler/rpc"
	"wtcore/internal/gateway/journal"
	"wtcore/internal/gateway/server"
	"wtcore/internal/render/wire"
	"wtcore/internal/session"
)

const clockInterval = time.Second

type App struct {
	server   *server.Server
	sessions *session.Manager
	writer   *snapshotWriter
	stores   *gatewayStores

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Dependencies
	stores, err := initStores(cfg)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	stores.registerCacheMetrics(reg)

	renderJournal := journal.New(cfg.Trace.Dir)
	writer := newSnapshotWriter(stores.snapshots, stores.archive)
	hooks := session.Hooks{
		OnRender: func(rec session.RenderRecord) {
			renderJournal.Render(rec)
			writer.OnRender(rec)
		},
		OnDestroy: func(snap session.Snapshot) {
			renderJournal.Append(snap.SessionID, "session", "destroy", map[string]any{
				"seq":   snap.Seq,
				"nodes": snap.Nodes,
			})
			writer.OnDestroy(snap)
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	demoApp := demo.New(ctx, clockInterval)
	sessions := session.NewManager(demoApp.Factory, session.Options{
		LockTimeout:  cfg.Session.LockTimeout,
		PollTimeout:  cfg.Session.PollTimeout,
		SessionTTL:   cfg.Session.TTL,
		GoneCapacity: cfg.Session.GoneCapacity,
		Verify:       cfg.Session.Verify,
		Title:        cfg.Session.Title,
		WebSocket:    cfg.Session.WebSocket,
		Paths:        wire.DefaultPaths,
	}, hooks, reg)
	demoApp.Bind(sessions)

	sessionHandler := handler.NewSessionHandler(sessions)
	sessionService := rpc.NewSessionHandler(sessions)
	debugHandler := handler.NewDebugHandler(sessions, renderJournal, stores.snapshots)
	metrics := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})

	// Routing & Server
	mux := server.NewMux(sessionHandler, sessionService, debugHandler, metrics)
	srv := server.New(cfg.Port, mux)

	group, gctx := errgroup.WithContext(ctx)
	return &App{
		server:   srv,
		sessions: sessions,
		writer:   writer,
		stores:   stores,
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
	}, nil
}

// Start serves until Shutdown. It returns the first error of the server, the
// session reaper or the snapshot writer.
func (a *App) Start() error {
	a.group.Go(func() error {
		err := a.server.Start()
		if err != nil {
			a.writer.Close()
		}
		return err
	})
	a.group.Go(func() error {
		return a.sessions.RunReaper(a.ctx, 0)
	})
	a.group.Go(func() error {
		return a.writer.Run(a.ctx)
	})
	return a.group.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if serr := a.sessions.Shutdown(ctx); serr != nil {
		err = errors.Join(err, serr)
	}
	a.writer.Close()
	a.cancel()

	done := make(chan error, 1)
	go func() { done <- a.group.Wait() }()
	select {
	case werr := <-done:
		err = errors.Join(err, werr)
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("background workers still running: %w", ctx.Err()))
	}
	a.stores.Close()
	return err
}
