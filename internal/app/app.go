// Package app orchestrates all components of devtap.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/devtap/internal/artifacts"
	"github.com/brianly1003/devtap/internal/cdp"
	"github.com/brianly1003/devtap/internal/config"
	"github.com/brianly1003/devtap/internal/discovery"
	"github.com/brianly1003/devtap/internal/history"
	"github.com/brianly1003/devtap/internal/hub"
	"github.com/brianly1003/devtap/internal/registry"
	"github.com/brianly1003/devtap/internal/sampler"
	httpserver "github.com/brianly1003/devtap/internal/server/http"
	wsserver "github.com/brianly1003/devtap/internal/server/websocket"
)

// App is the main application struct that wires all components together.
type App struct {
	cfg     *config.Config
	version string

	hub        *hub.Hub
	store      *registry.Store
	artifacts  *artifacts.Store
	history    *history.Store
	reconciler *discovery.Reconciler
	sampler    *sampler.Sampler
	httpServer *httpserver.Server
	wsServer   *wsserver.Server

	mu      sync.Mutex
	running bool
}

// New creates a new App instance.
func New(cfg *config.Config, version string) (*App, error) {
	a := &App{
		cfg:     cfg,
		version: version,
		hub:     hub.New(),
		store:   registry.NewStore(),
	}

	eval := cdp.NewEvaluator(time.Duration(cfg.Sampler.CallTimeoutMS) * time.Millisecond)

	a.artifacts = artifacts.NewStore(cfg.Artifacts.ConversationsDir)

	if cfg.History.Enabled {
		hist, err := history.Open(cfg.History.Path, cfg.History.RetainPerSession)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		a.history = hist
	}

	a.reconciler = discovery.New(discovery.Config{
		Endpoints:   cfg.Discovery.Endpoints,
		Interval:    time.Duration(cfg.Discovery.IntervalMS) * time.Millisecond,
		ListTimeout: time.Duration(cfg.Discovery.ListTimeoutMS) * time.Millisecond,
		Match:       cfg.Discovery.Match,
	}, a.store, a.hub, eval, a.artifacts)

	a.sampler = sampler.New(sampler.Config{
		Interval: time.Duration(cfg.Sampler.IntervalMS) * time.Millisecond,
	}, a.store, a.hub, eval, a.history)

	a.httpServer = httpserver.New(cfg.Server.Host, cfg.Server.HTTPPort, a.store, eval, a.history)
	a.wsServer = wsserver.NewServer(cfg.Server.Host, cfg.Server.WebSocketPort, a.hub, a.store)

	return a, nil
}

// Start starts all components and blocks until the context is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.mu.Unlock()

	if err := a.hub.Start(); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := a.wsServer.Start(); err != nil {
		return fmt.Errorf("failed to start subscriber server: %w", err)
	}

	// The two periodic drivers share only the registry handle. They never
	// signal each other directly; coordination happens through the hub.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.reconciler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.sampler.Run(ctx)
	}()

	log.Info().Str("version", a.version).Msg("devtap running")

	<-ctx.Done()
	wg.Wait()

	return a.shutdown()
}

// shutdown stops all components in reverse order.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.wsServer.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("subscriber server shutdown error")
	}
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	if err := a.hub.Stop(); err != nil {
		log.Warn().Err(err).Msg("hub shutdown error")
	}
	if err := a.artifacts.Close(); err != nil {
		log.Warn().Err(err).Msg("artifacts store shutdown error")
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Warn().Err(err).Msg("history store shutdown error")
		}
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	return nil
}
