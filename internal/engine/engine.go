// Package engine wires the queue, router, governor, poller, and campaign
// orchestrator into one facade. Everything a surface (CLI, future API)
// does goes through Engine.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"scout/internal/artifact"
	"scout/internal/campaign"
	"scout/internal/config"
	"scout/internal/events"
	"scout/internal/ledger"
	"scout/internal/logging"
	"scout/internal/poller"
	"scout/internal/provider"
	"scout/internal/queue"
	"scout/internal/router"
	"scout/internal/store"
)

// Engine is the orchestration facade.
type Engine struct {
	cfg *config.Config

	store     *store.Store
	bus       *events.Bus
	queue     *queue.Queue
	ledger    *ledger.Ledger
	governor  *ledger.Governor
	router    *router.Router
	artifacts *artifact.Store
	poller    *poller.Poller

	campaigns    *campaign.Store
	planner      *campaign.Planner
	orchestrator *campaign.Orchestrator

	owner string

	// procMu/procCond implement submit backpressure: submitters block
	// here while PROCESSING is at capacity, woken by terminal events.
	procMu   sync.Mutex
	procCond *sync.Cond
}

// New builds a fully wired engine from configuration.
func New(cfg *config.Config) (*Engine, error) {
	st, err := store.Open(cfg.QueuePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	adapters, err := provider.BuildAdapters(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	arts, err := artifact.NewStore(cfg.ReportsPath())
	if err != nil {
		st.Close()
		return nil, err
	}

	bus := events.NewBus()
	q := queue.New(st, bus)
	led := ledger.New(st)
	gov := ledger.NewGovernor(led, cfg.Budget, bus)
	rtr := router.New(cfg.Router, adapters, bus)

	host, _ := os.Hostname()

	e := &Engine{
		cfg:       cfg,
		store:     st,
		bus:       bus,
		queue:     q,
		ledger:    led,
		governor:  gov,
		router:    rtr,
		artifacts: arts,
		poller:    poller.New(q, rtr, arts, gov, cfg.Poll),
		campaigns: campaign.NewStore(st),
		planner:   campaign.NewPlanner(rtr),
		owner:     fmt.Sprintf("%s-%d-submit", host, os.Getpid()),
	}
	e.procCond = sync.NewCond(&e.procMu)
	e.orchestrator = campaign.NewOrchestrator(e.campaigns, arts, bus, e)

	logging.Engine("engine ready: providers=%v reports=%s", cfg.Providers.Configured(), cfg.ReportsPath())
	return e, nil
}

// Run starts the submit worker and poller and blocks until ctx ends.
// Jobs enqueued before a crash are picked up automatically: PENDING rows
// feed the submit worker and leased PROCESSING rows expire back into the
// poller.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.runSubmitWorker(ctx) })
	g.Go(func() error { return e.poller.Run(ctx) })
	g.Go(func() error { return e.watchCompletions(ctx) })

	err := g.Wait()
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}

// watchCompletions wakes blocked submitters whenever a job leaves
// PROCESSING.
func (e *Engine) watchCompletions(ctx context.Context) error {
	ch, cancel := e.bus.Subscribe(events.Filter{
		Types: []events.Type{events.JobCompleted, events.JobFailed, events.JobCanceled, events.JobStatusChanged},
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			e.procCond.Broadcast()
			return ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			e.procCond.Broadcast()
		}
	}
}

// Bus exposes the event bus for surface subscriptions.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Close releases the store and log files.
func (e *Engine) Close() error {
	e.bus.Close()
	e.procCond.Broadcast()
	return e.store.Close()
}
