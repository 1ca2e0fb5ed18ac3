/*
scheduler.go - Automated budget archival scheduler

PURPOSE:
  Periodically archives budgets whose period ended longer ago than the
  configured grace window. Archived budgets stop accepting requisitions
  and expenditure but stay queryable.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Sweeps immediately on start, then on every tick
  - Archiving is idempotent; a sweep that finds nothing is a no-op

CONFIGURATION:
  - CheckInterval: how often to sweep (default: 1 hour)
  - Enabled: whether the scheduler is active (default: true)

USAGE:
  scheduler := NewArchivalScheduler(engine, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - plan/budget.go: ArchiveOutdatedBudgets
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bonifacechacha/plan-lib/plan"
)

// ArchivalScheduler sweeps outdated budgets into the archive.
type ArchivalScheduler struct {
	Engine        *plan.Engine
	CheckInterval time.Duration
	Enabled       bool

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewArchivalScheduler creates a new scheduler.
func NewArchivalScheduler(engine *plan.Engine, log *zap.Logger) *ArchivalScheduler {
	return &ArchivalScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (as *ArchivalScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		as.log.Info("archival scheduler disabled, not starting")
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.wg.Add(1)

	go as.run()

	as.log.Info("archival scheduler started", zap.Duration("interval", as.CheckInterval))
}

// Stop stops the scheduler.
func (as *ArchivalScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		as.log.Info("archival scheduler stopped")
	}
}

func (as *ArchivalScheduler) run() {
	defer as.wg.Done()

	// Sweep immediately on start
	as.sweep()

	for {
		select {
		case <-as.ticker.C:
			as.sweep()
		case <-as.stop:
			return
		}
	}
}

func (as *ArchivalScheduler) sweep() {
	ctx := context.Background()
	archived, err := as.Engine.Budgets.ArchiveOutdatedBudgets(ctx, time.Now())
	if err != nil {
		as.log.Error("archival sweep failed", zap.Error(err))
		return
	}
	if archived > 0 {
		as.log.Info("archival sweep completed", zap.Int("archived", archived))
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (as *ArchivalScheduler) RunNow() {
	as.sweep()
}
