/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the budget planning server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize the store (SQLite, or in-memory with -db=mem)
  3. Seed the directory and approver chains from the seed file
  4. Wire the engine, approval service, and HTTP handler
  5. Start the archival scheduler and the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port              HTTP server port (default: 8080)
  -db                SQLite database path (default: plan.db)
                     Use "mem" for the in-memory store
  -seed              JSON seed file for directory and approver chains
  -archive-interval  How often to sweep outdated budgets (default: 1h)
  -dev               Use the development logger

SEED FILE:
  {
    "planners":              {"<cost-center>": ["<user>", ...]},
    "members":               {"<role>": ["<user>", ...]},
    "role_resources":        {"<role>": ["<resource>", ...]},
    "cost_center_resources": {"<cost-center>": ["<resource>", ...]},
    "cost_center_roles":     {"<cost-center>": ["<role>", ...]},
    "approvers":             {"<criteria>": ["<user>", ...]},
    "overrides":             ["<user>", ...]
  }

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and close the database
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bonifacechacha/plan-lib/api"
	"github.com/bonifacechacha/plan-lib/approval"
	"github.com/bonifacechacha/plan-lib/directory"
	"github.com/bonifacechacha/plan-lib/plan"
	"github.com/bonifacechacha/plan-lib/store/memory"
	"github.com/bonifacechacha/plan-lib/store/sqlite"
)

type seedFile struct {
	Planners            map[string][]string `json:"planners"`
	Members             map[string][]string `json:"members"`
	RoleResources       map[string][]string `json:"role_resources"`
	CostCenterResources map[string][]string `json:"cost_center_resources"`
	CostCenterRoles     map[string][]string `json:"cost_center_roles"`
	Approvers           map[string][]string `json:"approvers"`
	Overrides           []string            `json:"overrides"`
}

func loadSeed(path string, dir *directory.Directory, approvals *approval.Service) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for cc, users := range seed.Planners {
		for _, u := range users {
			dir.AddPlanner(plan.CostCenterID(cc), plan.UserID(u))
		}
	}
	for role, users := range seed.Members {
		for _, u := range users {
			dir.AddMember(plan.RoleID(role), plan.UserID(u))
		}
	}
	for role, resources := range seed.RoleResources {
		for _, res := range resources {
			dir.AllowRoleResource(plan.RoleID(role), plan.ResourceID(res))
		}
	}
	for cc, resources := range seed.CostCenterResources {
		for _, res := range resources {
			dir.AllowCostCenterResource(plan.CostCenterID(cc), plan.ResourceID(res))
		}
	}
	for cc, roles := range seed.CostCenterRoles {
		for _, role := range roles {
			dir.AllowCostCenterRole(plan.CostCenterID(cc), plan.RoleID(role))
		}
	}
	for criteria, users := range seed.Approvers {
		chain := make([]plan.UserID, 0, len(users))
		for _, u := range users {
			chain = append(chain, plan.UserID(u))
		}
		approvals.SetChain(criteria, chain...)
	}
	for _, u := range seed.Overrides {
		approvals.GrantOverride(plan.UserID(u))
	}
	return nil
}

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "plan.db", "SQLite database path, or \"mem\" for in-memory")
	seedPath := flag.String("seed", "", "JSON seed file for directory and approver chains")
	archiveInterval := flag.Duration("archive-interval", time.Hour, "how often to sweep outdated budgets")
	dev := flag.Bool("dev", false, "use the development logger")
	flag.Parse()

	log, err := newLogger(*dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Initialize store
	var store plan.TxStore
	if *dbPath == "mem" {
		store = memory.NewStore()
		log.Info("using in-memory store")
	} else {
		db, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatal("failed to initialize database", zap.Error(err))
		}
		defer db.Close()
		store = db
		log.Info("using sqlite store", zap.String("path", *dbPath))
	}

	// Wire collaborators
	dir := directory.New()
	approvals := approval.NewService()
	engine := plan.NewEngine(store, dir, approvals, plan.DefaultConfig())
	approvals.BindHooks(engine.ApprovalHooks())

	if *seedPath != "" {
		if err := loadSeed(*seedPath, dir, approvals); err != nil {
			log.Fatal("failed to load seed file", zap.Error(err))
		}
		log.Info("seed file loaded", zap.String("path", *seedPath))
	}

	handler := api.NewHandler(engine, approvals, log)
	router := api.NewRouter(handler)

	// Archival scheduler
	scheduler := api.NewArchivalScheduler(engine, log)
	scheduler.CheckInterval = *archiveInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
