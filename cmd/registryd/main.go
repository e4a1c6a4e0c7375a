package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accesscontrol/internal/config"
	"accesscontrol/internal/domain"
	"accesscontrol/internal/infra/crypto"
	"accesscontrol/internal/infra/db"
	httpinfra "accesscontrol/internal/infra/http"
	"accesscontrol/internal/infra/ledgermem"
	"accesscontrol/internal/infra/policyopa"
	"accesscontrol/internal/usecase"

	"github.com/gin-gonic/gin"
)

type ledger interface {
	domain.Ledger
	domain.EventLog
}

var errLedgerRequired = errors.New("POSTGRES_DSN is required outside debug mode: the in-memory ledger cannot be written by lockctl")

// openLedger picks the Postgres ledger when a DSN is configured. Without one
// it only serves an empty in-memory ledger in debug mode.
func openLedger(ctx context.Context, cfg config.Config, store *db.Store) (ledger, string, error) {
	if store != nil && store.DB != nil {
		if err := store.Migrate(ctx); err != nil {
			return nil, "", fmt.Errorf("failed to migrate: %w", err)
		}
		return db.NewLedger(store), "postgres", nil
	}
	if !cfg.DebugLogging() {
		return nil, "", errLedgerRequired
	}
	log.Printf("serving an empty in-memory ledger; it is read-only because lockctl only writes to Postgres")
	return ledgermem.New(), "memory", nil
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	if !cfg.DebugLogging() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()

	l, mode, err := openLedger(ctx, cfg, store)
	if err != nil {
		log.Fatalf("%v", err)
	}

	policy, err := policyopa.NewEngineFromPath(ctx, cfg.AdminPolicyPath)
	if err != nil {
		log.Fatalf("failed to load admin policy: %v", err)
	}
	log.Printf("admin policy loaded (sha256 %s)", policy.PolicyHash())

	registry := usecase.NewRegistry(l, &crypto.Service{}, cfg.RootAdmin())
	registry.Admin = policy
	registry.MaxRevoked = uint64(cfg.MaxRevoked)
	if domain.IsZeroAddress(registry.RootAdmin) {
		log.Printf("ROOT_ADMIN_ADDRESS not set; administrative calls are disabled")
	}

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Registry: registry,
		Events:   l,
		Mode:     mode,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("registryd listening on %s (%s ledger)", cfg.HTTPAddr, mode)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server exited: %v", err)
	}
}
