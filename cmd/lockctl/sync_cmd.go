package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accesscontrol/internal/config"
	"accesscontrol/internal/domain"
	"accesscontrol/internal/infra/cacheredis"
	"accesscontrol/internal/infra/feedclient"
	"accesscontrol/internal/revsync"

	"github.com/redis/go-redis/v9"
)

func (c *cli) runSync(args []string) int {
	cfg := config.Load()

	fs := newFlagSet(c, "sync")
	var once, resync bool
	var deviceID int
	var statusEvery time.Duration
	fs.BoolVar(&once, "once", false, "initialize, print status and exit")
	fs.BoolVar(&resync, "resync", false, "discard the stored snapshot and replay the log from genesis")
	fs.IntVar(&deviceID, "device-id", cfg.SyncDeviceID, "mirror only this device (0 mirrors all)")
	fs.StringVar(&cfg.RegistryURL, "registry-url", cfg.RegistryURL, "registryd base URL")
	fs.StringVar(&cfg.SyncStatePath, "state", cfg.SyncStatePath, "snapshot file when SYNC_STORE=file")
	fs.DurationVar(&statusEvery, "status-interval", time.Minute, "how often to log cache status")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if deviceID < 0 {
		return c.fail("--device-id must not be negative")
	}
	cfg.SyncDeviceID = deviceID
	if err := cfg.Validate(); err != nil {
		return c.fail("%v", err)
	}

	persister, closePersister, err := newPersister(cfg)
	if err != nil {
		return c.fail("%v", err)
	}
	defer closePersister()

	opts := revsync.Options{
		WindowSize:        uint64(cfg.SyncWindowSize),
		ReconcileInterval: cfg.ReconcileInterval(),
		HealthThreshold:   uint64(cfg.SyncHealthThreshold),
		Persister:         persister,
	}
	if cfg.SyncDeviceID > 0 {
		id := domain.DeviceID(cfg.SyncDeviceID)
		opts.DeviceID = &id
	}
	cache := revsync.New(feedclient.NewClient(cfg.RegistryURL), opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if resync {
		// The stored snapshot is ignored and overwritten on stop.
		if err := cache.ForceResync(ctx); err != nil {
			return c.fail("resync cache: %v", err)
		}
	} else if err := cache.Initialize(ctx); err != nil {
		return c.fail("initialize cache: %v", err)
	}
	if once {
		if err := cache.Stop(context.Background()); err != nil {
			return c.fail("flush snapshot: %v", err)
		}
		return c.writeJSON(cache.Status())
	}

	if err := cache.Start(ctx); err != nil {
		return c.fail("start cache: %v", err)
	}
	log.Printf("revocation cache syncing from %s (checkpoint %d)", cfg.RegistryURL, cache.Checkpoint())

	ticker := time.NewTicker(statusEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := cache.Stop(context.Background()); err != nil {
				return c.fail("stop cache: %v", err)
			}
			return c.writeJSON(cache.Status())
		case <-ticker.C:
			st := cache.Status()
			log.Printf("revocation cache: checkpoint=%d latest=%d fingerprints=%d healthy=%t last_error=%q",
				st.Checkpoint, st.LatestKnown, st.Fingerprints, st.Healthy, st.LastError)
		}
	}
}

func newPersister(cfg config.Config) (revsync.Persister, func(), error) {
	if cfg.SyncStore != "redis" {
		return revsync.NewFileStore(cfg.SyncStatePath), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store, err := cacheredis.NewStore(client, "")
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return store, func() { _ = client.Close() }, nil
}
