package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/strand/internal/aggregates"
	"github.com/sandwichfarm/strand/internal/cache"
	"github.com/sandwichfarm/strand/internal/config"
	"github.com/sandwichfarm/strand/internal/errs"
	"github.com/sandwichfarm/strand/internal/facade"
	"github.com/sandwichfarm/strand/internal/identity"
	"github.com/sandwichfarm/strand/internal/keys"
	relayclient "github.com/sandwichfarm/strand/internal/nostr"
	"github.com/sandwichfarm/strand/internal/notify"
	"github.com/sandwichfarm/strand/internal/ops"
	"github.com/sandwichfarm/strand/internal/publish"
	"github.com/sandwichfarm/strand/internal/storage"
)

// app holds every long-lived component of one command invocation
type app struct {
	cfg     *config.Config
	logger  *ops.Logger
	storage *storage.Storage
	client  *relayclient.Client
	store   *facade.Facade
	hub     *notify.Hub

	engagement *aggregates.Engagement
	identity   *keys.Lifecycle
	clientKey  *keys.Lifecycle
	publisher  *publish.Publisher
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	logger.LogStartup(version, commit, map[string]interface{}{
		"relays":     len(cfg.Relays.URLs),
		"cache":      cfg.Caching.Engine,
		"negentropy": cfg.Sync.UseNegentropy,
	})

	start := time.Now()
	st, err := storage.New(ctx, &cfg.Storage)
	logger.LogStorageOperation("open", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	hot, err := cache.New(&cfg.Caching)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	client := relayclient.New(ctx, &cfg.Relays, logger)
	store := facade.New(st, client, hot, &cfg.Sync, logger)
	hub := notify.NewHub(time.Duration(cfg.Sync.NotifyDebounceMs)*time.Millisecond, logger)
	engagement := aggregates.NewEngagement(store, &cfg.Inbox, logger)

	a := &app{
		cfg:        cfg,
		logger:     logger,
		storage:    st,
		client:     client,
		store:      store,
		hub:        hub,
		engagement: engagement,
		identity:   keys.NewLifecycle(keys.NewSharedStore(st, keys.IdentitySecret), backupStore(&cfg.Identity), logger),
		clientKey:  keys.NewLifecycle(keys.NewSharedStore(st, keys.ClientSecret+":"+cfg.Identity.ClientName), nil, logger),
	}

	retention := ops.NewRetentionManager(st, &cfg.Retention, logger)
	if retention.ShouldPruneOnStart() {
		if _, err := retention.PruneOldEvents(ctx, a.protectedAuthors(ctx)...); err != nil {
			logger.Warn("pruning on start failed", "error", err)
		}
	}

	return a, nil
}

// protectedAuthors lists the keys whose events are never pruned
func (a *app) protectedAuthors(ctx context.Context) []string {
	if self := a.selfKey(ctx); self != "" {
		return []string{self}
	}
	return nil
}

// backupStore returns the legacy key file when it can be used. Without a
// passphrase a missing file is skipped; an existing one is still returned so
// that Ensure reports it instead of generating a new key.
func backupStore(cfg *config.Identity) keys.Store {
	if cfg.KeyBackupPath == "" {
		return nil
	}
	if cfg.KeyPassphrase == "" {
		if _, err := os.Stat(cfg.KeyBackupPath); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
	}
	return keys.NewBackupFile(cfg.KeyBackupPath, cfg.KeyPassphrase)
}

// ensureKeys resolves the user and client keys and builds the publisher
func (a *app) ensureKeys(ctx context.Context) (keys.Keypair, keys.Origin, error) {
	kp, origin, err := a.identity.Ensure(ctx)
	if err != nil {
		return keys.Keypair{}, 0, err
	}

	if a.publisher == nil {
		clientKP, _, err := a.clientKey.Ensure(ctx)
		if err != nil {
			return keys.Keypair{}, 0, err
		}
		signer, err := identity.NewSigner(clientKP)
		if err != nil {
			return keys.Keypair{}, 0, err
		}
		a.publisher = publish.New(a.store, signer, a.identity, a.engagement, a.logger)
	}

	return kp, origin, nil
}

// connect opens relay connections for commands that must talk to relays
func (a *app) connect(ctx context.Context) error {
	return a.store.Connect(ctx, nil)
}

// resolveEvent finds an event in the cache, then on the relays. Fetched
// events are cached.
func (a *app) resolveEvent(ctx context.Context, id string) (*nostr.Event, error) {
	ev, err := a.store.GetCachedEvent(ctx, id)
	if err != nil {
		a.logger.Debug("cache lookup failed", "event_id", id, "error", err)
	}
	if ev != nil {
		return ev, nil
	}

	if !a.store.Connected() {
		if err := a.connect(ctx); err != nil {
			return nil, err
		}
	}

	ev, err = a.client.FetchEvent(ctx, id)
	if err != nil {
		return nil, errs.Connection(err, "fetch event %s", id)
	}
	if ev == nil {
		return nil, errs.NotFound("event %s", id)
	}

	if err := a.store.CacheEvent(ctx, ev); err != nil {
		a.logger.Debug("failed to cache fetched event", "event_id", id, "error", err)
	}
	return ev, nil
}

// selfKey returns the user's public key if it is already stored, without
// generating one
func (a *app) selfKey(ctx context.Context) string {
	kp, err := keys.NewSharedStore(a.storage, keys.IdentitySecret).Load(ctx)
	if err != nil {
		return ""
	}
	return kp.Public
}

func (a *app) Close() {
	a.logger.LogShutdown("command finished")
	a.store.Disconnect(true)
	a.hub.Close()
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("failed to close storage", "error", err)
	}
}
