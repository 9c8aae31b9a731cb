// Package server initializes and runs the WebVH service: it opens the
// configured storage backend, wires the ACL policy, log validator,
// registry, session manager, and protocol router together, and drives the
// message loop and background maintenance until shutdown.
package server

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/logging"
	"github.com/affinidi/affinidi-webvh-service/internal/server/acl"
	"github.com/affinidi/affinidi-webvh-service/internal/server/auth"
	"github.com/affinidi/affinidi-webvh-service/internal/server/config"
	"github.com/affinidi/affinidi-webvh-service/internal/server/protocol"
	"github.com/affinidi/affinidi-webvh-service/internal/server/registry"
	"github.com/affinidi/affinidi-webvh-service/internal/server/stats"
	"github.com/affinidi/affinidi-webvh-service/internal/server/store"
	"github.com/affinidi/affinidi-webvh-service/internal/server/webvh"
)

// Transport delivers decrypted, signature-verified envelopes and carries
// replies back. The DIDComm crypto layer lives behind this interface.
type Transport interface {
	Receive(ctx context.Context) (*protocol.Message, error)
	Send(ctx context.Context, msg *protocol.Message) error
}

type App struct {
	config   *config.Config
	logger   logging.Logger
	store    store.Store
	registry *registry.Registry
	stats    *stats.Collector
	sessions *auth.Manager
	router   *protocol.Router
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	// Stdout may carry transport traffic, logs go to stderr.
	sl := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	logger := logging.NewSlogLogger(sl)

	backend, err := store.Open(ctx, store.Options{
		Backend:     c.StoreBackend,
		Path:        c.StorePath,
		RedisURL:    c.RedisURL,
		PostgresDSN: c.DatabaseDSN,
		Dynamo: store.DynamoOptions{
			Table:     c.DynamoTable,
			Region:    c.DynamoRegion,
			Endpoint:  c.DynamoEndpoint,
			AccessKey: c.DynamoAccessKey,
			SecretKey: c.DynamoSecretKey,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}
	st := store.NewWithRetry(backend, c.StoreRetryAttempts, c.StoreRetryBase, logger)

	host, err := webvh.EncodeHost(c.PublicURL)
	if err != nil {
		return nil, err
	}

	policy := acl.NewPolicy(st, acl.Limits{
		DefaultMaxDidCount:  c.DefaultMaxDidCount,
		DefaultMaxTotalSize: c.DefaultMaxTotalSize,
	}, logger)
	collector := stats.NewCollector(st, logger)
	validator := webvh.NewValidator()
	reg := registry.New(st, policy, collector, validator, host, logger)
	sessions := auth.NewManager(st, []byte(c.SecretKey),
		c.AccessTokenValidityDuration, c.RefreshTokenValidityDuration, logger)
	router := protocol.NewRouter(reg, policy, sessions, c.ServerDID, c.PublicURL, logger)

	app := &App{
		config:   c,
		logger:   logger,
		store:    st,
		registry: reg,
		stats:    collector,
		sessions: sessions,
		router:   router,
	}
	if err := app.seedAdmin(ctx, policy); err != nil {
		return nil, err
	}
	if err := app.bootstrapRootDid(ctx, host); err != nil {
		return nil, err
	}
	return app, nil
}

// bootstrapRootDid publishes the server's own DID under .well-known so the
// host itself resolves like any hosted DID. The update key is derived from
// the secret key, so restarts skip the already-published record.
func (app *App) bootstrapRootDid(ctx context.Context, host string) error {
	if app.config.SecretKey == "" || app.config.AdminDID == "" {
		return nil
	}
	rootPath := ".well-known"
	system := acl.Actor{DID: "system", Role: acl.RoleAdmin}

	rec, _, _, err := app.registry.Info(ctx, system, rootPath)
	if errors.Is(err, common.ErrorNotFound) {
		rec, err = app.registry.Reserve(ctx, system, &rootPath)
	}
	if err != nil {
		return err
	}
	if rec.DidID != nil {
		return nil
	}

	seed := sha256.Sum256([]byte(app.config.SecretKey))
	signer, err := webvh.NewSignerFromSeed(seed[:])
	if err != nil {
		return err
	}
	genesis, err := webvh.CreateGenesis(webvh.NewDocument(host, rootPath), signer, time.Now())
	if err != nil {
		return err
	}
	content := webvh.Serialize([]webvh.LogEntry{*genesis})
	rec, err = app.registry.Publish(ctx, system, rootPath, content)
	if err != nil {
		return err
	}
	app.logger.Info(ctx, "root DID published", "did", *rec.DidID)
	return nil
}

// seedAdmin ensures the configured admin DID has an ACL entry, so a fresh
// deployment is reachable by at least one caller.
func (app *App) seedAdmin(ctx context.Context, policy *acl.Policy) error {
	if app.config.AdminDID == "" {
		return nil
	}
	if _, err := policy.Lookup(ctx, app.config.AdminDID); err == nil {
		return nil
	} else if !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	system := acl.Actor{DID: "system", Role: acl.RoleAdmin}
	return policy.Upsert(ctx, system, acl.Entry{
		DID:  app.config.AdminDID,
		Role: acl.RoleAdmin,
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runMaintenance periodically expires pending reservations, prunes stale
// stats buckets, and drops expired sessions.
func (app *App) runMaintenance(ctx context.Context) {
	interval := app.config.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.registry.CleanupPending(ctx, app.config.PendingDidTTL); err != nil {
				app.logger.Error(ctx, "pending cleanup failed", "error", err.Error())
			}
			if err := app.stats.CleanupSeries(ctx); err != nil {
				app.logger.Error(ctx, "series cleanup failed", "error", err.Error())
			}
			if err := app.sessions.CleanupSessions(ctx); err != nil {
				app.logger.Error(ctx, "session cleanup failed", "error", err.Error())
			}
		}
	}
}

// serve pulls messages off the transport and handles them concurrently.
// Mutations on the same mnemonic are serialized further down, in the
// registry.
func (app *App) serve(ctx context.Context, t Transport) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(64)

	// In-flight handlers are always drained, even when the transport dies.
	var recvErr error
	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				recvErr = fmt.Errorf("transport receive: %w", err)
			}
			break
		}
		g.Go(func() error {
			if reply := app.router.Handle(ctx, msg); reply != nil {
				if err := t.Send(ctx, reply); err != nil {
					app.logger.Error(ctx, "transport send failed", "error", err.Error())
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && recvErr == nil {
		recvErr = err
	}
	return recvErr
}

func (app *App) Run(ctx context.Context, t Transport) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "backend", app.config.StoreBackend)

	app.initSignalHandler(cancelFunc)

	go app.runMaintenance(ctx)

	if err := app.serve(ctx, t); err != nil {
		app.logger.Error(ctx, err.Error())
	}

	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "store close failed", "error", err.Error())
	}
}
