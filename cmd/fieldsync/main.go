// Command fieldsync runs the on-device sync agent: it owns the durable
// pending queue, watches connectivity, and drains captured field data to the
// remote stores as the network allows.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fieldops/fieldsync/internal/blob"
	"github.com/fieldops/fieldsync/internal/capture"
	"github.com/fieldops/fieldsync/internal/config"
	"github.com/fieldops/fieldsync/internal/db"
	"github.com/fieldops/fieldsync/internal/logging"
	"github.com/fieldops/fieldsync/internal/media"
	"github.com/fieldops/fieldsync/internal/netmon"
	"github.com/fieldops/fieldsync/internal/remote"
	enginepkg "github.com/fieldops/fieldsync/internal/sync"
	"github.com/fieldops/fieldsync/internal/sync/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.L().WithError(err).Fatal("configuration error")
	}

	logging.Init(os.Stdout, cfg.LogLevel)
	log := logging.Component("agent")

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("cannot open local database")
	}
	defer database.Close()

	if err := db.Migrate(database.DB); err != nil {
		log.WithError(err).Fatal("schema migration failed")
	}

	store := db.NewPendingStore(database)

	arena, err := blob.NewArena(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		log.WithError(err).Fatal("cannot open blob arena")
	}

	objects, err := remote.NewMinioStore(remote.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		Bucket:    cfg.MinioBucket,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.WithError(err).Fatal("cannot create object store client")
	}

	docs := remote.NewRestDocumentStore(remote.RestConfig{
		BaseURL:      cfg.APIBaseURL,
		Token:        cfg.APIToken,
		PollInterval: cfg.PollInterval,
	})

	engine := enginepkg.NewEngine(store, arena, objects, docs, enginepkg.Config{
		MaxAttempts:      cfg.MaxAttempts,
		BackoffBase:      cfg.BackoffBase,
		BackoffCap:       cfg.BackoffCap,
		StaleUploadAfter: cfg.StaleUploadAfter,
	})

	monitor := netmon.New(
		netmon.DialProbe(cfg.ProbeAddr, 3*time.Second),
		cfg.ProbeInterval, cfg.ProbeDebounce,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	defer monitor.Stop()

	sched := scheduler.New(engine, monitor, cfg.SyncInterval)
	sched.Start(ctx)
	defer sched.Stop()

	service := capture.NewService(
		capture.Identity{OrgID: cfg.OrgID, UserID: cfg.UserID},
		store, arena, media.NewProcessor(nil), monitor, engine, docs,
	)

	// Push queue and connectivity events to the local field UI.
	events := newHub()
	store.Subscribe(func(c db.Change) {
		events.Broadcast(EventQueueChanged, map[string]interface{}{
			"change":   string(c.Type),
			"local_id": c.LocalID,
		})
	})
	monitor.Subscribe(func(online bool) {
		events.Broadcast(EventOnlineChanged, map[string]interface{}{
			"online": online,
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/events", events)
	registerAPI(mux, service)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("event push listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("event push server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
