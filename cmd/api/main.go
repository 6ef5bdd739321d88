package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupcore.org/internal/access"
	"groupcore.org/internal/audience"
	"groupcore.org/internal/cache"
	"groupcore.org/internal/config"
	"groupcore.org/internal/engine"
	"groupcore.org/internal/entity"
	"groupcore.org/internal/event"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/httpapi"
	"groupcore.org/internal/membership"
	"groupcore.org/internal/obs"
	"groupcore.org/internal/orphan"
	"groupcore.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Membership persistence: PostgreSQL when a DSN is configured, the
	// in-memory store otherwise.
	var (
		store   membership.Store = membership.NewMemStore()
		pgStore *pg.Store
	)
	if cfg.PGDSN != "" {
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
	}

	var eng *engine.Engine
	registry := grouptype.New(grouptype.WithChangeNotifier(func() {
		if eng != nil {
			eng.MarkRoutesStale()
		}
	}))
	catalog := audience.NewCatalog(registry)
	source := entity.NewMemSource(entity.WithReferenceFields(audienceFieldNames(catalog)))

	manager, err := membership.NewManager(store, registry, catalog, source,
		membership.WithDefaultRole(cfg.DefaultRole))
	if err != nil {
		log.Fatalf("new manager: %v", err)
	}
	resolver := access.NewResolver(registry, manager, catalog,
		access.WithStrictTypes(cfg.StrictTypes...))
	tracker := cache.NewTracker(registry, manager, cache.NewTagSet())

	eng, err = engine.New(engine.Config{
		DeleteOrphans:       cfg.DeleteOrphans,
		OrphanStrategy:      cfg.OrphanStrategy,
		OrphanQueueCapacity: cfg.OrphanQueueCapacity,
		OrphanChunkSize:     cfg.OrphanChunkSize,
	}, engine.Deps{
		Registry: registry,
		Catalog:  catalog,
		Manager:  manager,
		Resolver: resolver,
		Tracker:  tracker,
		Source:   source,
	})
	if err != nil {
		log.Fatalf("new engine: %v", err)
	}
	bus := event.NewBus()
	eng.Bind(bus)

	api := httpapi.New(httpapi.ReadyProbe{DB: dbOrNil(pgStore)}, version, httpapi.Deps{
		Engine:   eng,
		Registry: registry,
		Manager:  manager,
		Source:   source,
		Bus:      bus,
	})
	api.SetRateLimit(cfg.RateLimitBurst, cfg.RateLimitRPS)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	if strategy := eng.Strategy(); strategy != nil && strategy.ID() != orphan.StrategyImmediate {
		worker := orphan.NewWorker(strategy, cfg.WorkerInterval)
		go func() {
			defer close(workerDone)
			_ = worker.Run(workerCtx)
		}()
	} else {
		close(workerDone)
	}

	log.Printf("Starting groupcore-api %s on %s", version, srv.Addr)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	stopWorker()
	<-workerDone

	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

func dbOrNil(s *pg.Store) *sql.DB {
	if s == nil {
		return nil
	}
	return s.DB()
}

// audienceFieldNames adapts the audience catalog into the entity source's
// reference-field filter so orphan candidate scans only consult declared
// audience fields.
func audienceFieldNames(catalog *audience.Catalog) entity.ReferenceFieldsFunc {
	return func(entityType, bundle, targetType string) []string {
		var names []string
		for _, f := range catalog.ListAudienceFields(entityType, bundle) {
			if f.TargetType == targetType {
				names = append(names, f.Name)
			}
		}
		return names
	}
}
