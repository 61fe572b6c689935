package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gtfs-watcher/internal/broker"
	"gtfs-watcher/internal/config"
	"gtfs-watcher/internal/db"
	"gtfs-watcher/internal/enrich"
	"gtfs-watcher/internal/metrics"
	"gtfs-watcher/internal/poller"
	"gtfs-watcher/internal/server"
	"gtfs-watcher/internal/source"
	"gtfs-watcher/internal/store"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval)
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	// Schedule store: resolve the importer's latest city database when CITY
	// is set, else use the DSN as given. Optional; without it the watcher
	// still streams, just without arrivals or progress enrichment.
	scheduleDB := openScheduleDB(ctx, cfg)
	if scheduleDB != nil {
		defer scheduleDB.Close()
	}

	// Upstream source
	var src source.Source
	switch cfg.Source {
	case "nats":
		natsSrc, err := source.NewNATS(cfg.NATSURL, cfg.NATSSubject, cfg.NATSMaxAge, mcol)
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer natsSrc.Close()
		src = natsSrc
	default:
		src = source.NewGTFSRT(cfg.GTFSRTVehiclePositionsURL, cfg.GTFSRTTripUpdatesURL, cfg.PollTimeout)
	}

	st := store.New()
	b := broker.New(st, cfg.SubscriberQueue, mcol)

	p := poller.New(src, st, b, cfg.PollInterval, cfg.PollTimeout, mcol)
	if scheduleDB != nil {
		p.SetEnricher(enrich.New(scheduleDB))
	}
	go p.Run(ctx)

	srv := server.New(server.Options{
		Addr:           cfg.HTTPAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		Store:          st,
		Broker:         b,
		ScheduleDB:     scheduleDB,
		Location:       cfg.Location,
	})
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

// openScheduleDB connects to the external importer's schedule database, or
// returns nil when none is configured. Failures degrade to nil rather than
// aborting: live streaming does not depend on the schedule store.
func openScheduleDB(ctx context.Context, cfg *config.Config) *sql.DB {
	if cfg.DatabaseURL == "" {
		return nil
	}
	dsn := cfg.DatabaseURL
	if cfg.City != "" {
		// The importer records its latest database per city in the cluster's
		// meta database (usually 'postgres').
		rootDSN, err := db.WithDBName(dsn, "postgres")
		if err != nil {
			log.Printf("schedule store disabled, invalid base DSN: %v", err)
			return nil
		}
		metaDB, err := db.Open(rootDSN)
		if err != nil {
			log.Printf("schedule store disabled, meta db open error: %v", err)
			return nil
		}
		defer metaDB.Close()
		if err := db.Ping(ctx, metaDB); err != nil {
			log.Printf("schedule store disabled, meta db ping error: %v", err)
			return nil
		}
		name, err := db.ResolveLatestImportDBName(ctx, metaDB, cfg.City)
		if err != nil {
			log.Printf("schedule store disabled, resolve latest import for city %q: %v", cfg.City, err)
			return nil
		}
		dsn, err = db.WithDBName(dsn, name)
		if err != nil {
			log.Printf("schedule store disabled, compose DSN: %v", err)
			return nil
		}
		log.Printf("using schedule database %q for city %q", name, cfg.City)
	}
	sqlDB, err := db.Open(dsn)
	if err != nil {
		log.Printf("schedule store disabled, open error: %v", err)
		return nil
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Printf("schedule store disabled, ping error: %v", err)
		sqlDB.Close()
		return nil
	}
	return sqlDB
}
