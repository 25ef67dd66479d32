// Package main wires the full trading backend together: config → Redis →
// Postgres(sqlx) → execution bus → ledger, order store, oracle, admission,
// matching, retry, reservation opener → HTTP edge, cron-driven scheduled
// jobs, and worker pools, all supervised under one tomb.Tomb so any
// component's fatal error tears the whole process down for a supervisor to
// restart it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"bourse/internal/admission"
	"bourse/internal/bus"
	"bourse/internal/clock"
	"bourse/internal/config"
	"bourse/internal/feedsub"
	"bourse/internal/httpapi"
	"bourse/internal/ledger"
	"bourse/internal/matchingworker"
	"bourse/internal/metrics"
	"bourse/internal/oracle"
	"bourse/internal/orderstore"
	"bourse/internal/pendingcleanup"
	"bourse/internal/pricecache"
	"bourse/internal/reservation"
	"bourse/internal/retrydispatch"
	"bourse/internal/stocks"
)

// run builds every component from cfg and blocks until ctx is cancelled or
// a supervised goroutine returns a fatal error.
func run(ctx context.Context, cfg config.Config) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	db, err := ledger.Open(cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("server: connect postgres: %w", err)
	}
	defer db.Close()

	sqlLedger := ledger.NewSQLLedger(db, cfg.Trading.InitialCashMinorUnits)
	orders := orderstore.NewSQLStore(db)
	catalog := stocks.NewSQLCatalog(db)

	loc, err := time.LoadLocation(cfg.Market.Zone)
	if err != nil {
		return fmt.Errorf("server: load market zone %s: %w", cfg.Market.Zone, err)
	}
	calendar := clock.NewCalendar(clock.RealClock{},
		clock.WithLocation(loc),
		clock.WithHours(cfg.Market.OpenHour, cfg.Market.OpenMinute, cfg.Market.CloseHour, cfg.Market.CloseMinute))

	cache := pricecache.New(rdb, cfg.Market.PriceTTL, cfg.Market.PriceTTL, cfg.Market.CloseTTL)
	oracleSvc := oracle.New(cache, calendar, cfg.Market.FreshnessWindow, nil)

	publisher, subscriber, err := busBackend(cfg.Bus)
	if err != nil {
		return err
	}
	execBus := bus.New(publisher, subscriber)

	admissionSvc := admission.New(oracleSvc, catalog, sqlLedger, orders, calendar, execBus,
		cfg.Trading.MaxQuantityPerOrder, cfg.Trading.MaxPriceMinorUnits)

	retry := retrydispatch.New(rdb, execBus, clock.RealClock{}, cfg.Trading.RetryDelay, cfg.Trading.RetryMax, cfg.Trading.RetryTTL)
	worker := matchingworker.New(execBus, orders, sqlLedger, retry, cfg.Trading.RetryMax,
		cfg.Trading.FillRateFloor, cfg.Trading.FillRateCeiling)
	opener := reservation.New(oracleSvc, sqlLedger, orders, execBus)
	refresher := feedsub.New(orders)
	cleaner := pendingcleanup.New(orders, sqlLedger, calendar)

	httpSrv := httpapi.New(admissionSvc, orders, sqlLedger, oracleSvc, calendar, cfg.Trading.AdmissionTimeout)
	mux := http.NewServeMux()
	mux.Handle("/", httpSrv.Router())
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: cfg.HTTP.Address, Handler: mux}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(loc))
	if _, err := c.AddFunc("0 50 08 * * MON-FRI", func() { refresher.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("server: schedule feed-subscription refresh: %w", err)
	}
	openSpec := fmt.Sprintf("0 %d %d * * MON-FRI", cfg.Market.OpenMinute, cfg.Market.OpenHour)
	if _, err := reservation.Schedule(c, openSpec, opener); err != nil {
		return fmt.Errorf("server: schedule reservation opener: %w", err)
	}
	if _, err := c.AddFunc("0 35 15 * * MON-FRI", func() { cleaner.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("server: schedule pending cleanup: %w", err)
	}
	if _, err := c.AddFunc("0 0 0 * * *", func() { cacheCleanupTick(context.Background(), cache) }); err != nil {
		return fmt.Errorf("server: schedule cache cleanup: %w", err)
	}

	t, ctx := tomb.WithContext(ctx)

	t.Go(func() error {
		return matchingworker.Pool(ctx, cfg.Trading.ActiveWorkers, worker)
	})

	// A single dispatcher loop: each call to RunDispatcher opens its own
	// Subscribe, and the gochannel backend fans every message out to every
	// subscriber, so launching more than one would duplicate delivery
	// instead of parallelizing it.
	t.Go(func() error {
		return retry.RunDispatcher(ctx)
	})

	c.Start()
	t.Go(func() error {
		<-ctx.Done()
		stopCtx := c.Stop()
		<-stopCtx.Done()
		return nil
	})

	t.Go(func() error {
		log.Info().Str("address", cfg.HTTP.Address).Msg("server: http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: http: %w", err)
		}
		return nil
	})
	t.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return t.Wait()
}

// busBackend selects the execution bus transport per cfg.Backend.
func busBackend(cfg config.BusConfig) (message.Publisher, message.Subscriber, error) {
	if cfg.Backend == "nats" {
		return bus.NewNATSBackend(bus.NATSConfig{
			URL:       cfg.NATSURL,
			ClusterID: cfg.NATSClusterID,
			ClientID:  cfg.NATSClientID,
		})
	}
	p, s := bus.NewGoChannelBackend()
	return p, s, nil
}

// cacheCleanupTick logs the currently active ticker set. Redis TTLs
// already expire realtime:* and close:* keys on their own; this pass
// surfaces the live count for operators rather than deleting anything
// itself.
func cacheCleanupTick(ctx context.Context, cache *pricecache.Cache) {
	tickers, err := cache.ListActiveTickers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("server: cache cleanup tick failed")
		return
	}
	log.Info().Int("activeTickers", len(tickers)).Msg("server: cache cleanup tick")
}
