// The sweeper runs the two background cycles: releasing held earnings
// whose warranty window elapsed, and expiring OPEN jobs whose visibility
// window elapsed.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/mistriworks/backend/internal/config"
	"github.com/mistriworks/backend/internal/expiry"
	"github.com/mistriworks/backend/internal/lifecycle"
	"github.com/mistriworks/backend/internal/notify"
	"github.com/mistriworks/backend/internal/settlement"
	"github.com/mistriworks/backend/internal/store"
	"github.com/mistriworks/backend/internal/telemetry"
)

const sweepBatch = 500

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	events := notify.New(rdb, cfg.NotifyRetries)
	rates := settlement.StaticRates{Default: cfg.DefaultCommissionRate}
	settlements := settlement.NewEngine(st, rates, events, cfg.ProductHoldDays)
	jobs := lifecycle.NewController(st, events)
	deadlines := expiry.NewDeadlines(rdb)

	c := cron.New()
	if _, err := c.AddFunc(cfg.ReleaseSweepSpec, func() {
		released, err := settlements.SweepReleases(ctx, time.Now())
		if err != nil {
			log.Printf("release sweep: %v", err)
			return
		}
		if len(released) > 0 {
			telemetry.EarningsReleased.Add(float64(len(released)))
			log.Printf("release sweep: released %d payouts", len(released))
		}
	}); err != nil {
		log.Fatalf("schedule release sweep: %v", err)
	}
	if _, err := c.AddFunc(cfg.ExpirySweepSpec, func() {
		expired, err := deadlines.Sweep(ctx, jobs, time.Now(), sweepBatch)
		if err != nil {
			log.Printf("expiry sweep: %v", err)
			return
		}
		if expired > 0 {
			telemetry.JobsExpired.Add(float64(expired))
			log.Printf("expiry sweep: expired %d jobs", expired)
		}
	}); err != nil {
		log.Fatalf("schedule expiry sweep: %v", err)
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("sweeper started release=%q expiry=%q", cfg.ReleaseSweepSpec, cfg.ExpirySweepSpec)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}
