package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mistriworks/backend/internal/api"
	"github.com/mistriworks/backend/internal/completion"
	"github.com/mistriworks/backend/internal/config"
	"github.com/mistriworks/backend/internal/expiry"
	"github.com/mistriworks/backend/internal/lifecycle"
	"github.com/mistriworks/backend/internal/location"
	"github.com/mistriworks/backend/internal/matching"
	"github.com/mistriworks/backend/internal/negotiation"
	"github.com/mistriworks/backend/internal/notify"
	"github.com/mistriworks/backend/internal/photos"
	"github.com/mistriworks/backend/internal/ratelimit"
	"github.com/mistriworks/backend/internal/settlement"
	"github.com/mistriworks/backend/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
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
	limiter := ratelimit.New(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	deadlines := expiry.NewDeadlines(rdb)
	tracker := location.NewTracker(rdb)

	var uploader photos.Uploader
	if cfg.PhotoS3Bucket != "" {
		uploader, err = photos.NewS3Uploader(ctx, photos.S3Options{
			Bucket:    cfg.PhotoS3Bucket,
			Region:    cfg.PhotoS3Region,
			Endpoint:  cfg.PhotoS3Endpoint,
			PathStyle: cfg.PhotoS3PathStyle,
		})
		if err != nil {
			log.Fatalf("init photo storage: %v", err)
		}
	} else {
		uploader = photos.NewLocalUploader(cfg.PhotoLocalDir)
	}
	ingestor := photos.NewIngestor(uploader, cfg.PhotoMaxEdge)

	rates := settlement.StaticRates{Default: cfg.DefaultCommissionRate}
	settlements := settlement.NewEngine(st, rates, events, cfg.ProductHoldDays)
	negotiator := negotiation.NewEngine(st, events, cfg.NegotiationRoundCap)
	jobs := lifecycle.NewController(st, events)
	verifier := completion.NewVerifier(st, rdb, events, settlements, completion.Options{
		CodeTTL:     cfg.CodeTTL,
		MaxAttempts: cfg.MaxVerifyAttempts,
	})
	matcher := matching.New(st)

	server := api.New(cfg, st, matcher, negotiator, jobs, verifier, settlements, ingestor, tracker, deadlines, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
