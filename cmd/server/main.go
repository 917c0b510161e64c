package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bursar/config"
	"bursar/internal/cache"
	"bursar/internal/clock"
	"bursar/internal/database"
	"bursar/internal/iap"
	"bursar/internal/router"
	"bursar/internal/service"
	"bursar/pkg/gateway"
	"bursar/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.Server.Env)

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	clk := clock.RealClock{}

	var gw gateway.Gateway
	if cfg.Stripe.SecretKey != "" {
		gw = gateway.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.Timeout)
	} else {
		log.Warn("stripe secret key not set, using stub gateway")
		gw = &gateway.StubGateway{}
	}

	var appleVerifier service.AppleTransactionVerifier
	if cfg.Apple.BundleID != "" {
		v, err := iap.NewAppleVerifier(cfg.Apple.BundleID, cfg.Apple.Environment, cfg.Apple.RootCertsPath, clk)
		if err != nil {
			log.Fatalf("apple verifier: %v", err)
		}
		appleVerifier = v
	} else {
		log.Warn("apple bundle id not set, apple receipt verification disabled")
	}

	var googleVerifier service.GooglePurchaseVerifier
	if cfg.Google.PackageName != "" {
		v, err := iap.NewGoogleVerifier(context.Background(), cfg.Google.PackageName, cfg.Google.ServiceAccountJSON)
		if err != nil {
			log.Fatalf("google verifier: %v", err)
		}
		googleVerifier = v
	} else {
		log.Warn("google package name not set, google receipt verification disabled")
	}

	var counter cache.Counter
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCounter(cfg.Redis.Addr)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		counter = rc
		log.Infof("rate limiting backed by redis at %s", cfg.Redis.Addr)
	} else {
		counter = cache.NewMemoryCounter(clk)
	}

	engine := router.Setup(cfg, db, router.Deps{
		Gateway: gw,
		Apple:   appleVerifier,
		Google:  googleVerifier,
		Counter: counter,
		Clock:   clk,
		Reg:     prometheus.NewRegistry(),
		Log:     log,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Infof("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server shutdown: %v", err)
	}
	log.Info("server stopped")
}
