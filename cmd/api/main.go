package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"idgate.org/internal/config"
	"idgate.org/internal/httpapi"
	"idgate.org/internal/identity"
	"idgate.org/internal/mfa"
	"idgate.org/internal/obs"
	"idgate.org/internal/rbac"
	"idgate.org/internal/store/memory"
	"idgate.org/internal/store/pg"
	"idgate.org/internal/token"
)

var version = "0.3.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var (
		store rbac.Store
		db    *sql.DB
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
		obs.LogEvent("info", "using postgres store", nil)
	} else {
		store = memory.New()
		obs.LogEvent("warn", "no DSN configured, using in-memory store", nil)
	}

	rbacSvc, err := rbac.NewService(store)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}
	if err := rbacSvc.EnsureDefaultRoles(context.Background()); err != nil {
		log.Fatalf("seed default roles: %v", err)
	}

	tokens, err := token.NewService(cfg.TokenSecret, cfg.TokenIssuer, token.WithTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	resolver := identity.NewResolver(store)
	mfaSvc := mfa.NewService(store, tokens, cfg.MFAIssuer)

	api := httpapi.New(rbacSvc, resolver, mfaSvc, tokens, httpapi.ReadyProbe{DB: db}, version, httpapi.Options{
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		LoginSecret:    cfg.LoginSecret,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	log.Printf("Starting idgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
