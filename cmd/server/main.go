// Command server runs the forge certification API: the pipeline state
// machine, the certificate registry, the license ledger and the audit chain
// behind one HTTP surface.
//
// Storage is selected by configuration. With DATABASE_URL set everything
// persists to Postgres; without it the process runs fully in memory, which
// is the mode used for local development and the end-to-end tests.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	auditchain "forgecert/internal/audit"
	audithandler "forgecert/internal/audit/handler"
	"forgecert/internal/audit/publisher"
	auditmemory "forgecert/internal/audit/store/memory"
	auditpostgres "forgecert/internal/audit/store/postgres"
	"forgecert/internal/certificate/cache"
	certhandler "forgecert/internal/certificate/handler"
	certservice "forgecert/internal/certificate/service"
	certstore "forgecert/internal/certificate/store"
	forgehandler "forgecert/internal/forge/handler"
	forgeservice "forgecert/internal/forge/service"
	forgestore "forgecert/internal/forge/store"
	licensehandler "forgecert/internal/license/handler"
	licenseservice "forgecert/internal/license/service"
	licensestore "forgecert/internal/license/store"
	"forgecert/internal/platform/config"
	"forgecert/internal/platform/httpserver"
	"forgecert/internal/platform/logger"
	"forgecert/internal/platform/metrics"
	"forgecert/internal/platform/middleware"
	"forgecert/internal/platform/postgres"
	"forgecert/internal/platform/redis"
	"forgecert/internal/sweeper"
	httptransport "forgecert/internal/transport/http"
	txcontext "forgecert/pkg/platform/tx"
)

func main() {
	log := logger.New()
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	m := metrics.New()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Store selection: Postgres when configured, in-memory otherwise. The
	// services only see the interfaces, so the split stays in main.
	var (
		auditStore   auditchain.Store
		forgeStore   forgeservice.Store
		certStore    certStoreDeps
		licenseStore licenseStoreDeps
	)
	txRunner := txcontext.Runner(txcontext.Passthrough{})
	if db != nil {
		auditStore = auditpostgres.New(db)
		forgeStore = forgestore.NewPostgres(db)
		certStore = certstore.NewPostgres(db)
		licenseStore = licensestore.NewPostgres(db)
		txRunner = txcontext.NewSQLRunner(db)
	} else {
		auditStore = auditmemory.New()
		forgeStore = forgestore.NewInMemory()
		certStore = certstore.NewInMemory()
		licenseStore = licensestore.NewInMemory()
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	chainOpts := []auditchain.Option{
		auditchain.WithLogger(log),
		auditchain.WithMetrics(m),
	}
	kafka, err := publisher.NewKafka(ctx, cfg.KafkaBrokers, cfg.AuditTopic, log)
	if err != nil {
		return err
	}
	if kafka != nil {
		defer kafka.Close()
		chainOpts = append(chainOpts, auditchain.WithPublisher(kafka))
	}
	chain, err := auditchain.NewChain(ctx, auditStore, chainOpts...)
	if err != nil {
		return err
	}

	forgeSvc, err := forgeservice.New(forgeStore, chain,
		forgeservice.WithLogger(log),
		forgeservice.WithMetrics(m),
		forgeservice.WithTxRunner(txRunner),
	)
	if err != nil {
		return err
	}

	certOpts := []certservice.Option{
		certservice.WithLogger(log),
		certservice.WithMetrics(m),
		certservice.WithTxRunner(txRunner),
	}
	if verifyCache := cache.NewRedis(redisClient); verifyCache != nil {
		certOpts = append(certOpts, certservice.WithCache(verifyCache))
	}
	certSvc, err := certservice.New(certStore, forgeStore, chain, certOpts...)
	if err != nil {
		return err
	}

	licenseSvc, err := licenseservice.New(licenseStore, certSvc, chain,
		licenseservice.WithLogger(log),
		licenseservice.WithMetrics(m),
		licenseservice.WithTxRunner(txRunner),
	)
	if err != nil {
		return err
	}

	checks := map[string]httptransport.HealthCheck{}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}

	certH := certhandler.New(certSvc, log)
	router := httptransport.NewRouter(
		log, m,
		middleware.NewJWTResolver(cfg.JWTSigningKey),
		[]httptransport.Registrar{
			forgehandler.New(forgeSvc, log),
			certH,
			licensehandler.New(licenseSvc, log),
			audithandler.New(chain, log),
		},
		[]httptransport.PublicRegistrar{certH},
		checks,
	)

	sweep := sweeper.New(cfg.SweepInterval, licenseStore, certStore, chain, log)
	go func() {
		if err := sweep.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("sweeper stopped", "error", err)
		}
	}()

	srv := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// certStoreDeps is the union of what the certificate service and the sweeper
// need from a certificate store.
type certStoreDeps interface {
	certservice.Store
	sweeper.Expirer
}

// licenseStoreDeps is the union of what the license service and the sweeper
// need from a license store.
type licenseStoreDeps interface {
	licenseservice.Store
	sweeper.Expirer
}
