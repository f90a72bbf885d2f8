// Command server wires the registry services and serves the HTTP API. Main
// stays assembly-only; behavior lives in the internal packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"contactguard/internal/blindindex"
	"contactguard/internal/canary"
	canarymetrics "contactguard/internal/canary/metrics"
	"contactguard/internal/governor"
	governormetrics "contactguard/internal/governor/metrics"
	"contactguard/internal/platform/config"
	"contactguard/internal/platform/httpserver"
	"contactguard/internal/platform/logger"
	"contactguard/internal/platform/postgres"
	"contactguard/internal/platform/redis"
	"contactguard/internal/reconciler"
	reconcilermetrics "contactguard/internal/reconciler/metrics"
	"contactguard/internal/registry/store"
	"contactguard/internal/resolver"
	resolvermetrics "contactguard/internal/resolver/metrics"
	httptransport "contactguard/internal/transport/http"
	"contactguard/internal/vault"
	vaultmetrics "contactguard/internal/vault/metrics"
	"contactguard/pkg/audit"
)

func main() {
	cfg := config.FromEnv()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "contactguard")
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The vault is fail-closed: without usable key material the process must
	// not serve encryption-dependent operations at all.
	v, err := vault.New(ctx, vault.FileKeySource{Path: cfg.MasterKeyPath}, log,
		vault.WithMetrics(vaultmetrics.New()))
	if err != nil {
		log.Fatal("master key unavailable", zap.Error(err))
	}

	deriver := blindindex.NewDeriver(cfg.BlindIndexPepper)
	if cfg.BlindIndexPepper == "" {
		log.Warn("blind index pepper not configured; equality search is disabled system-wide")
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("postgres unavailable", zap.Error(err))
	}
	defer db.Close()
	if err := store.EnsureSchema(ctx, db); err != nil {
		log.Fatal("schema bootstrap failed", zap.Error(err))
	}

	units := store.NewPostgresUnits(db)
	subjects := store.NewPostgresSubjects(db)
	prefs := store.NewPostgresPreferences(db)
	unrecognized := store.NewPostgresUnrecognized(db)

	auditPub := buildAuditPublisher(cfg, db, log)
	defer auditPub.Close() //nolint:errcheck

	var window governor.Window = governor.NewMemoryWindow(cfg.SubmitLimitPerHour, cfg.SubmitWindow)
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Fatal("redis unavailable", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
		window = governor.NewRedisWindow(redisClient.Client, cfg.SubmitLimitPerHour, cfg.SubmitWindow)
		log.Info("rate window backed by redis")
	}

	gov := governor.New(subjects, window, log,
		governor.WithPendingCeiling(cfg.PendingCeiling),
		governor.WithMetrics(governormetrics.New()))

	rec := reconciler.New(reconciler.Config{
		Units:       units,
		Subjects:    subjects,
		Preferences: prefs,
		Vault:       v,
		Deriver:     deriver,
		Tx:          reconciler.NewPostgresTx(db),
		Quota:       gov,
		Escalation:  cfg.EscalationContacts,
		Audit:       auditPub,
		Metrics:     reconcilermetrics.New(),
		Logger:      log,
	})

	aliases := resolver.NewDirectory(store.NewPostgresAliases(db))
	res := resolver.New(units, unrecognized, aliases, resolver.LevenshteinScorer{}, log,
		resolver.WithMaxInput(cfg.ResolverMaxInput),
		resolver.WithFuzzyFloor(float64(cfg.FuzzyFloor)),
		resolver.WithMetrics(resolvermetrics.New()))

	can := canary.New(units, canary.NewPostgresStore(db), log,
		canary.WithAudit(auditPub),
		canary.WithMetrics(canarymetrics.New()))

	handler := httptransport.NewHandler(res, rec, gov, can, aliases, deriver, log)
	router := httptransport.NewRouter(handler, log, promhttp.Handler())
	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildAuditPublisher always keeps the durable store sink; a configured
// broker streams the same events alongside it.
func buildAuditPublisher(cfg config.Config, db *sql.DB, log *zap.Logger) audit.Publisher {
	sinks := []audit.Publisher{audit.NewPostgresPublisher(db)}
	if len(cfg.Kafka.Seeds) > 0 {
		kafka, err := audit.NewKafkaPublisher(cfg.Kafka.Seeds, cfg.Kafka.Topic, log)
		if err != nil {
			log.Error("kafka publisher unavailable; audit events stay store-only", zap.Error(err))
		} else {
			sinks = append(sinks, kafka)
		}
	}
	if len(sinks) == 1 {
		return sinks[0]
	}
	return audit.NewFanoutPublisher(sinks...)
}
