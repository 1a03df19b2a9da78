package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peerlab/gateway/internal/app"
	"github.com/peerlab/gateway/internal/asn"
	"github.com/peerlab/gateway/internal/enrich"
	"github.com/peerlab/gateway/internal/identity"
	"github.com/peerlab/gateway/internal/mapping"
	"github.com/peerlab/gateway/internal/observability"
	"github.com/peerlab/gateway/internal/platform/cache"
	"github.com/peerlab/gateway/internal/platform/db"
	"github.com/peerlab/gateway/internal/prefix"
	"github.com/peerlab/gateway/internal/user"
)

// poolGaugeInterval is how often pool occupancy gauges are refreshed from the
// store.
const poolGaugeInterval = 30 * time.Second

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asnPool := asn.NewPool(cfg.ASNPoolStart, cfg.ASNPoolEnd)
	logger.Info("asn pool configured",
		slog.Int("start", int(asnPool.Start)), slog.Int("end", int(asnPool.End)), slog.Int("size", int(asnPool.Size())))

	prefixPool, err := prefix.LoadPool(cfg.PrefixPoolFile, logger)
	if err != nil {
		logger.Error("load prefix pool", slog.Any("error", err))
		os.Exit(1)
	}

	var resolver enrich.Resolver = enrich.Noop{}
	if cfg.EnrichmentConfigured() {
		idp := enrich.NewIdP(enrich.IdPConfig{
			ManagementAPI: cfg.IdPManagementAPI,
			AppID:         cfg.IdPM2MAppID,
			AppSecret:     cfg.IdPM2MAppSecret,
		})
		resolver = enrich.NewCached(idp, redisClient, cfg.EmailCacheTTL)
		logger.Info("email enrichment enabled")
	} else {
		logger.Warn("identity provider not fully configured, email enrichment disabled")
	}

	asnRepo := asn.NewRepository(dbpool)
	asnService := asn.NewService(asnRepo, asnPool, logger)

	prefixRepo := prefix.NewRepository(dbpool)
	prefixService := prefix.NewService(prefixRepo, prefixPool, logger)

	mappingService := mapping.NewService(asnRepo, prefixRepo, resolver, cfg.EnrichTimeout, logger)

	var keys *identity.KeySet
	if cfg.JWTJWKSURI != "" {
		keys = identity.NewKeySet(cfg.JWTJWKSURI, nil)
	} else if !cfg.JWTBypass {
		logger.Warn("jwks uri not configured, end-user authentication will reject all tokens")
	}
	if cfg.JWTBypass {
		logger.Warn("jwt validation bypass is enabled, do not use in production",
			slog.String("dev_subject", cfg.JWTDevSubject))
	}

	metrics := observability.NewMetrics()
	go refreshPoolGauges(ctx, metrics, asnRepo, asnPool, prefixRepo, prefixPool, logger)

	userHandler := user.NewHandler(logger, asnService, prefixService)
	mappingHandler := mapping.NewHandler(logger, mappingService)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		UserHandler:    userHandler,
		MappingHandler: mappingHandler,
		UserAuth: identity.UserAuth(identity.UserAuthConfig{
			Logger:     logger,
			Keys:       keys,
			Issuer:     cfg.JWTIssuer,
			Bypass:     cfg.JWTBypass,
			DevSubject: cfg.JWTDevSubject,
		}),
		AgentAuth: identity.AgentAuth(logger, cfg.AgentKey),
		Metrics:   metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// refreshPoolGauges periodically republishes pool occupancy derived from the
// store. Gauges are advisory; allocation never consults them.
func refreshPoolGauges(ctx context.Context, metrics *observability.Metrics, asnRepo asn.Repository, asnPool asn.Pool, prefixRepo prefix.Repository, prefixPool prefix.Pool, logger *slog.Logger) {
	ticker := time.NewTicker(poolGaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		assigned, err := asnRepo.AssignedInRange(ctx, asnPool.Start, asnPool.End)
		if err != nil {
			logger.Warn("refresh asn gauge", slog.Any("error", err))
			continue
		}
		metrics.SetPoolOccupancy("asn", int64(len(assigned)), int64(asnPool.Size()))

		active, err := prefixRepo.CountActive(ctx)
		if err != nil {
			logger.Warn("refresh prefix gauge", slog.Any("error", err))
			continue
		}
		metrics.SetPoolOccupancy("prefix", active, int64(prefixPool.Len()))
	}
}
