// Command misircore is the composition root: it loads configuration,
// opens the Postgres (and optional Qdrant/Redis) connections, wires the
// services into a Server, and serves the HTTP API until SIGINT or
// SIGTERM. InitLogger runs before InitOTel; the HTTP server runs in the
// background with a bounded graceful-shutdown window on signal.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"misir/internal/analytics"
	"misir/internal/assignment"
	"misir/internal/authboundary"
	"misir/internal/config"
	"misir/internal/embedding"
	"misir/internal/httpapi"
	"misir/internal/margin"
	"misir/internal/observability"
	"misir/internal/search"
	"misir/internal/store"
	"misir/internal/vectorindex"
	"misir/internal/version"
	"misir/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("load config: " + err.Error())
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	log.Info().Str("version", version.Version).Msg("starting misircore")

	if shutdown, err := observability.InitOTel(context.Background(), cfg.Obs); err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Postgres.DSN == "" {
		log.Fatal().Msg("DATABASE_URL (or POSTGRES_DSN) is required")
	}
	pool, err := openPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres pool")
	}
	defer pool.Close()

	if err := store.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	st := store.NewPostgresStore(pool)
	provider := embedding.NewProvider(cfg.Embedding)
	index, err := buildIndex(ctx, cfg.VectorIndex, st)
	if err != nil {
		log.Fatal().Err(err).Msg("build vector index")
	}

	fieldLogger := observability.NewFieldLogger()

	marginSvc := margin.New(index, st, cfg.Learning.AssignmentMarginThreshold)

	dispatcherOpts := []webhook.Option{webhook.WithLogger(fieldLogger)}
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		dispatcherOpts = append(dispatcherOpts, webhook.WithDedupe(webhook.NewRedisDedupe(redisClient, 10*time.Minute)))
	}
	dispatcher := webhook.New(cfg.Webhook, dispatcherOpts...)
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer drainCancel()
		dispatcher.Drain(drainCtx)
	}()

	pipeline := assignment.New(provider, marginSvc, st,
		assignment.WithLogger(fieldLogger),
		assignment.WithDispatcher(dispatcher),
		assignment.WithEmbeddingDimension(cfg.Embedding.Dimension),
		assignment.WithLearningRates(cfg.Learning),
		assignment.WithReadingDepthConstants(cfg.ReadingDepth),
	)

	searchOpts := []search.Option{search.WithLogger(fieldLogger)}
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		searchOpts = append(searchOpts, search.WithCache(search.NewRedisCache(redisClient, 5*time.Minute)))
	}
	searchSvc := search.New(provider, index, st, searchOpts...)

	analyticsSvc := analytics.New(st)

	resolve := devBearerResolver()
	server := httpapi.NewServer(pipeline, searchSvc, analyticsSvc, st, resolve)

	// otelhttp on the serving side opens a span per request, so the request
	// log's trace/span ids line up with the exported traces.
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: otelhttp.NewHandler(server, "misir.api")}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
}

func openPostgresPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// buildIndex picks the configured vector-index backend. Postgres is the
// default (pgvector columns the store's own migration creates); Qdrant is
// opt-in for deployments that want the prefilter/rerank collections on a
// dedicated ANN service instead of pgvector's ivfflat index.
func buildIndex(ctx context.Context, cfg config.VectorIndexParams, fallback vectorindex.Index) (vectorindex.Index, error) {
	if cfg.Backend != "qdrant" || cfg.QdrantDSN == "" {
		return fallback, nil
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: qdrantHost(cfg.QdrantDSN), Port: 6334})
	if err != nil {
		return nil, err
	}
	return vectorindex.NewQdrantIndex(client, cfg.QdrantPrefColl, cfg.QdrantFullColl), nil
}

func qdrantHost(dsn string) string {
	// DSN is host[:port]; Qdrant's Go client takes host/port separately
	// rather than a URL, so strip a port if present.
	for i, c := range dsn {
		if c == ':' {
			return dsn[:i]
		}
	}
	return dsn
}

// devBearerResolver is the seam an external identity service plugs into:
// it resolves a bearer token to a user_id string, and the core never
// parses tokens itself. No JWT/OIDC verification lives in this repo; in
// production this function is replaced with a call to whatever identity
// service issued the token. For a bare deployment it treats the bearer
// token itself as the user id, so local development and integration tests
// can drive the API without a separate identity provider running.
func devBearerResolver() authboundary.Resolver {
	return func(_ context.Context, token string) (string, bool) {
		if token == "" {
			return "", false
		}
		return token, true
	}
}
