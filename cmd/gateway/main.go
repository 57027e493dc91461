package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/skylink-aero/skylink/internal/audit"
	"github.com/skylink-aero/skylink/internal/gateway/handler"
	"github.com/skylink-aero/skylink/internal/health"
	"github.com/skylink-aero/skylink/internal/idempotency"
	"github.com/skylink-aero/skylink/internal/identity"
	"github.com/skylink-aero/skylink/internal/pipeline"
	"github.com/skylink-aero/skylink/internal/ratelimit"
	"github.com/skylink-aero/skylink/internal/rbac"
	"github.com/skylink-aero/skylink/internal/telemetry"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const version = "1.2.0"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("gateway exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("gateway")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("gateway.port", 8080)
	viper.SetDefault("gateway.tls_port", 8443)
	viper.SetDefault("gateway.cors_origins", []string{})
	viper.SetDefault("gateway.edge_rps", 50)
	viper.SetDefault("gateway.bootstrap_secret_hash", "")
	viper.SetDefault("gateway.dev_cn", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("identity.key_file", "")
	viper.SetDefault("identity.audience", identity.DefaultAudience)
	viper.SetDefault("identity.token_ttl_seconds", 900)
	viper.SetDefault("identity.tls_enabled", true)
	viper.SetDefault("identity.tls_cert", "certs/gateway.crt")
	viper.SetDefault("identity.tls_key", "certs/gateway.key")
	viper.SetDefault("identity.tls_ca", "certs/fleet-ca.crt")
	viper.SetDefault("ratelimit.per_identity", 60)
	viper.SetDefault("ratelimit.window", "1m")
	viper.SetDefault("ratelimit.global", 10)
	viper.SetDefault("ratelimit.global_window", "1s")
	viper.SetDefault("idempotency.ttl", "24h")
	viper.SetDefault("upstream.weather_health_url", "")
	viper.SetDefault("upstream.contacts_health_url", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Storage backends ─────────────────────────────────────────────────────
	var db *pgxpool.Pool
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		db = pool
		logger.Info("connected to postgres")
	} else {
		logger.Warn("database.url not set, using in-memory stores; state is lost on restart")
	}

	var rdb redis.UniversalClient
	if addr := viper.GetString("redis.addr"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis", zap.String("addr", addr))
	}

	// ── Audit trail ──────────────────────────────────────────────────────────
	var trail audit.Trail
	if db != nil {
		trail = audit.NewPostgresTrail(db, logger)
	} else {
		trail = audit.NewMemoryTrail()
	}

	startCtx := context.Background()
	if err := trail.Verify(startCtx); err != nil {
		logger.Warn("audit trail integrity check FAILED", zap.Error(err))
	} else {
		n, _ := trail.Len(startCtx)
		root, _ := trail.Root(startCtx)
		logger.Info("audit trail verified", zap.Int("entries", n), zap.String("root", root))
	}

	auditLog := audit.NewLogger(logger, trail)

	// ── Identity (signing key, issuer, verifier) ─────────────────────────────
	var signingKey *rsa.PrivateKey
	if keyFile := viper.GetString("identity.key_file"); keyFile != "" {
		key, err := identity.LoadPrivateKey(keyFile)
		if err != nil {
			return fmt.Errorf("load signing key: %w", err)
		}
		signingKey = key
		logger.Info("token signing key loaded", zap.String("path", keyFile))
	} else {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return fmt.Errorf("generate signing key: %w", err)
		}
		signingKey = key
		logger.Warn("identity.key_file not set, using an ephemeral signing key; tokens do not survive restarts")
	}

	audience := viper.GetString("identity.audience")
	tokenTTL := time.Duration(viper.GetInt("identity.token_ttl_seconds")) * time.Second
	issuer := identity.NewTokenIssuer(signingKey, audience, tokenTTL)
	verifier := identity.NewTokenVerifier(&signingKey.PublicKey, audience)

	// ── Rate limiting ────────────────────────────────────────────────────────
	window, err := time.ParseDuration(viper.GetString("ratelimit.window"))
	if err != nil || window <= 0 {
		window = time.Minute
	}
	globalWindow, err := time.ParseDuration(viper.GetString("ratelimit.global_window"))
	if err != nil || globalWindow <= 0 {
		globalWindow = time.Second
	}

	var limitStore ratelimit.Store
	if rdb != nil {
		limitStore = ratelimit.NewRedisStore(rdb, "skylink:rl")
	} else {
		memStore := ratelimit.NewMemoryStore()
		defer memStore.Close()
		limitStore = memStore
	}
	perIdentity := ratelimit.New(limitStore, viper.GetInt("ratelimit.per_identity"), window)
	global := ratelimit.New(limitStore, viper.GetInt("ratelimit.global"), globalWindow)

	// ── Idempotency ──────────────────────────────────────────────────────────
	var idemStore idempotency.Store
	switch {
	case db != nil:
		idemStore = idempotency.NewPostgresStore(db)
	case rdb != nil:
		ttl, err := time.ParseDuration(viper.GetString("idempotency.ttl"))
		if err != nil || ttl <= 0 {
			ttl = 24 * time.Hour
		}
		idemStore = idempotency.NewRedisStore(rdb, "skylink:idem", ttl)
	default:
		idemStore = idempotency.NewMemoryStore()
	}

	// ── Admission pipeline ───────────────────────────────────────────────────
	pipe := pipeline.New(pipeline.Config{
		Verifier:    verifier,
		Enforcer:    rbac.NewEnforcer(auditLog),
		PerIdentity: perIdentity,
		Global:      global,
		Idempotency: idempotency.NewEngine(idemStore),
		Audit:       auditLog,
		Logger:      logger,
	})

	// ── Telemetry store ──────────────────────────────────────────────────────
	var repo telemetry.Repository
	if db != nil {
		repo = telemetry.NewPostgresRepository(db)
	} else {
		repo = telemetry.NewMemoryRepository()
	}

	// ── Handlers ─────────────────────────────────────────────────────────────
	authHandler := handler.NewAuthHandler(issuer, viper.GetStringMapString("identity.roles"), auditLog, logger)
	if hash := viper.GetString("gateway.bootstrap_secret_hash"); hash != "" {
		authHandler.SetBootstrapSecretHash(hash)
	}
	telemetryHandler := handler.NewTelemetryHandler(pipe, repo, logger)
	weatherHandler := handler.NewWeatherHandler(pipe, handler.StaticWeather{}, auditLog, logger)
	contactsHandler := handler.NewContactsHandler(pipe, defaultContacts(), auditLog, logger)
	trailHandler := handler.NewTrailHandler(pipe, trail, logger)
	configHandler := handler.NewConfigHandler(pipe, logger)

	// ── Upstream health checker ──────────────────────────────────────────────
	var upstreams []health.Upstream
	if u := viper.GetString("upstream.weather_health_url"); u != "" {
		upstreams = append(upstreams, health.Upstream{Name: "weather", URL: u})
	}
	if u := viper.GetString("upstream.contacts_health_url"); u != "" {
		upstreams = append(upstreams, health.Upstream{Name: "contacts", URL: u})
	}
	checker := health.New(upstreams, health.Config{}, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("gateway.cors_origins")
	if len(corsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  corsOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept"},
			ExposeHeaders: []string{"Content-Length", "Retry-After", "X-Trace-Id"},
			MaxAge:        12 * time.Hour,
		}))
	}

	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit())
	router.Use(handler.TraceID())
	router.Use(handler.PrometheusMiddleware())
	router.Use(handler.RequestLogger(logger))

	if rps := viper.GetInt("gateway.edge_rps"); rps > 0 {
		edge := ratelimit.NewEdge(rps, rps*2)
		defer edge.Close()
		router.Use(edge.Middleware())
	}

	// Health and metrics (public, no client certificate)
	router.GET("/healthz", func(c *gin.Context) {
		status, state := http.StatusOK, "ok"
		if !checker.Healthy() {
			status, state = http.StatusServiceUnavailable, "degraded"
		}
		c.JSON(status, gin.H{
			"status":    state,
			"version":   version,
			"upstreams": checker.Snapshot(),
		})
	})
	router.GET("/metrics", handler.MetricsHandler())

	// API v1: every route requires a verified client certificate. The dev_cn
	// escape hatch injects a fixed identity when mTLS is disabled so the
	// gateway stays usable on a plain HTTP listener during development.
	tlsEnabled := viper.GetBool("identity.tls_enabled")
	identityMW := identity.RequireClientCert()
	if !tlsEnabled {
		devCN := viper.GetString("gateway.dev_cn")
		if devCN == "" {
			return fmt.Errorf("identity.tls_enabled is false and gateway.dev_cn is not set; refusing to serve an API with no client identity")
		}
		logger.Warn("mTLS disabled, all requests act as a fixed identity; do not use in production",
			zap.String("dev_cn", devCN))
		identityMW = func(c *gin.Context) {
			identity.SetClientCN(c, devCN)
			c.Next()
		}
	}

	v1 := router.Group("/api/v1")
	v1.Use(identityMW)
	authHandler.Register(v1)
	telemetryHandler.Register(v1)
	weatherHandler.Register(v1)
	contactsHandler.Register(v1)
	trailHandler.Register(v1)
	configHandler.Register(v1)

	// ── Servers ──────────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	checkerCtx, stopChecker := context.WithCancel(context.Background())
	defer stopChecker()
	if len(upstreams) > 0 {
		go checker.Start(checkerCtx)
	}

	auditLog.ServiceStarted(startCtx, version)

	httpPort := viper.GetInt("gateway.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("gateway HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	var tlsSrv *http.Server
	if tlsEnabled {
		tlsCfg, err := identity.ServerTLSConfig(identity.MTLSConfig{
			Enabled:    true,
			CertFile:   viper.GetString("identity.tls_cert"),
			KeyFile:    viper.GetString("identity.tls_key"),
			CACertFile: viper.GetString("identity.tls_ca"),
		})
		if err != nil {
			return fmt.Errorf("build mTLS config: %w", err)
		}

		tlsPort := viper.GetInt("gateway.tls_port")
		tlsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", tlsPort),
			Handler:           router,
			TLSConfig:         tlsCfg,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("gateway HTTPS/mTLS listening", zap.Int("port", tlsPort))
			if err := tlsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("TLS listen error", zap.Error(err))
			}
		}()
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down gateway...")
	auditLog.ServiceStopped(startCtx, "signal")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if tlsSrv != nil {
		if err := tlsSrv.Shutdown(ctx); err != nil {
			logger.Error("TLS shutdown error", zap.Error(err))
		}
	}

	logger.Info("gateway stopped")
	return nil
}

// defaultContacts is the built-in ground-station directory served when no
// upstream contacts service is configured.
func defaultContacts() *handler.StaticContacts {
	return &handler.StaticContacts{Entries: []handler.Contact{
		{ID: "GS-001", Name: "Northfield Ground", Callsign: "NORTH", Frequency: 121.70, Region: "north"},
		{ID: "GS-002", Name: "Harbor Approach", Callsign: "HARBOR", Frequency: 119.10, Region: "east"},
		{ID: "GS-003", Name: "Ridgeline Center", Callsign: "RIDGE", Frequency: 128.45, Region: "west"},
		{ID: "GS-004", Name: "Southgate Tower", Callsign: "SGATE", Frequency: 118.30, Region: "south"},
	}}
}
