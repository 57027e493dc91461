// The telemetry service is the downstream store behind the gateway. It
// verifies gateway-signed bearer tokens with the gateway's public key, checks
// that the token subject owns the submitted event, and persists events
// idempotently.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/skylink-aero/skylink/internal/gateway/handler"
	"github.com/skylink-aero/skylink/internal/idempotency"
	"github.com/skylink-aero/skylink/internal/identity"
	"github.com/skylink-aero/skylink/internal/telemetry"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("telemetry service exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	viper.SetConfigName("telemetry")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("telemetry.port", 8090)
	viper.SetDefault("database.url", "")
	viper.SetDefault("identity.public_key_file", "")
	viper.SetDefault("identity.audience", identity.DefaultAudience)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	keyFile := viper.GetString("identity.public_key_file")
	if keyFile == "" {
		return errors.New("identity.public_key_file is required: the service cannot verify gateway tokens without it")
	}
	pub, err := identity.LoadPublicKey(keyFile)
	if err != nil {
		return fmt.Errorf("load gateway public key: %w", err)
	}
	verifier := identity.NewTokenVerifier(pub, viper.GetString("identity.audience"))

	var repo telemetry.Repository
	var idemStore idempotency.Store
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		repo = telemetry.NewPostgresRepository(pool)
		idemStore = idempotency.NewPostgresStore(pool)
	} else {
		logger.Warn("database.url not set, using in-memory stores; state is lost on restart")
		repo = telemetry.NewMemoryRepository()
		idemStore = idempotency.NewMemoryStore()
	}

	svc := &service{
		verifier: verifier,
		engine:   idempotency.NewEngine(idemStore),
		repo:     repo,
		logger:   logger,
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit())
	router.Use(handler.TraceID())
	router.Use(handler.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	v1.POST("/events", svc.storeEvent)
	v1.GET("/events/:aircraft_id", svc.listEvents)

	port := viper.GetInt("telemetry.port")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("telemetry service listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down telemetry service...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("telemetry service stopped")
	return nil
}

type service struct {
	verifier *identity.TokenVerifier
	engine   *idempotency.Engine
	repo     telemetry.Repository
	logger   *zap.Logger
}

// authorize verifies the bearer token and returns its subject, or writes an
// error response and returns the empty string.
func (s *service) authorize(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || raw == "" {
		respondError(c, http.StatusUnauthorized, "TOKEN_INVALID", "bearer token required")
		return ""
	}

	claims, err := s.verifier.Verify(raw)
	if err != nil {
		code := "TOKEN_INVALID"
		if errors.Is(err, identity.ErrTokenExpired) {
			code = "TOKEN_EXPIRED"
		}
		respondError(c, http.StatusUnauthorized, code, "token rejected")
		return ""
	}
	return claims.Subject
}

func (s *service) storeEvent(c *gin.Context) {
	subject := s.authorize(c)
	if subject == "" {
		return
	}

	var event telemetry.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "malformed event payload")
		return
	}
	if verr := event.Validate(); verr != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error())
		return
	}
	if event.AircraftID != subject {
		respondError(c, http.StatusForbidden, "IDENTITY_SPOOFED",
			"event aircraft_id does not match the token subject")
		return
	}

	payload, err := event.CanonicalJSON()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	fingerprint := idempotency.Fingerprint(payload)
	outcome, err := s.engine.Check(c.Request.Context(), subject, event.EventID, fingerprint)
	if err != nil {
		s.logger.Error("idempotency check failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	switch outcome {
	case idempotency.OutcomeCreated:
		if err := s.repo.Save(c.Request.Context(), &event); err != nil {
			s.logger.Error("save event failed", zap.Error(err), zap.String("event_id", event.EventID))
			// Undo the record so a retry is admitted as created again instead
			// of answered duplicate for an event that was never stored.
			releaseCtx := context.WithoutCancel(c.Request.Context())
			if rerr := s.engine.Release(releaseCtx, subject, event.EventID, fingerprint); rerr != nil {
				s.logger.Error("release idempotency record", zap.Error(rerr), zap.String("event_id", event.EventID))
			}
			respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": "created", "event_id": event.EventID})
	case idempotency.OutcomeDuplicate:
		c.JSON(http.StatusOK, gin.H{"status": "duplicate", "event_id": event.EventID})
	default:
		respondError(c, http.StatusConflict, "IDEMPOTENCY_CONFLICT",
			"event id already recorded with a different payload")
	}
}

func (s *service) listEvents(c *gin.Context) {
	subject := s.authorize(c)
	if subject == "" {
		return
	}

	aircraftID := c.Param("aircraft_id")
	if aircraftID != subject {
		respondError(c, http.StatusForbidden, "PERMISSION_DENIED",
			"token subject may only read its own events")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := s.repo.List(c.Request.Context(), aircraftID, limit)
	if err != nil {
		s.logger.Error("list events failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	if events == nil {
		events = []*telemetry.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"items": events, "count": len(events)})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
