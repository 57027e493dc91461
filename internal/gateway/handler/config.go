package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skylink-aero/skylink/internal/identity"
	"github.com/skylink-aero/skylink/internal/pipeline"
	"github.com/skylink-aero/skylink/internal/rbac"
)

var (
	opConfigRead = pipeline.Operation{
		Name:        "config.read",
		Resource:    "config",
		Permissions: []rbac.Permission{rbac.PermConfigRead},
	}
	opConfigWrite = pipeline.Operation{
		Name:        "config.write",
		Resource:    "config",
		Permissions: []rbac.Permission{rbac.PermConfigWrite},
	}
)

// FleetConfig is the operator-tunable configuration pushed to aircraft:
// reporting cadence and which optional metrics to include.
type FleetConfig struct {
	ReportIntervalSeconds int      `json:"report_interval_seconds"`
	MetricsEnabled        []string `json:"metrics_enabled"`
	MaintenanceMode       bool     `json:"maintenance_mode"`
}

func defaultFleetConfig() FleetConfig {
	return FleetConfig{
		ReportIntervalSeconds: 60,
		MetricsEnabled:        []string{"speed", "altitude", "gps"},
	}
}

// ConfigHandler exposes fleet configuration. Reads require config:read
// (maintenance and admin); writes require config:write (admin only).
type ConfigHandler struct {
	pipe   *pipeline.Pipeline
	logger *zap.Logger

	mu  sync.RWMutex
	cfg FleetConfig
}

// NewConfigHandler creates a ConfigHandler with the default fleet config.
func NewConfigHandler(pipe *pipeline.Pipeline, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{pipe: pipe, logger: logger, cfg: defaultFleetConfig()}
}

// Register mounts the config routes on the given router group.
func (h *ConfigHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/config", h.Get)
	rg.PUT("/config", h.Put)
}

func (h *ConfigHandler) admit(c *gin.Context, op pipeline.Operation) bool {
	d := h.pipe.Admit(c.Request.Context(), &pipeline.Request{
		TransportIdentity: identity.ClientCNFromCtx(c),
		RawToken:          bearerToken(c),
		Operation:         op,
		TraceID:           TraceIDFromCtx(c),
		ClientIP:          c.ClientIP(),
	})
	if !d.Code.Success() {
		respondDecision(c, d)
		return false
	}
	return true
}

// Get handles GET /config.
func (h *ConfigHandler) Get(c *gin.Context) {
	if !h.admit(c, opConfigRead) {
		return
	}
	h.mu.RLock()
	cfg := h.cfg
	h.mu.RUnlock()
	c.JSON(http.StatusOK, cfg)
}

// Put handles PUT /config.
func (h *ConfigHandler) Put(c *gin.Context) {
	if !h.admit(c, opConfigWrite) {
		return
	}

	var cfg FleetConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, string(pipeline.CodeValidationError), "malformed config")
		return
	}
	if cfg.ReportIntervalSeconds < 1 || cfg.ReportIntervalSeconds > 3600 {
		respondError(c, http.StatusBadRequest, string(pipeline.CodeValidationError),
			"report_interval_seconds must be between 1 and 3600")
		return
	}

	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	h.logger.Info("fleet config updated",
		zap.Int("report_interval_seconds", cfg.ReportIntervalSeconds),
		zap.Bool("maintenance_mode", cfg.MaintenanceMode),
	)
	c.JSON(http.StatusOK, cfg)
}
