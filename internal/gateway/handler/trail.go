package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skylink-aero/skylink/internal/audit"
	"github.com/skylink-aero/skylink/internal/identity"
	"github.com/skylink-aero/skylink/internal/pipeline"
	"github.com/skylink-aero/skylink/internal/rbac"
)

var opAuditRead = pipeline.Operation{
	Name:        "audit.read",
	Resource:    "audit",
	Permissions: []rbac.Permission{rbac.PermAuditRead},
}

// TrailHandler exposes read-only endpoints over the tamper-evident audit
// trail. Access requires the audit:read permission.
type TrailHandler struct {
	pipe   *pipeline.Pipeline
	trail  audit.Trail
	logger *zap.Logger
}

// NewTrailHandler creates a TrailHandler.
func NewTrailHandler(pipe *pipeline.Pipeline, trail audit.Trail, logger *zap.Logger) *TrailHandler {
	return &TrailHandler{pipe: pipe, trail: trail, logger: logger}
}

// Register mounts the audit trail routes on the given router group.
func (h *TrailHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("/trail", h.Overview)
		a.GET("/trail/verify", h.Verify)
		a.GET("/trail/entries/:idx", h.GetEntry)
	}
}

func (h *TrailHandler) admit(c *gin.Context) bool {
	d := h.pipe.Admit(c.Request.Context(), &pipeline.Request{
		TransportIdentity: identity.ClientCNFromCtx(c),
		RawToken:          bearerToken(c),
		Operation:         opAuditRead,
		TraceID:           TraceIDFromCtx(c),
		ClientIP:          c.ClientIP(),
	})
	if !d.Code.Success() {
		respondDecision(c, d)
		return false
	}
	return true
}

// Overview handles GET /audit/trail — the chain length and current root hash.
func (h *TrailHandler) Overview(c *gin.Context) {
	if !h.admit(c) {
		return
	}
	ctx := c.Request.Context()

	count, err := h.trail.Len(ctx)
	if err != nil {
		h.logger.Error("trail Len", zap.Error(err))
		respondError(c, http.StatusInternalServerError, string(pipeline.CodeInternalError), "failed to query audit trail")
		return
	}
	root, err := h.trail.Root(ctx)
	if err != nil {
		h.logger.Error("trail Root", zap.Error(err))
		respondError(c, http.StatusInternalServerError, string(pipeline.CodeInternalError), "failed to query audit trail")
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": count, "root": root})
}

// Verify handles GET /audit/trail/verify — walks the chain and reports integrity.
func (h *TrailHandler) Verify(c *gin.Context) {
	if !h.admit(c) {
		return
	}

	if err := h.trail.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("audit trail integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /audit/trail/entries/:idx.
func (h *TrailHandler) GetEntry(c *gin.Context) {
	if !h.admit(c) {
		return
	}

	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		respondError(c, http.StatusBadRequest, string(pipeline.CodeValidationError), "idx must be a non-negative integer")
		return
	}

	entry, err := h.trail.Get(c.Request.Context(), idx)
	if err != nil {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "entry not found")
		return
	}
	c.JSON(http.StatusOK, entry)
}
