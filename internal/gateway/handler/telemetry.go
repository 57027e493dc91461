package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skylink-aero/skylink/internal/identity"
	"github.com/skylink-aero/skylink/internal/pipeline"
	"github.com/skylink-aero/skylink/internal/rbac"
	"github.com/skylink-aero/skylink/internal/telemetry"
)

var (
	opTelemetryIngest = pipeline.Operation{
		Name:        "telemetry.ingest",
		Resource:    "telemetry",
		Permissions: []rbac.Permission{rbac.PermTelemetryWrite},
		Ingestion:   true,
	}
	opTelemetryRead = pipeline.Operation{
		Name:        "telemetry.read",
		Resource:    "telemetry",
		Permissions: []rbac.Permission{rbac.PermTelemetryRead},
	}
)

// TelemetryHandler exposes telemetry ingestion and retrieval.
type TelemetryHandler struct {
	pipe   *pipeline.Pipeline
	repo   telemetry.Repository
	logger *zap.Logger
}

// NewTelemetryHandler creates a TelemetryHandler.
func NewTelemetryHandler(pipe *pipeline.Pipeline, repo telemetry.Repository, logger *zap.Logger) *TelemetryHandler {
	return &TelemetryHandler{pipe: pipe, repo: repo, logger: logger}
}

// Register mounts the telemetry routes on the given router group.
func (h *TelemetryHandler) Register(rg *gin.RouterGroup) {
	t := rg.Group("/telemetry")
	{
		t.POST("/ingest", h.Ingest)
		t.GET("/events/:aircraft_id", h.ListEvents)
	}
}

type ingestResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// Ingest handles POST /telemetry/ingest. First submission of an event
// returns 201; an identical re-submission returns 200 with the same body; a
// re-submission with a different payload returns 409.
func (h *TelemetryHandler) Ingest(c *gin.Context) {
	var event telemetry.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		respondError(c, http.StatusBadRequest, string(pipeline.CodeValidationError), "malformed telemetry event")
		return
	}
	if err := event.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, string(pipeline.CodeValidationError), err.Error())
		return
	}

	transport := identity.ClientCNFromCtx(c)
	if event.AircraftID != transport {
		respondError(c, http.StatusBadRequest, string(pipeline.CodeValidationError),
			"aircraft_id must match the authenticated identity")
		return
	}

	canonical, err := event.CanonicalJSON()
	if err != nil {
		h.logger.Error("canonicalise telemetry event", zap.Error(err))
		respondError(c, http.StatusInternalServerError, string(pipeline.CodeInternalError), "internal error")
		return
	}

	d := h.pipe.Admit(c.Request.Context(), &pipeline.Request{
		TransportIdentity: transport,
		RawToken:          bearerToken(c),
		Operation:         opTelemetryIngest,
		EventID:           event.EventID,
		Payload:           canonical,
		TraceID:           TraceIDFromCtx(c),
		ClientIP:          c.ClientIP(),
	})

	switch d.Code {
	case pipeline.CodeCreated:
		if err := h.repo.Save(c.Request.Context(), &event); err != nil {
			h.logger.Error("persist telemetry event",
				zap.Error(err),
				zap.String("event_id", event.EventID),
			)
			// Undo the idempotency record so a retry is admitted as Created
			// again; leaving it would answer Duplicate for an event that was
			// never stored. Detached from the request context so a dropped
			// client cannot leave the key poisoned.
			releaseCtx := context.WithoutCancel(c.Request.Context())
			if rerr := h.pipe.ReleaseEvent(releaseCtx, d.Identity, event.EventID, canonical); rerr != nil {
				h.logger.Error("release idempotency record",
					zap.Error(rerr),
					zap.String("event_id", event.EventID),
				)
			}
			respondError(c, http.StatusInternalServerError, string(pipeline.CodeInternalError), "internal error")
			return
		}
		RecordTelemetryOutcome("created")
		c.JSON(http.StatusCreated, ingestResponse{Status: "created", EventID: event.EventID})
	case pipeline.CodeDuplicate:
		RecordTelemetryOutcome("duplicate")
		c.JSON(http.StatusOK, ingestResponse{Status: "duplicate", EventID: event.EventID})
	case pipeline.CodeIdempotencyConflict:
		RecordTelemetryOutcome("conflict")
		respondDecision(c, d)
	default:
		respondDecision(c, d)
	}
}

// ListEvents handles GET /telemetry/events/:aircraft_id.
func (h *TelemetryHandler) ListEvents(c *gin.Context) {
	d := h.pipe.Admit(c.Request.Context(), &pipeline.Request{
		TransportIdentity: identity.ClientCNFromCtx(c),
		RawToken:          bearerToken(c),
		Operation:         opTelemetryRead,
		TraceID:           TraceIDFromCtx(c),
		ClientIP:          c.ClientIP(),
	})
	if !d.Code.Success() {
		respondDecision(c, d)
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			respondError(c, http.StatusBadRequest, string(pipeline.CodeValidationError), "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := h.repo.List(c.Request.Context(), c.Param("aircraft_id"), limit)
	if err != nil {
		h.logger.Error("list telemetry events", zap.Error(err))
		respondError(c, http.StatusInternalServerError, string(pipeline.CodeInternalError), "internal error")
		return
	}
	if events == nil {
		events = []*telemetry.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
