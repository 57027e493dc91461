package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skylink-aero/skylink/internal/audit"
	"github.com/skylink-aero/skylink/internal/identity"
	"github.com/skylink-aero/skylink/internal/pipeline"
	"github.com/skylink-aero/skylink/internal/rbac"
)

var opContactsRead = pipeline.Operation{
	Name:        "contacts.read",
	Resource:    "contacts",
	Permissions: []rbac.Permission{rbac.PermContactsRead},
}

// Contact is a ground-station directory entry.
type Contact struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Callsign  string  `json:"callsign"`
	Frequency float64 `json:"frequency"`
	Region    string  `json:"region"`
}

// ContactsProvider supplies the ground-station directory for an aircraft.
type ContactsProvider interface {
	List(ctx context.Context, aircraftID string, page, size int) ([]Contact, int, error)
}

// StaticContacts serves a fixed directory. Used in dev and tests.
type StaticContacts struct {
	Entries []Contact
}

// List implements ContactsProvider with offset pagination.
func (s *StaticContacts) List(_ context.Context, _ string, page, size int) ([]Contact, int, error) {
	total := len(s.Entries)
	start := (page - 1) * size
	if start >= total {
		return []Contact{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return s.Entries[start:end], total, nil
}

// ContactsHandler exposes the contacts directory endpoint.
type ContactsHandler struct {
	pipe     *pipeline.Pipeline
	provider ContactsProvider
	audit    *audit.Logger
	logger   *zap.Logger
}

// NewContactsHandler creates a ContactsHandler.
func NewContactsHandler(pipe *pipeline.Pipeline, provider ContactsProvider, auditLog *audit.Logger, logger *zap.Logger) *ContactsHandler {
	return &ContactsHandler{pipe: pipe, provider: provider, audit: auditLog, logger: logger}
}

// Register mounts the contacts routes on the given router group.
func (h *ContactsHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/contacts", h.List)
}

// List handles GET /contacts?page=..&size=..
func (h *ContactsHandler) List(c *gin.Context) {
	page, err := parsePositiveInt(c.DefaultQuery("page", "1"), 1, 10000)
	if err != nil {
		respondError(c, http.StatusBadRequest, string(pipeline.CodeValidationError), "page must be a positive integer")
		return
	}
	size, err := parsePositiveInt(c.DefaultQuery("size", "50"), 1, 100)
	if err != nil {
		respondError(c, http.StatusBadRequest, string(pipeline.CodeValidationError), "size must be between 1 and 100")
		return
	}

	d := h.pipe.Admit(c.Request.Context(), &pipeline.Request{
		TransportIdentity: identity.ClientCNFromCtx(c),
		RawToken:          bearerToken(c),
		Operation:         opContactsRead,
		TraceID:           TraceIDFromCtx(c),
		ClientIP:          c.ClientIP(),
	})
	if !d.Code.Success() {
		respondDecision(c, d)
		return
	}

	items, total, err := h.provider.List(c.Request.Context(), d.Identity, page, size)
	if err != nil {
		h.logger.Error("contacts provider", zap.Error(err))
		respondError(c, http.StatusBadGateway, "UPSTREAM_ERROR", "contacts service unavailable")
		return
	}

	h.audit.Record(c.Request.Context(), audit.Event{
		Type:     audit.EventContactsAccessed,
		Outcome:  audit.OutcomeSuccess,
		Actor:    d.Identity,
		Resource: "contacts",
		TraceID:  TraceIDFromCtx(c),
		Detail:   map[string]string{"count": strconv.Itoa(len(items))},
	})
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

func parsePositiveInt(raw string, min, max int) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, strconv.ErrRange
	}
	return n, nil
}
