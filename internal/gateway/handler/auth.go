package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/skylink-aero/skylink/internal/audit"
	"github.com/skylink-aero/skylink/internal/identity"
	"github.com/skylink-aero/skylink/internal/rbac"
)

// AuthHandler issues short-lived access tokens to aircraft that have already
// authenticated at the transport layer. The token subject is always the
// certificate common name; a client cannot request a token for another
// identity.
type AuthHandler struct {
	issuer     *identity.TokenIssuer
	secretHash []byte            // optional bcrypt hash of the fleet bootstrap secret
	roles      map[string]string // subject → role overrides from configuration
	audit      *audit.Logger
	logger     *zap.Logger
}

// NewAuthHandler creates an AuthHandler. roles maps aircraft identifiers to
// their provisioned role; identities not listed get the role they request,
// clamped to the closed role set.
func NewAuthHandler(issuer *identity.TokenIssuer, roles map[string]string, auditLog *audit.Logger, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{issuer: issuer, roles: roles, audit: auditLog, logger: logger}
}

// SetBootstrapSecretHash enables the shared-secret check on token issuance.
// hash is a bcrypt hash; an empty hash disables the check.
func (h *AuthHandler) SetBootstrapSecretHash(hash string) {
	if hash == "" {
		h.secretHash = nil
		return
	}
	h.secretHash = []byte(hash)
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.ObtainToken)
}

type tokenRequest struct {
	Role   string `json:"role"`
	Secret string `json:"secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ObtainToken handles POST /auth/token. The caller must have passed mTLS;
// the issued subject is the verified certificate common name.
func (h *AuthHandler) ObtainToken(c *gin.Context) {
	ctx := c.Request.Context()
	subject := identity.ClientCNFromCtx(c)
	traceID := TraceIDFromCtx(c)

	if subject == "" {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "client certificate required")
		return
	}

	var req tokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
			return
		}
	}

	if len(h.secretHash) > 0 {
		if err := bcrypt.CompareHashAndPassword(h.secretHash, []byte(req.Secret)); err != nil {
			h.audit.Record(ctx, audit.Event{
				Type:     audit.EventAuthFailure,
				Outcome:  audit.OutcomeDenied,
				Actor:    subject,
				TraceID:  traceID,
				ClientIP: c.ClientIP(),
				Detail:   map[string]string{"reason": "bootstrap_secret_mismatch"},
			})
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
			return
		}
	}

	role := string(rbac.RoleFromString(req.Role))
	if provisioned, ok := h.roles[subject]; ok {
		role = string(rbac.RoleFromString(provisioned))
	}

	token, err := h.issuer.Issue(subject, role)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err), zap.String("trace_id", traceID))
		h.audit.Record(ctx, audit.Event{
			Type:     audit.EventAuthFailure,
			Outcome:  audit.OutcomeFailure,
			Actor:    subject,
			TraceID:  traceID,
			ClientIP: c.ClientIP(),
			Detail:   map[string]string{"reason": "token_generation_failed"},
		})
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "token issuance failed")
		return
	}

	h.audit.Record(ctx, audit.Event{
		Type:     audit.EventAuthSuccess,
		Outcome:  audit.OutcomeSuccess,
		Actor:    subject,
		TraceID:  traceID,
		ClientIP: c.ClientIP(),
	})

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.issuer.TTL().Seconds()),
	})
}
