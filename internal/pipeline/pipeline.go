// Package pipeline orchestrates request admission: identity cross-validation,
// permission enforcement, rate limiting, and idempotent ingestion, in that
// order, with short-circuit on the first failure.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skylink-aero/skylink/internal/audit"
	"github.com/skylink-aero/skylink/internal/idempotency"
	"github.com/skylink-aero/skylink/internal/identity"
	"github.com/skylink-aero/skylink/internal/ratelimit"
	"github.com/skylink-aero/skylink/internal/rbac"
)

// Operation describes what a request wants to do. Permissions are combined
// with AND semantics. Ingestion operations additionally pass through the
// idempotency engine.
type Operation struct {
	Name        string
	Resource    string
	Permissions []rbac.Permission
	Ingestion   bool
}

// Request is the admission context for one inbound request. TransportIdentity
// comes from the validated client certificate; RawToken from the
// Authorization header. EventID and Payload are set for ingestion only, with
// Payload already in canonical form.
type Request struct {
	TransportIdentity string
	RawToken          string
	Operation         Operation
	EventID           string
	Payload           []byte
	TraceID           string
	ClientIP          string
}

// Decision is the terminal outcome of one admission. Identity and Role are
// populated once the token has been verified; RetryAfter only for rate-limit
// denials.
type Decision struct {
	Code       Code
	Identity   string
	Role       rbac.Role
	Message    string
	RetryAfter time.Duration
}

// Status returns the HTTP status for the decision's code.
func (d *Decision) Status() int { return d.Code.HTTPStatus() }

// Pipeline runs the admission stages. All stages are safe for concurrent use;
// a Pipeline is shared across request handlers.
type Pipeline struct {
	verifier    *identity.TokenVerifier
	enforcer    *rbac.Enforcer
	perIdentity *ratelimit.Limiter
	global      *ratelimit.Limiter
	idem        *idempotency.Engine
	audit       *audit.Logger
	log         *zap.Logger
}

// Config collects the pipeline's collaborators. All fields are required
// except Audit, which defaults to a no-op sink.
type Config struct {
	Verifier    *identity.TokenVerifier
	Enforcer    *rbac.Enforcer
	PerIdentity *ratelimit.Limiter
	Global      *ratelimit.Limiter
	Idempotency *idempotency.Engine
	Audit       *audit.Logger
	Logger      *zap.Logger
}

// New creates a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	auditLog := cfg.Audit
	if auditLog == nil {
		auditLog = audit.NewLogger(zap.NewNop(), nil)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		verifier:    cfg.Verifier,
		enforcer:    cfg.Enforcer,
		perIdentity: cfg.PerIdentity,
		global:      cfg.Global,
		idem:        cfg.Idempotency,
		audit:       auditLog,
		log:         log,
	}
}

// Admit runs the request through every stage and returns the terminal
// decision. It never panics: a panic in any stage is recovered and reported
// as an internal error, failing closed.
func (p *Pipeline) Admit(ctx context.Context, req *Request) (decision *Decision) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("admission stage panicked",
				zap.Any("panic", r),
				zap.String("operation", req.Operation.Name),
				zap.String("trace_id", req.TraceID),
			)
			decision = &Decision{Code: CodeInternalError, Message: "internal error"}
		}
		decisionsTotal.WithLabelValues(string(decision.Code), req.Operation.Name).Inc()
		decisionDuration.WithLabelValues(req.Operation.Name).Observe(time.Since(start).Seconds())
	}()

	decision = p.admit(ctx, req)
	return decision
}

func (p *Pipeline) admit(ctx context.Context, req *Request) *Decision {
	if d := p.validate(req); d != nil {
		return d
	}

	// Token signature, audience, and expiry.
	claims, err := p.verifier.Verify(req.RawToken)
	if err != nil {
		return p.rejectToken(ctx, req, err)
	}

	// Transport identity must match the token subject exactly.
	if err := identity.CrossValidate(req.TransportIdentity, claims.Subject); err != nil {
		p.audit.CNMismatch(ctx, req.TransportIdentity, req.TraceID, req.ClientIP)
		return &Decision{Code: CodeIdentitySpoofed, Message: "transport identity does not match token subject"}
	}

	subject := claims.Subject
	role := rbac.RoleFromString(claims.Role)
	p.audit.Record(ctx, audit.Event{
		Type:     audit.EventAuthSuccess,
		Outcome:  audit.OutcomeSuccess,
		Actor:    subject,
		TraceID:  req.TraceID,
		ClientIP: req.ClientIP,
	})

	if err := p.enforcer.Require(ctx, subject, role, req.Operation.Resource, req.TraceID, req.Operation.Permissions...); err != nil {
		return &Decision{
			Code:     CodePermissionDenied,
			Identity: subject,
			Role:     role,
			Message:  "permission denied",
		}
	}

	if d := p.throttle(ctx, req, subject, role); d != nil {
		return d
	}

	if req.Operation.Ingestion {
		return p.ingest(ctx, req, subject, role)
	}

	return &Decision{Code: CodeAdmitted, Identity: subject, Role: role}
}

// ReleaseEvent undoes the idempotency record committed for a Created
// decision whose downstream persistence failed. Without it the key would
// answer Duplicate forever for an event that was never stored. Callers pass
// the same canonical payload they admitted with.
func (p *Pipeline) ReleaseEvent(ctx context.Context, identityKey, eventID string, payload []byte) error {
	return p.idem.Release(ctx, identityKey, eventID, idempotency.Fingerprint(payload))
}

// validate checks the request context shape. Payload schema validation is the
// handler's job; the pipeline only requires the fields its own stages consume.
func (p *Pipeline) validate(req *Request) *Decision {
	if strings.TrimSpace(req.RawToken) == "" {
		return &Decision{Code: CodeTokenInvalid, Message: "missing bearer token"}
	}
	if req.Operation.Ingestion {
		if strings.TrimSpace(req.EventID) == "" {
			return &Decision{Code: CodeValidationError, Message: "event_id must not be empty"}
		}
		if len(req.Payload) == 0 {
			return &Decision{Code: CodeValidationError, Message: "payload must not be empty"}
		}
	}
	return nil
}

func (p *Pipeline) rejectToken(ctx context.Context, req *Request, err error) *Decision {
	if errors.Is(err, identity.ErrTokenExpired) {
		p.audit.Record(ctx, audit.Event{
			Type:     audit.EventAuthTokenExpired,
			Outcome:  audit.OutcomeDenied,
			Actor:    req.TransportIdentity,
			TraceID:  req.TraceID,
			ClientIP: req.ClientIP,
		})
		return &Decision{Code: CodeTokenExpired, Message: "token expired"}
	}
	p.audit.Record(ctx, audit.Event{
		Type:     audit.EventAuthTokenInvalid,
		Outcome:  audit.OutcomeDenied,
		Actor:    req.TransportIdentity,
		TraceID:  req.TraceID,
		ClientIP: req.ClientIP,
	})
	return &Decision{Code: CodeTokenInvalid, Message: "token invalid"}
}

// throttle applies the per-identity window, then the global window. A store
// failure fails closed.
func (p *Pipeline) throttle(ctx context.Context, req *Request, subject string, role rbac.Role) *Decision {
	res, err := p.perIdentity.Allow(ctx, subject)
	if err != nil {
		p.log.Error("identity rate-limit store failed", zap.Error(err), zap.String("trace_id", req.TraceID))
		return &Decision{Code: CodeInternalError, Identity: subject, Role: role, Message: "internal error"}
	}
	if !res.Allowed {
		p.audit.RateLimitExceeded(ctx, subject, "identity", req.TraceID)
		return &Decision{
			Code:       CodeRateLimitExceeded,
			Identity:   subject,
			Role:       role,
			Message:    "rate limit exceeded",
			RetryAfter: res.RetryAfter,
		}
	}

	res, err = p.global.Allow(ctx, ratelimit.GlobalKey)
	if err != nil {
		p.log.Error("global rate-limit store failed", zap.Error(err), zap.String("trace_id", req.TraceID))
		return &Decision{Code: CodeInternalError, Identity: subject, Role: role, Message: "internal error"}
	}
	if !res.Allowed {
		p.audit.RateLimitExceeded(ctx, subject, "global", req.TraceID)
		return &Decision{
			Code:       CodeRateLimitExceeded,
			Identity:   subject,
			Role:       role,
			Message:    "rate limit exceeded",
			RetryAfter: res.RetryAfter,
		}
	}
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, req *Request, subject string, role rbac.Role) *Decision {
	fp := idempotency.Fingerprint(req.Payload)
	outcome, err := p.idem.Check(ctx, subject, req.EventID, fp)
	if err != nil {
		p.log.Error("idempotency store failed", zap.Error(err), zap.String("trace_id", req.TraceID))
		return &Decision{Code: CodeInternalError, Identity: subject, Role: role, Message: "internal error"}
	}

	d := &Decision{Identity: subject, Role: role}
	switch outcome {
	case idempotency.OutcomeCreated:
		d.Code = CodeCreated
		p.audit.Telemetry(ctx, audit.EventTelemetryCreated, subject, req.EventID, req.TraceID)
	case idempotency.OutcomeDuplicate:
		d.Code = CodeDuplicate
		p.audit.Telemetry(ctx, audit.EventTelemetryDuplicate, subject, req.EventID, req.TraceID)
	case idempotency.OutcomeConflict:
		d.Code = CodeIdempotencyConflict
		d.Message = "event already recorded with a different payload"
		p.audit.Telemetry(ctx, audit.EventTelemetryConflict, subject, req.EventID, req.TraceID)
	default:
		d.Code = CodeInternalError
		d.Message = "internal error"
	}
	return d
}
