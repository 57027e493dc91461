package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logger writes audit events to a structured zap log and, when a Trail is
// configured, appends them to the tamper-evident chain. A trail append
// failure is logged but never fails the calling request: the audit sink is
// observability, not control flow.
//
// Callers must never pass token material, key material, or payload contents
// in Detail. The event catalogue in events.go is the full vocabulary.
type Logger struct {
	log   *zap.Logger
	trail Trail
}

// NewLogger creates an audit Logger. trail may be nil.
func NewLogger(log *zap.Logger, trail Trail) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log, trail: trail}
}

// Record logs an audit event, filling in category, severity, and timestamp
// from the event catalogue when unset.
func (l *Logger) Record(ctx context.Context, ev Event) {
	if ev.Category == "" || ev.Severity == "" {
		ev.Category, ev.Severity = Metadata(ev.Type)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Actor == "" {
		ev.Actor = "unknown"
	}

	fields := []zap.Field{
		zap.String("audit_event", string(ev.Type)),
		zap.String("category", string(ev.Category)),
		zap.String("severity", string(ev.Severity)),
		zap.String("outcome", string(ev.Outcome)),
		zap.String("actor", ev.Actor),
	}
	if ev.Resource != "" {
		fields = append(fields, zap.String("resource", ev.Resource))
	}
	if ev.TraceID != "" {
		fields = append(fields, zap.String("trace_id", ev.TraceID))
	}
	if ev.ClientIP != "" {
		fields = append(fields, zap.String("client_ip", ev.ClientIP))
	}
	for k, v := range ev.Detail {
		fields = append(fields, zap.String(k, v))
	}

	switch ev.Severity {
	case SeverityInfo:
		l.log.Info("audit", fields...)
	default:
		l.log.Warn("audit", fields...)
	}

	if l.trail != nil {
		if _, err := l.trail.Append(ctx, string(ev.Type), ev.Actor, ev.Resource, ev); err != nil {
			l.log.Error("audit trail append failed", zap.Error(err))
		}
	}
}

// Authz records an authorization decision. Both grants and denials are
// recorded; the denial detail names only the permission that was checked,
// never the roles that would have passed.
func (l *Logger) Authz(ctx context.Context, actor, role, permission, resource, traceID string, allowed bool) {
	ev := Event{
		Actor:    actor,
		Resource: resource,
		TraceID:  traceID,
		Detail: map[string]string{
			"role":       role,
			"permission": permission,
		},
	}
	if allowed {
		ev.Type = EventAuthzSuccess
		ev.Outcome = OutcomeSuccess
	} else {
		ev.Type = EventAuthzFailure
		ev.Outcome = OutcomeDenied
	}
	l.Record(ctx, ev)
}

// CNMismatch records a failed cross-validation between the transport
// identity and the token subject. The expected identity is deliberately
// omitted from the event detail.
func (l *Logger) CNMismatch(ctx context.Context, actor, traceID, clientIP string) {
	l.Record(ctx, Event{
		Type:     EventMTLSCNMismatch,
		Outcome:  OutcomeDenied,
		Actor:    actor,
		TraceID:  traceID,
		ClientIP: clientIP,
	})
}

// RateLimitExceeded records a rate-limit denial for the given scope
// ("identity" or "global").
func (l *Logger) RateLimitExceeded(ctx context.Context, actor, scope, traceID string) {
	l.Record(ctx, Event{
		Type:    EventRateLimitExceeded,
		Outcome: OutcomeDenied,
		Actor:   actor,
		TraceID: traceID,
		Detail:  map[string]string{"scope": scope},
	})
}

// Telemetry records a telemetry ingestion outcome for an event id.
func (l *Logger) Telemetry(ctx context.Context, typ EventType, actor, eventID, traceID string) {
	outcome := OutcomeSuccess
	if typ == EventTelemetryConflict {
		outcome = OutcomeFailure
	}
	l.Record(ctx, Event{
		Type:     typ,
		Outcome:  outcome,
		Actor:    actor,
		Resource: "telemetry",
		TraceID:  traceID,
		Detail:   map[string]string{"event_id": eventID},
	})
}

// ServiceStarted records service startup.
func (l *Logger) ServiceStarted(ctx context.Context, version string) {
	l.Record(ctx, Event{
		Type:    EventServiceStarted,
		Outcome: OutcomeSuccess,
		Actor:   "skylink-system",
		Detail:  map[string]string{"version": version},
	})
}

// ServiceStopped records service shutdown.
func (l *Logger) ServiceStopped(ctx context.Context, reason string) {
	l.Record(ctx, Event{
		Type:    EventServiceStopped,
		Outcome: OutcomeSuccess,
		Actor:   "skylink-system",
		Detail:  map[string]string{"reason": reason},
	})
}
