package audit

import "time"

// EventType identifies a security-relevant operation in the audit trail.
type EventType string

const (
	// Authentication events.
	EventAuthSuccess      EventType = "AUTH_SUCCESS"
	EventAuthFailure      EventType = "AUTH_FAILURE"
	EventAuthTokenExpired EventType = "AUTH_TOKEN_EXPIRED"
	EventAuthTokenInvalid EventType = "AUTH_TOKEN_INVALID"

	// Mutual-TLS events.
	EventMTLSSuccess    EventType = "MTLS_SUCCESS"
	EventMTLSFailure    EventType = "MTLS_FAILURE"
	EventMTLSCNMismatch EventType = "MTLS_CN_MISMATCH"

	// Rate limiting.
	EventRateLimitExceeded EventType = "RATE_LIMIT_EXCEEDED"

	// Telemetry ingestion outcomes.
	EventTelemetryCreated   EventType = "TELEMETRY_CREATED"
	EventTelemetryDuplicate EventType = "TELEMETRY_DUPLICATE"
	EventTelemetryConflict  EventType = "TELEMETRY_CONFLICT"

	// Data access.
	EventWeatherAccessed  EventType = "WEATHER_ACCESSED"
	EventContactsAccessed EventType = "CONTACTS_ACCESSED"

	// Authorization (RBAC) outcomes.
	EventAuthzSuccess EventType = "AUTHZ_SUCCESS"
	EventAuthzFailure EventType = "AUTHZ_FAILURE"

	// System lifecycle.
	EventServiceStarted EventType = "SERVICE_STARTED"
	EventServiceStopped EventType = "SERVICE_STOPPED"
)

// Category groups audit events for filtering and retention.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryData           Category = "data"
	CategorySecurity       Category = "security"
	CategorySystem         Category = "system"
)

// Severity ranks how much attention an event deserves.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Outcome is the result of the audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// eventMetadata maps each event type to its category and severity.
var eventMetadata = map[EventType]struct {
	Category Category
	Severity Severity
}{
	EventAuthSuccess:        {CategoryAuthentication, SeverityInfo},
	EventAuthFailure:        {CategoryAuthentication, SeverityWarning},
	EventAuthTokenExpired:   {CategoryAuthentication, SeverityInfo},
	EventAuthTokenInvalid:   {CategoryAuthentication, SeverityWarning},
	EventMTLSSuccess:        {CategoryAuthentication, SeverityInfo},
	EventMTLSFailure:        {CategoryAuthentication, SeverityWarning},
	EventMTLSCNMismatch:     {CategoryAuthentication, SeverityWarning},
	EventRateLimitExceeded:  {CategorySecurity, SeverityWarning},
	EventTelemetryCreated:   {CategoryData, SeverityInfo},
	EventTelemetryDuplicate: {CategoryData, SeverityInfo},
	EventTelemetryConflict:  {CategoryData, SeverityWarning},
	EventWeatherAccessed:    {CategoryData, SeverityInfo},
	EventContactsAccessed:   {CategoryData, SeverityInfo},
	EventAuthzSuccess:       {CategoryAuthorization, SeverityInfo},
	EventAuthzFailure:       {CategoryAuthorization, SeverityWarning},
	EventServiceStarted:     {CategorySystem, SeverityInfo},
	EventServiceStopped:     {CategorySystem, SeverityInfo},
}

// Metadata returns the category and severity for an event type.
// Unknown event types default to the security category at warning severity,
// so an unmapped event is never silently downgraded.
func Metadata(t EventType) (Category, Severity) {
	if m, ok := eventMetadata[t]; ok {
		return m.Category, m.Severity
	}
	return CategorySecurity, SeverityWarning
}

// Event is a single audit record. Actor is the verified identity when one is
// available, or "unknown" before authentication completes. Detail carries
// event-specific fields (permission, resource, event id) and must never
// contain token material or key material.
type Event struct {
	Type      EventType         `json:"type"`
	Category  Category          `json:"category"`
	Severity  Severity          `json:"severity"`
	Outcome   Outcome           `json:"outcome"`
	Actor     string            `json:"actor"`
	Resource  string            `json:"resource,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Detail    map[string]string `json:"detail,omitempty"`
}
