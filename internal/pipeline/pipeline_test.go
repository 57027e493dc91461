package pipeline

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skylink-aero/skylink/internal/audit"
	"github.com/skylink-aero/skylink/internal/idempotency"
	"github.com/skylink-aero/skylink/internal/identity"
	"github.com/skylink-aero/skylink/internal/ratelimit"
	"github.com/skylink-aero/skylink/internal/rbac"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func loadTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
	})
	return testKey
}

type fixture struct {
	pipeline *Pipeline
	issuer   *identity.TokenIssuer
	mu       sync.Mutex
	now      time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// newFixture wires a pipeline over in-memory stores with a controllable
// clock. Limits default to the production values (60/min per identity,
// 10/s global).
func newFixture(t *testing.T, perLimit, globalLimit int) *fixture {
	t.Helper()
	key := loadTestKey(t)

	f := &fixture{now: time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)}
	clock := f.clock

	f.issuer = identity.NewTokenIssuer(key, identity.DefaultAudience, identity.DefaultTokenTTL).WithClock(clock)
	verifier := identity.NewTokenVerifier(&key.PublicKey, identity.DefaultAudience).WithClock(clock)

	perStore := ratelimit.NewMemoryStore()
	globalStore := ratelimit.NewMemoryStore()
	t.Cleanup(perStore.Close)
	t.Cleanup(globalStore.Close)

	auditLog := audit.NewLogger(zap.NewNop(), nil)
	f.pipeline = New(Config{
		Verifier:    verifier,
		Enforcer:    rbac.NewEnforcer(auditLog),
		PerIdentity: ratelimit.New(perStore, perLimit, time.Minute).WithClock(clock),
		Global:      ratelimit.New(globalStore, globalLimit, time.Second).WithClock(clock),
		Idempotency: idempotency.NewEngine(idempotency.NewMemoryStore()).WithClock(clock),
		Audit:       auditLog,
		Logger:      zap.NewNop(),
	})
	return f
}

func (f *fixture) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := f.issuer.Issue(subject, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

var (
	opTelemetryWrite = Operation{
		Name:        "telemetry.ingest",
		Resource:    "telemetry",
		Permissions: []rbac.Permission{rbac.PermTelemetryWrite},
		Ingestion:   true,
	}
	opContactsRead = Operation{
		Name:        "contacts.read",
		Resource:    "contacts",
		Permissions: []rbac.Permission{rbac.PermContactsRead},
	}
	opWeatherRead = Operation{
		Name:        "weather.read",
		Resource:    "weather",
		Permissions: []rbac.Permission{rbac.PermWeatherRead},
	}
)

func ingestRequest(token, identity, eventID string, payload []byte) *Request {
	return &Request{
		TransportIdentity: identity,
		RawToken:          token,
		Operation:         opTelemetryWrite,
		EventID:           eventID,
		Payload:           payload,
		TraceID:           "trace-1",
	}
}

func TestAdmit_standardRoleTelemetryWrite(t *testing.T) {
	f := newFixture(t, 60, 1000)
	tok := f.token(t, "AC-100", "aircraft_standard")

	d := f.pipeline.Admit(context.Background(), ingestRequest(tok, "AC-100", "E1", []byte(`{"speed":45.5}`)))
	if d.Code != CodeCreated {
		t.Fatalf("code = %s (%s), want %s", d.Code, d.Message, CodeCreated)
	}
	if d.Status() != http.StatusCreated {
		t.Fatalf("status = %d, want 201", d.Status())
	}
	if d.Identity != "AC-100" || d.Role != rbac.RoleAircraftStandard {
		t.Fatalf("identity/role = %s/%s", d.Identity, d.Role)
	}
}

func TestAdmit_standardRoleDeniedContacts(t *testing.T) {
	f := newFixture(t, 60, 1000)
	tok := f.token(t, "AC-100", "aircraft_standard")

	d := f.pipeline.Admit(context.Background(), &Request{
		TransportIdentity: "AC-100",
		RawToken:          tok,
		Operation:         opContactsRead,
	})
	if d.Code != CodePermissionDenied {
		t.Fatalf("code = %s, want %s", d.Code, CodePermissionDenied)
	}
	if d.Status() != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", d.Status())
	}
}

func TestAdmit_premiumRoleContactsAllowed(t *testing.T) {
	f := newFixture(t, 60, 1000)
	tok := f.token(t, "AC-100", "aircraft_premium")

	d := f.pipeline.Admit(context.Background(), &Request{
		TransportIdentity: "AC-100",
		RawToken:          tok,
		Operation:         opContactsRead,
	})
	if d.Code != CodeAdmitted {
		t.Fatalf("code = %s (%s), want %s", d.Code, d.Message, CodeAdmitted)
	}
}

func TestAdmit_subjectMismatchIsSpoofed(t *testing.T) {
	f := newFixture(t, 60, 1000)
	// Valid token for AC-200 presented over AC-100's certificate. Role and
	// permissions are irrelevant; the mismatch fires first.
	tok := f.token(t, "AC-200", "admin")

	d := f.pipeline.Admit(context.Background(), ingestRequest(tok, "AC-100", "E1", []byte(`{"speed":45.5}`)))
	if d.Code != CodeIdentitySpoofed {
		t.Fatalf("code = %s, want %s", d.Code, CodeIdentitySpoofed)
	}
	if d.Status() != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", d.Status())
	}
}

func TestAdmit_expiredToken(t *testing.T) {
	f := newFixture(t, 60, 1000)
	tok := f.token(t, "AC-100", "aircraft_standard")
	f.advance(16 * time.Minute)

	d := f.pipeline.Admit(context.Background(), &Request{
		TransportIdentity: "AC-100",
		RawToken:          tok,
		Operation:         opWeatherRead,
	})
	if d.Code != CodeTokenExpired {
		t.Fatalf("code = %s, want %s", d.Code, CodeTokenExpired)
	}
	if d.Status() != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", d.Status())
	}
}

func TestAdmit_garbageToken(t *testing.T) {
	f := newFixture(t, 60, 1000)

	d := f.pipeline.Admit(context.Background(), &Request{
		TransportIdentity: "AC-100",
		RawToken:          "not.a.token",
		Operation:         opWeatherRead,
	})
	if d.Code != CodeTokenInvalid {
		t.Fatalf("code = %s, want %s", d.Code, CodeTokenInvalid)
	}
}

func TestAdmit_missingToken(t *testing.T) {
	f := newFixture(t, 60, 1000)

	d := f.pipeline.Admit(context.Background(), &Request{
		TransportIdentity: "AC-100",
		Operation:         opWeatherRead,
	})
	if d.Code != CodeTokenInvalid {
		t.Fatalf("code = %s, want %s", d.Code, CodeTokenInvalid)
	}
}

func TestAdmit_perIdentityWindow(t *testing.T) {
	f := newFixture(t, 60, 100000)
	tok := f.token(t, "AC-100", "aircraft_standard")
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		d := f.pipeline.Admit(ctx, &Request{
			TransportIdentity: "AC-100",
			RawToken:          tok,
			Operation:         opWeatherRead,
		})
		if d.Code != CodeAdmitted {
			t.Fatalf("request %d: code = %s, want %s", i+1, d.Code, CodeAdmitted)
		}
		// Stay inside both the minute window and the 15-minute token TTL.
		f.advance(100 * time.Millisecond)
	}

	d := f.pipeline.Admit(ctx, &Request{
		TransportIdentity: "AC-100",
		RawToken:          tok,
		Operation:         opWeatherRead,
	})
	if d.Code != CodeRateLimitExceeded {
		t.Fatalf("61st request: code = %s, want %s", d.Code, CodeRateLimitExceeded)
	}
	if d.Status() != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", d.Status())
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("retry after = %v, want within (0, 1m]", d.RetryAfter)
	}

	// A different identity is unaffected.
	tok2 := f.token(t, "AC-200", "aircraft_standard")
	if d := f.pipeline.Admit(ctx, &Request{
		TransportIdentity: "AC-200",
		RawToken:          tok2,
		Operation:         opWeatherRead,
	}); d.Code != CodeAdmitted {
		t.Fatalf("other identity: code = %s, want %s", d.Code, CodeAdmitted)
	}
}

func TestAdmit_globalWindow(t *testing.T) {
	f := newFixture(t, 1000, 10)
	ctx := context.Background()

	// Spread across identities; the global window still fills.
	subjects := []string{"AC-100", "AC-200", "AC-300", "AC-400", "AC-500"}
	for i := 0; i < 10; i++ {
		sub := subjects[i%len(subjects)]
		tok := f.token(t, sub, "aircraft_standard")
		d := f.pipeline.Admit(ctx, &Request{
			TransportIdentity: sub,
			RawToken:          tok,
			Operation:         opWeatherRead,
		})
		if d.Code != CodeAdmitted {
			t.Fatalf("request %d: code = %s, want %s", i+1, d.Code, CodeAdmitted)
		}
	}

	tok := f.token(t, "AC-999", "aircraft_standard")
	d := f.pipeline.Admit(ctx, &Request{
		TransportIdentity: "AC-999",
		RawToken:          tok,
		Operation:         opWeatherRead,
	})
	if d.Code != CodeRateLimitExceeded {
		t.Fatalf("11th request: code = %s, want %s", d.Code, CodeRateLimitExceeded)
	}
}

func TestAdmit_ingestionLifecycle(t *testing.T) {
	f := newFixture(t, 60, 1000)
	tok := f.token(t, "AC-100", "aircraft_standard")
	ctx := context.Background()
	payload := []byte(`{"speed":45.5}`)

	d := f.pipeline.Admit(ctx, ingestRequest(tok, "AC-100", "E1", payload))
	if d.Code != CodeCreated || d.Status() != http.StatusCreated {
		t.Fatalf("first ingest: %s / %d, want CREATED / 201", d.Code, d.Status())
	}

	d = f.pipeline.Admit(ctx, ingestRequest(tok, "AC-100", "E1", payload))
	if d.Code != CodeDuplicate || d.Status() != http.StatusOK {
		t.Fatalf("second ingest: %s / %d, want DUPLICATE / 200", d.Code, d.Status())
	}

	d = f.pipeline.Admit(ctx, ingestRequest(tok, "AC-100", "E1", []byte(`{"speed":120.0}`)))
	if d.Code != CodeIdempotencyConflict || d.Status() != http.StatusConflict {
		t.Fatalf("conflicting ingest: %s / %d, want IDEMPOTENCY_CONFLICT / 409", d.Code, d.Status())
	}
}

func TestAdmit_ingestionValidation(t *testing.T) {
	f := newFixture(t, 60, 1000)
	tok := f.token(t, "AC-100", "aircraft_standard")

	d := f.pipeline.Admit(context.Background(), ingestRequest(tok, "AC-100", "", []byte(`{}`)))
	if d.Code != CodeValidationError || d.Status() != http.StatusBadRequest {
		t.Fatalf("empty event id: %s / %d, want VALIDATION_ERROR / 400", d.Code, d.Status())
	}

	d = f.pipeline.Admit(context.Background(), ingestRequest(tok, "AC-100", "E1", nil))
	if d.Code != CodeValidationError {
		t.Fatalf("empty payload: code = %s, want %s", d.Code, CodeValidationError)
	}
}

func TestAdmit_spoofCheckPrecedesPermissions(t *testing.T) {
	f := newFixture(t, 60, 1000)
	// Token subject mismatch AND missing permission: the spoof must win.
	tok := f.token(t, "AC-200", "aircraft_standard")

	d := f.pipeline.Admit(context.Background(), &Request{
		TransportIdentity: "AC-100",
		RawToken:          tok,
		Operation:         opContactsRead,
	})
	if d.Code != CodeIdentitySpoofed {
		t.Fatalf("code = %s, want %s", d.Code, CodeIdentitySpoofed)
	}
}

// A request whose context is already cancelled must fail closed without
// consuming a rate-limit slot or committing an idempotency record: the same
// submission retried on a live context is still the first one.
func TestAdmit_cancelledContextFailsClosedWithoutSideEffects(t *testing.T) {
	f := newFixture(t, 1, 1000)
	tok := f.token(t, "AC-100", "aircraft_standard")
	payload := []byte(`{"speed":45.5}`)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	d := f.pipeline.Admit(cancelled, ingestRequest(tok, "AC-100", "E1", payload))
	if d.Code != CodeInternalError {
		t.Fatalf("code = %s, want %s", d.Code, CodeInternalError)
	}
	if d.Status() != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", d.Status())
	}

	// perLimit is 1: the retry only succeeds if the cancelled attempt left
	// the window counter alone.
	d = f.pipeline.Admit(context.Background(), ingestRequest(tok, "AC-100", "E1", payload))
	if d.Code != CodeCreated {
		t.Fatalf("retry code = %s (%s), want %s", d.Code, d.Message, CodeCreated)
	}
}

func TestAdmit_panicFailsClosed(t *testing.T) {
	f := newFixture(t, 60, 1000)
	// A nil verifier makes the token stage panic.
	f.pipeline.verifier = nil

	d := f.pipeline.Admit(context.Background(), &Request{
		TransportIdentity: "AC-100",
		RawToken:          "x.y.z",
		Operation:         opWeatherRead,
	})
	if d.Code != CodeInternalError {
		t.Fatalf("code = %s, want %s", d.Code, CodeInternalError)
	}
	if d.Status() != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", d.Status())
	}
}
