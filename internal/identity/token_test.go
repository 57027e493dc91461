package identity_test

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skylink-aero/skylink/internal/identity"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return key
}

func newIssuerVerifier(t *testing.T) (*identity.TokenIssuer, *identity.TokenVerifier) {
	t.Helper()
	key := newTestKey(t)
	issuer := identity.NewTokenIssuer(key, "skylink", 15*time.Minute)
	verifier := identity.NewTokenVerifier(&key.PublicKey, "skylink")
	return issuer, verifier
}

func TestTokenIssuer_Issue(t *testing.T) {
	issuer, _ := newIssuerVerifier(t)

	token, err := issuer.Issue("AC-100", "aircraft_standard")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}
}

func TestTokenIssuer_Issue_emptySubject(t *testing.T) {
	issuer, _ := newIssuerVerifier(t)
	if _, err := issuer.Issue("", "admin"); err == nil {
		t.Error("expected error for empty subject, got nil")
	}
}

func TestTokenIssuer_ttlClamped(t *testing.T) {
	key := newTestKey(t)
	issuer := identity.NewTokenIssuer(key, "skylink", 24*time.Hour)
	if issuer.TTL() != identity.DefaultTokenTTL {
		t.Errorf("TTL: got %v, want clamped to %v", issuer.TTL(), identity.DefaultTokenTTL)
	}
}

func TestTokenVerifier_valid(t *testing.T) {
	issuer, verifier := newIssuerVerifier(t)

	token, err := issuer.Issue("AC-100", "aircraft_premium")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "AC-100" {
		t.Errorf("Subject: got %q, want AC-100", claims.Subject)
	}
	if claims.Role != "aircraft_premium" {
		t.Errorf("Role: got %q, want aircraft_premium", claims.Role)
	}
}

func TestTokenVerifier_expiredIsTokenExpired(t *testing.T) {
	key := newTestKey(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	issuer := identity.NewTokenIssuer(key, "skylink", 15*time.Minute).
		WithClock(func() time.Time { return base })
	verifier := identity.NewTokenVerifier(&key.PublicKey, "skylink").
		WithClock(func() time.Time { return base.Add(16 * time.Minute) })

	token, err := issuer.Issue("AC-100", "")
	if err != nil {
		t.Fatal(err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, identity.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenVerifier_expiryBoundary(t *testing.T) {
	key := newTestKey(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	issuer := identity.NewTokenIssuer(key, "skylink", 15*time.Minute).
		WithClock(func() time.Time { return base })
	token, err := issuer.Issue("AC-100", "")
	if err != nil {
		t.Fatal(err)
	}

	// One second before expiry the token still verifies.
	early := identity.NewTokenVerifier(&key.PublicKey, "skylink").
		WithClock(func() time.Time { return base.Add(15*time.Minute - time.Second) })
	if _, err := early.Verify(token); err != nil {
		t.Errorf("token should verify just before expiry: %v", err)
	}

	// One second past expiry it is expired, not invalid.
	late := identity.NewTokenVerifier(&key.PublicKey, "skylink").
		WithClock(func() time.Time { return base.Add(15*time.Minute + time.Second) })
	if _, err := late.Verify(token); !errors.Is(err, identity.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired just after expiry, got %v", err)
	}
}

func TestTokenVerifier_tamperedSignatureIsInvalid(t *testing.T) {
	issuer, verifier := newIssuerVerifier(t)

	token, err := issuer.Issue("AC-100", "")
	if err != nil {
		t.Fatal(err)
	}

	// Flip a mid-signature character to corrupt the decoded bytes.
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	mid := len(sig) / 2
	if sig[mid] == 'a' {
		sig[mid] = 'b'
	} else {
		sig[mid] = 'a'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := verifier.Verify(tampered); !errors.Is(err, identity.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for tampered token, got %v", err)
	}
}

func TestTokenVerifier_wrongAudienceIsInvalid(t *testing.T) {
	key := newTestKey(t)
	issuer := identity.NewTokenIssuer(key, "other-service", 15*time.Minute)
	verifier := identity.NewTokenVerifier(&key.PublicKey, "skylink")

	token, err := issuer.Issue("AC-100", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, identity.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for wrong audience, got %v", err)
	}
}

func TestTokenVerifier_missingSubjectIsInvalid(t *testing.T) {
	key := newTestKey(t)
	verifier := identity.NewTokenVerifier(&key.PublicKey, "skylink")

	// Hand-build a token with no subject; Issue refuses to, by contract.
	now := time.Now().UTC()
	claims := identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"skylink"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, identity.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for missing subject, got %v", err)
	}
}

func TestTokenVerifier_garbageIsInvalid(t *testing.T) {
	_, verifier := newIssuerVerifier(t)
	if _, err := verifier.Verify("not-a-jwt"); !errors.Is(err, identity.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid for garbage input, got %v", err)
	}
}

func TestCrossValidate(t *testing.T) {
	tests := []struct {
		name      string
		transport string
		subject   string
		wantErr   bool
	}{
		{"exact match", "AC-100", "AC-100", false},
		{"different identity", "AC-100", "AC-200", true},
		{"case differs", "ac-100", "AC-100", true},
		{"trailing space", "AC-100 ", "AC-100", true},
		{"empty transport", "", "AC-100", true},
		{"empty subject", "AC-100", "", true},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := identity.CrossValidate(tt.transport, tt.subject)
			if tt.wantErr && !errors.Is(err, identity.ErrIdentityMismatch) {
				t.Errorf("expected ErrIdentityMismatch, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPublicKeyPEM_roundTrip(t *testing.T) {
	key := newTestKey(t)

	pemStr, err := identity.PublicKeyPEM(&key.PublicKey)
	if err != nil {
		t.Fatalf("PublicKeyPEM() error: %v", err)
	}
	if !strings.HasPrefix(pemStr, "-----BEGIN PUBLIC KEY-----") {
		t.Errorf("unexpected PEM header: %q", pemStr[:26])
	}

	parsed, err := identity.ParsePublicKeyPEM([]byte(pemStr))
	if err != nil {
		t.Fatalf("ParsePublicKeyPEM() error: %v", err)
	}
	if parsed.N.Cmp(key.PublicKey.N) != 0 {
		t.Error("round-tripped public key does not match original")
	}
}
