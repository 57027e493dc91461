package identity

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAudience is the audience claim expected on SkyLink access tokens.
const DefaultAudience = "skylink"

// DefaultTokenTTL is the access-token lifetime. Tokens are deliberately
// short-lived; 15 minutes is the maximum the gateway will issue.
const DefaultTokenTTL = 15 * time.Minute

// Typed verification failures. Expiry is the common, retry-friendly case and
// is reported distinctly from every other failure; all parse, signature, and
// claim problems collapse into ErrTokenInvalid so that nothing about the
// failure mode leaks to the caller.
var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// ErrIdentityMismatch is returned by CrossValidate when the transport-layer
// identity and the token subject differ.
var ErrIdentityMismatch = errors.New("transport identity does not match token subject")

// Claims are the JWT claims carried by a SkyLink access token. Role is
// optional; an absent or unrecognised role resolves to the least-privileged
// default downstream, never to an escalated one.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// TokenIssuer issues RS256-signed access tokens whose subject is the
// aircraft's certificate common name.
type TokenIssuer struct {
	key      *rsa.PrivateKey
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. A zero ttl defaults to
// DefaultTokenTTL; a ttl above DefaultTokenTTL is clamped to it.
func NewTokenIssuer(key *rsa.PrivateKey, audience string, ttl time.Duration) *TokenIssuer {
	if audience == "" {
		audience = DefaultAudience
	}
	if ttl <= 0 || ttl > DefaultTokenTTL {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		key:      key,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock overrides the issuer's time source. Intended for tests.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

// Issue creates a signed access token for subject with the given role.
// The token is never logged by any SkyLink component.
func (t *TokenIssuer) Issue(subject, role string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("issue token: empty subject")
	}
	now := t.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{t.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// TokenVerifier validates access tokens against the gateway public key.
// The time source is injectable so expiry-boundary behaviour is
// deterministically testable.
type TokenVerifier struct {
	pub      *rsa.PublicKey
	audience string
	now      func() time.Time
}

// NewTokenVerifier creates a TokenVerifier for the given public key and
// expected audience.
func NewTokenVerifier(pub *rsa.PublicKey, audience string) *TokenVerifier {
	if audience == "" {
		audience = DefaultAudience
	}
	return &TokenVerifier{pub: pub, audience: audience, now: time.Now}
}

// WithClock overrides the verifier's time source. Intended for tests.
func (v *TokenVerifier) WithClock(now func() time.Time) *TokenVerifier {
	v.now = now
	return v
}

// Verify parses and validates a token, returning its claims on success.
//
// Checks run in order: signature, audience, expiry, required subject claim.
// A token whose only defect is expiry yields ErrTokenExpired; any signature
// or parse defect yields ErrTokenInvalid even when the token is also
// expired. The raw token never appears in the returned error.
func (v *TokenVerifier) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return v.pub, nil
		},
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed),
			errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, ErrTokenInvalid
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenInvalid
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// CrossValidate asserts that the transport-layer identity equals the token
// subject. Comparison is case-sensitive string equality with no
// normalisation: the certificate identity is ground truth, and anything
// other than an exact match is a spoofing attempt. The returned error never
// contains the expected identity.
func CrossValidate(transportIdentity, tokenSubject string) error {
	if transportIdentity == "" || tokenSubject == "" {
		return ErrIdentityMismatch
	}
	if transportIdentity != tokenSubject {
		return ErrIdentityMismatch
	}
	return nil
}
