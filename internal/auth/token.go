// ABOUTME: JWT issuing and verification for vault access and refresh tokens
// ABOUTME: Uses HS256 signing; refresh tokens are additionally checked against a rotation ledger

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds embedded in the "knd" claim. A refresh token presented where
// an access token is expected (or vice versa) is invalid.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// Principal is the authenticated identity acting on a request: the single
// admin account of a vault.
type Principal struct {
	Username string
	IsAdmin  bool
}

// Claims are the signed token contents. Subject carries the principal
// username, Vault the scope the token is bound to (empty for unscoped
// tokens), and Kind distinguishes access from refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	Vault string `json:"vlt,omitempty"`
	Kind  string `json:"knd"`
	Admin bool   `json:"adm,omitempty"`
}

// Principal resolves the claims into the principal they were issued for.
func (c *Claims) Principal() *Principal {
	return &Principal{Username: c.Subject, IsAdmin: c.Admin}
}

// TokenPair bundles a short-lived access token with an optional long-lived
// refresh token. RefreshToken is empty unless the session was issued with
// remember=true.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// RefreshTokenRecord is a ledger entry for an outstanding refresh token,
// keyed by the token's jti claim.
type RefreshTokenRecord struct {
	ID        string
	Username  string
	Vault     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RotationLedger tracks which refresh tokens are still live. Rotation must
// be atomic: of two concurrent rotations of the same id, exactly one may
// succeed; the other must observe the id as already gone.
type RotationLedger interface {
	CreateRefreshToken(ctx context.Context, rec *RefreshTokenRecord) error
	// RotateRefreshToken removes oldID and records next in one atomic step.
	// Must return ErrTokenRotated if oldID is not in the ledger.
	RotateRefreshToken(ctx context.Context, oldID string, next *RefreshTokenRecord) error
	DeleteRefreshToken(ctx context.Context, id string) error
	DeleteExpiredRefreshTokens(ctx context.Context) error
}

// ErrTokenRotated is returned by a RotationLedger when the presented
// refresh token id has already been rotated away.
var ErrTokenRotated = errors.New("refresh token already rotated")

// Issuer mints and refreshes token pairs.
//
// Access tokens are self-contained: signature plus expiry is the whole
// check. Refresh tokens also consult the rotation ledger so that a rotated
// token can never be replayed, even within its signed validity window.
type Issuer struct {
	verifier   *Verifier
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	ledger     RotationLedger
}

// NewIssuer creates an Issuer signing with the given secret. accessTTL is
// expected to be minutes, refreshTTL days.
func NewIssuer(secret []byte, accessTTL, refreshTTL time.Duration, ledger RotationLedger) *Issuer {
	return &Issuer{
		verifier:   NewVerifier(secret),
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		ledger:     ledger,
	}
}

// IssueTokens mints an access token for the principal, scoped to vault.
// A refresh token is issued only when remember is true; it is recorded in
// the rotation ledger before being returned.
func (i *Issuer) IssueTokens(ctx context.Context, principal *Principal, vault string, remember bool) (*TokenPair, error) {
	access, _, err := i.sign(principal, vault, TokenKindAccess, i.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	pair := &TokenPair{AccessToken: access}
	if !remember {
		return pair, nil
	}

	refresh, rec, err := i.sign(principal, vault, TokenKindRefresh, i.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("signing refresh token: %w", err)
	}
	if err := i.ledger.CreateRefreshToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording refresh token: %w", err)
	}

	pair.RefreshToken = refresh
	return pair, nil
}

// Refresh validates a refresh token, rotates it, and returns a fresh pair.
// An invalid or expired token yields ErrUnauthenticated. Presenting a token
// that was already rotated yields ErrTokenReuseDetected: the caller must
// treat the whole session as compromised.
func (i *Issuer) Refresh(ctx context.Context, tokenString string) (*TokenPair, *Principal, error) {
	claims, err := i.verifier.Verify(tokenString)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if claims.Kind != TokenKindRefresh {
		return nil, nil, fmt.Errorf("%w: not a refresh token", ErrUnauthenticated)
	}

	principal := claims.Principal()

	access, _, err := i.sign(principal, claims.Vault, TokenKindAccess, i.accessTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("signing access token: %w", err)
	}
	refresh, rec, err := i.sign(principal, claims.Vault, TokenKindRefresh, i.refreshTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("signing refresh token: %w", err)
	}

	// The ledger swap decides the race: exactly one concurrent refresh of
	// the same token gets past this line.
	if err := i.ledger.RotateRefreshToken(ctx, claims.ID, rec); err != nil {
		if errors.Is(err, ErrTokenRotated) {
			return nil, nil, ErrTokenReuseDetected
		}
		return nil, nil, fmt.Errorf("rotating refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, principal, nil
}

// Revoke drops a refresh token from the ledger, e.g. on logout. Revoking a
// token that is already gone is not an error.
func (i *Issuer) Revoke(ctx context.Context, tokenString string) error {
	claims, err := i.verifier.Verify(tokenString)
	if err != nil {
		return nil
	}
	return i.ledger.DeleteRefreshToken(ctx, claims.ID)
}

// Verifier returns the verifier sharing this issuer's signing secret.
func (i *Issuer) Verifier() *Verifier {
	return i.verifier
}

func (i *Issuer) sign(principal *Principal, vault, kind string, ttl time.Duration) (string, *RefreshTokenRecord, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   principal.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Vault: vault,
		Kind:  kind,
		Admin: principal.IsAdmin,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, err
	}

	rec := &RefreshTokenRecord{
		ID:        claims.ID,
		Username:  principal.Username,
		Vault:     vault,
		ExpiresAt: claims.ExpiresAt.Time,
		CreatedAt: now,
	}
	return signed, rec, nil
}

// Verifier validates signed tokens. Verification is pure computation over
// the token string and needs no locking; it is safe from any number of
// concurrent requests.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for tokens signed with the given secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the signature and expiry and returns the claims.
// Expiry is inclusive: a token is rejected from exactly its expiry second
// onward. Expired and invalid tokens are distinguished only internally
// (ErrExpiredToken vs ErrInvalidToken); both must reach clients as a plain
// 401 to avoid an oracle.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	// jwt/v5 already validates exp, but only with exclusive comparison at
	// sub-second precision. Enforce the inclusive second boundary here so
	// a token presented at exactly its expiry second is rejected.
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	if !time.Now().Before(claims.ExpiresAt.Time) {
		return nil, ErrExpiredToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	if claims.Kind != TokenKindAccess && claims.Kind != TokenKindRefresh {
		return nil, fmt.Errorf("%w: unknown token kind %q", ErrInvalidToken, claims.Kind)
	}
	return claims, nil
}
