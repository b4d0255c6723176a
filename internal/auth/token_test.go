// ABOUTME: Unit tests for token issuing, verification, and refresh rotation
// ABOUTME: Covers expiry boundaries, invalid tokens, reuse detection, and concurrent rotation

package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("token-test-signing-secret-32bytes!!")

// memLedger is an in-memory RotationLedger with the same atomic-rotation
// contract as the SQLite implementation.
type memLedger struct {
	mu     sync.Mutex
	tokens map[string]*RefreshTokenRecord
}

func newMemLedger() *memLedger {
	return &memLedger{tokens: make(map[string]*RefreshTokenRecord)}
}

func (l *memLedger) CreateRefreshToken(_ context.Context, rec *RefreshTokenRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[rec.ID] = rec
	return nil
}

func (l *memLedger) RotateRefreshToken(_ context.Context, oldID string, next *RefreshTokenRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[oldID]; !ok {
		return ErrTokenRotated
	}
	delete(l.tokens, oldID)
	l.tokens[next.ID] = next
	return nil
}

func (l *memLedger) DeleteRefreshToken(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tokens, id)
	return nil
}

func (l *memLedger) DeleteExpiredRefreshTokens(_ context.Context) error { return nil }

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tokens)
}

func newTestIssuer() (*Issuer, *memLedger) {
	ledger := newMemLedger()
	return NewIssuer(testSecret, 15*time.Minute, 30*24*time.Hour, ledger), ledger
}

func TestIssueTokens_AccessOnly(t *testing.T) {
	issuer, ledger := newTestIssuer()

	pair, err := issuer.IssueTokens(context.Background(), &Principal{Username: "alice", IsAdmin: true}, "Personal", false)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Empty(t, pair.RefreshToken, "remember=false must not issue a refresh token")
	assert.Equal(t, 0, ledger.count())

	claims, err := issuer.Verifier().Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "Personal", claims.Vault)
	assert.Equal(t, TokenKindAccess, claims.Kind)
	assert.True(t, claims.Admin)
}

func TestIssueTokens_Remembered(t *testing.T) {
	issuer, ledger := newTestIssuer()

	pair, err := issuer.IssueTokens(context.Background(), &Principal{Username: "alice", IsAdmin: true}, "Personal", true)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, 1, ledger.count())

	claims, err := issuer.Verifier().Verify(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenKindRefresh, claims.Kind)
}

func TestVerify_InvalidTokens(t *testing.T) {
	verifier := NewVerifier(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				other := NewIssuer([]byte("a-different-signing-secret-32bytes!"), time.Hour, time.Hour, newMemLedger())
				pair, _ := other.IssueTokens(context.Background(), &Principal{Username: "alice"}, "", false)
				return pair.AccessToken
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	issuer := NewIssuer(testSecret, -time.Hour, time.Hour, newMemLedger())

	pair, err := issuer.IssueTokens(context.Background(), &Principal{Username: "alice"}, "Personal", false)
	require.NoError(t, err)

	_, err = issuer.Verifier().Verify(pair.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_ExpiryBoundaryIsInclusive(t *testing.T) {
	// A token whose exp equals the current second is already expired.
	now := time.Now().Truncate(time.Second)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "boundary",
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now),
		},
		Vault: "Personal",
		Kind:  TokenKindAccess,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret).Verify(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_MissingKind(t *testing.T) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_RotatesToken(t *testing.T) {
	issuer, ledger := newTestIssuer()
	ctx := context.Background()

	pair, err := issuer.IssueTokens(ctx, &Principal{Username: "alice", IsAdmin: true}, "Personal", true)
	require.NoError(t, err)

	newPair, principal, err := issuer.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.Username)
	assert.NotEmpty(t, newPair.AccessToken)
	assert.NotEmpty(t, newPair.RefreshToken)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)
	assert.Equal(t, 1, ledger.count(), "rotation must not grow the ledger")

	// The rotated-away token is now poisoned.
	_, _, err = issuer.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenReuseDetected)

	// The new token still works.
	_, _, err = issuer.Refresh(ctx, newPair.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	issuer, _ := newTestIssuer()
	ctx := context.Background()

	pair, err := issuer.IssueTokens(ctx, &Principal{Username: "alice"}, "Personal", false)
	require.NoError(t, err)

	_, _, err = issuer.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRefresh_ConcurrentExactlyOneWins(t *testing.T) {
	issuer, _ := newTestIssuer()
	ctx := context.Background()

	pair, err := issuer.IssueTokens(ctx, &Principal{Username: "alice"}, "Personal", true)
	require.NoError(t, err)

	start := make(chan struct{})
	results := make(chan error, 2)
	for range 2 {
		go func() {
			<-start
			_, _, err := issuer.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	close(start)

	var successes, reuses int
	for range 2 {
		switch err := <-results; {
		case err == nil:
			successes++
		case errors.Is(err, ErrTokenReuseDetected):
			reuses++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, reuses)
}

func TestRevoke(t *testing.T) {
	issuer, ledger := newTestIssuer()
	ctx := context.Background()

	pair, err := issuer.IssueTokens(ctx, &Principal{Username: "alice"}, "Personal", true)
	require.NoError(t, err)
	require.Equal(t, 1, ledger.count())

	require.NoError(t, issuer.Revoke(ctx, pair.RefreshToken))
	assert.Equal(t, 0, ledger.count())

	// Revoking garbage is a no-op.
	assert.NoError(t, issuer.Revoke(ctx, "not-a-token"))
}
