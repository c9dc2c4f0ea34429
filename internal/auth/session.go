package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/org/phigate/internal/storage"
	"github.com/org/phigate/pkg/models"
)

// ErrInvalidSession covers every bearer-token rejection: bad signature,
// unknown session, revoked, or expired. Callers get one opaque error; the
// distinction lives in the audit trail, not the response.
var ErrInvalidSession = errors.New("invalid session")

// SessionClaims is the JWT payload for a session bearer token. Subject is
// the actor ID, ID (jti) the session ID.
type SessionClaims struct {
	jwt.RegisteredClaims
	Role models.Role `json:"role"`
}

// SessionService issues and validates session bearer tokens. The token is a
// signed HS256 JWT, but the session row in storage stays the source of truth
// for revocation and expiry — a valid signature alone is not enough.
type SessionService struct {
	store      storage.Store
	signingKey []byte
	ttl        time.Duration
}

// NewSessionService creates a SessionService.
func NewSessionService(store storage.Store, signingKey []byte, ttl time.Duration) *SessionService {
	return &SessionService{store: store, signingKey: signingKey, ttl: ttl}
}

// Issue establishes a session for the actor and returns it with the signed
// bearer token. The token is shown once; only the session row is persisted.
func (s *SessionService) Issue(ctx context.Context, actor models.Actor) (*models.Session, string, error) {
	if actor.ID == "" || !actor.Role.Valid() {
		return nil, "", fmt.Errorf("invalid actor %q/%q", actor.ID, actor.Role)
	}
	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.NewString(),
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, "", fmt.Errorf("persisting session: %w", err)
	}

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
		Role: actor.Role,
	}
	bearer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return nil, "", fmt.Errorf("signing session token: %w", err)
	}
	return session, bearer, nil
}

// Validate parses and verifies a bearer token, then checks the session row.
func (s *SessionService) Validate(ctx context.Context, bearer string) (*models.Session, error) {
	var claims SessionClaims
	_, err := jwt.ParseWithClaims(bearer, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, ErrInvalidSession
	}

	session, err := s.store.GetSession(ctx, claims.ID)
	if err != nil {
		return nil, ErrInvalidSession
	}
	if session.IsRevoked() || session.IsExpired() {
		return nil, ErrInvalidSession
	}
	// Defense against a session row swapped under a stale token.
	if session.ActorID != claims.Subject || session.ActorRole != claims.Role {
		return nil, ErrInvalidSession
	}
	return session, nil
}

// Revoke invalidates a session. Already-revoked sessions are left as is.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	return s.store.RevokeSession(ctx, sessionID)
}
