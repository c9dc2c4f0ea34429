package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/org/phigate/pkg/models"
)

// Reason classifies why a token failed validation. Callers must be able to
// tell "stale, reissue and retry" apart from "tampered, treat as an attack".
type Reason string

const (
	ReasonMalformed         Reason = "MALFORMED"
	ReasonSignatureMismatch Reason = "SIGNATURE_MISMATCH"
	ReasonSessionMismatch   Reason = "SESSION_MISMATCH"
	ReasonExpired           Reason = "EXPIRED"
)

// ValidationError carries the failure reason. The message never includes the
// signing secret or the token value.
type ValidationError struct {
	Reason Reason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("csrf token rejected: %s", strings.ToLower(string(e.Reason)))
}

// Issuer issues and verifies session-bound CSRF tokens. The signature is
// HMAC-SHA256 over value, session ID, and expiry, so a valid token cannot be
// forged without the signing secret. Stateless per call: the signing key is
// loaded once and immutable.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an Issuer with the given signing secret and token TTL.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue creates a fresh token bound to sessionID. Expiry is truncated to
// whole seconds so the wire form round-trips exactly.
func (i *Issuer) Issue(sessionID string) (*models.CSRFToken, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("generating csrf token: %w", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	t := &models.CSRFToken{
		Value:     base64.RawURLEncoding.EncodeToString(raw),
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	t.Signature = i.sign(t.Value, t.SessionID, t.ExpiresAt)
	return t, nil
}

// Validate verifies a token against the session making the request.
// Signature is checked first: a tampered token is an attack signal and must
// not be misreported as merely stale. Then session binding, then expiry.
func (i *Issuer) Validate(t *models.CSRFToken, sessionID string) error {
	want := i.sign(t.Value, t.SessionID, t.ExpiresAt)
	if !hmac.Equal(t.Signature, want) {
		return &ValidationError{Reason: ReasonSignatureMismatch}
	}
	if t.SessionID != sessionID {
		return &ValidationError{Reason: ReasonSessionMismatch}
	}
	if time.Now().After(t.ExpiresAt) {
		return &ValidationError{Reason: ReasonExpired}
	}
	return nil
}

func (i *Issuer) sign(value, sessionID string, expiresAt time.Time) []byte {
	mac := hmac.New(sha256.New, i.secret)
	fmt.Fprintf(mac, "%s\x1f%s\x1f%d", value, sessionID, expiresAt.Unix())
	return mac.Sum(nil)
}

// Encode renders a token as a single header-safe string:
// value.sessionID.expiryUnix.signature (value and signature base64url,
// session ID base64url to survive arbitrary IDs).
func Encode(t *models.CSRFToken) string {
	return strings.Join([]string{
		t.Value,
		base64.RawURLEncoding.EncodeToString([]byte(t.SessionID)),
		strconv.FormatInt(t.ExpiresAt.Unix(), 10),
		base64.RawURLEncoding.EncodeToString(t.Signature),
	}, ".")
}

// Decode parses the wire form produced by Encode. A malformed token is a
// validation failure with ReasonMalformed, not a server error.
func Decode(s string) (*models.CSRFToken, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return nil, &ValidationError{Reason: ReasonMalformed}
	}
	sessionID, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, &ValidationError{Reason: ReasonMalformed}
	}
	expUnix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonMalformed}
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, &ValidationError{Reason: ReasonMalformed}
	}
	return &models.CSRFToken{
		Value:     parts[0],
		SessionID: string(sessionID),
		ExpiresAt: time.Unix(expUnix, 0).UTC(),
		Signature: sig,
	}, nil
}
