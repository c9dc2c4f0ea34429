package csrf

import (
	"errors"
	"testing"
	"time"
)

func testIssuer(ttl time.Duration) *Issuer {
	return NewIssuer([]byte("0123456789abcdef0123456789abcdef"), ttl)
}

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return verr.Reason
}

func TestIssueAndValidate(t *testing.T) {
	i := testIssuer(time.Hour)
	tok, err := i.Issue("session-a")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := i.Validate(tok, "session-a"); err != nil {
		t.Errorf("fresh token should validate: %v", err)
	}
}

func TestSessionBinding(t *testing.T) {
	i := testIssuer(time.Hour)
	tok, _ := i.Issue("session-a")

	err := i.Validate(tok, "session-b")
	if got := reasonOf(t, err); got != ReasonSessionMismatch {
		t.Errorf("reason = %s, want %s", got, ReasonSessionMismatch)
	}
}

func TestExpiry(t *testing.T) {
	i := testIssuer(-time.Second)
	tok, _ := i.Issue("session-a")

	err := i.Validate(tok, "session-a")
	if got := reasonOf(t, err); got != ReasonExpired {
		t.Errorf("reason = %s, want %s", got, ReasonExpired)
	}
}

func TestTamperedTokenIsSignatureMismatch(t *testing.T) {
	i := testIssuer(time.Hour)
	tok, _ := i.Issue("session-a")

	t.Run("altered value", func(t *testing.T) {
		altered := *tok
		altered.Value = altered.Value[1:] + "A"
		if got := reasonOf(t, i.Validate(&altered, "session-a")); got != ReasonSignatureMismatch {
			t.Errorf("reason = %s, want %s", got, ReasonSignatureMismatch)
		}
	})

	t.Run("extended expiry", func(t *testing.T) {
		altered := *tok
		altered.ExpiresAt = altered.ExpiresAt.Add(24 * time.Hour)
		if got := reasonOf(t, i.Validate(&altered, "session-a")); got != ReasonSignatureMismatch {
			t.Errorf("reason = %s, want %s", got, ReasonSignatureMismatch)
		}
	})

	t.Run("rebound session", func(t *testing.T) {
		// Rewriting the session ID without the secret breaks the signature,
		// so a stolen token cannot be re-bound to the attacker's session.
		altered := *tok
		altered.SessionID = "session-b"
		if got := reasonOf(t, i.Validate(&altered, "session-b")); got != ReasonSignatureMismatch {
			t.Errorf("reason = %s, want %s", got, ReasonSignatureMismatch)
		}
	})
}

func TestWrongSecretRejected(t *testing.T) {
	tok, _ := testIssuer(time.Hour).Issue("session-a")
	other := NewIssuer([]byte("another-secret-another-secret-00"), time.Hour)
	if got := reasonOf(t, other.Validate(tok, "session-a")); got != ReasonSignatureMismatch {
		t.Errorf("reason = %s, want %s", got, ReasonSignatureMismatch)
	}
}

func TestWireRoundTrip(t *testing.T) {
	i := testIssuer(time.Hour)
	tok, _ := i.Issue("session with / odd . chars")

	decoded, err := Decode(Encode(tok))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if err := i.Validate(decoded, "session with / odd . chars"); err != nil {
		t.Errorf("decoded token should validate: %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, s := range []string{"", "a.b", "a.b.c.d.e", "a.!!.3.c", "a.b.notanumber.c"} {
		_, err := Decode(s)
		if err == nil {
			t.Errorf("Decode(%q) should fail", s)
			continue
		}
		if got := reasonOf(t, err); got != ReasonMalformed {
			t.Errorf("Decode(%q) reason = %s, want %s", s, got, ReasonMalformed)
		}
	}
}

func TestReissueProducesNewToken(t *testing.T) {
	i := testIssuer(time.Hour)
	a, _ := i.Issue("session-a")
	b, _ := i.Issue("session-a")
	if a.Value == b.Value {
		t.Error("reissued token should have a fresh value, not resurrect the old one")
	}
}
