package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testKeyring(t *testing.T) *Keyring {
	t.Helper()
	masters := map[int][]byte{
		1: bytes.Repeat([]byte{0x11}, 32),
		2: bytes.Repeat([]byte{0x22}, 32),
	}
	kr, err := NewKeyring(masters, 2)
	if err != nil {
		t.Fatalf("NewKeyring failed: %v", err)
	}
	return kr
}

func TestFieldRoundTrip(t *testing.T) {
	eng := NewEngine(testKeyring(t))
	fctx := FieldContext{Entity: "journal_entries", Field: "content", RecordID: "rec-1"}

	for _, plaintext := range []string{"", "secret", "unicode: ärztliche Notiz 診療"} {
		v, err := eng.Encrypt(plaintext, fctx)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", plaintext, err)
		}
		if v.KeyVersion != 2 {
			t.Errorf("expected active key version 2, got %d", v.KeyVersion)
		}
		got, err := eng.Decrypt(v, fctx)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptNonceUniqueness(t *testing.T) {
	eng := NewEngine(testKeyring(t))
	fctx := FieldContext{Entity: "patients", Field: "email", RecordID: "rec-7"}

	a, _ := eng.Encrypt("same plaintext", fctx)
	b, _ := eng.Encrypt("same plaintext", fctx)
	if bytes.Equal(a.Nonce, b.Nonce) {
		t.Error("two encryptions reused a nonce")
	}
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestContextBinding(t *testing.T) {
	eng := NewEngine(testKeyring(t))
	base := FieldContext{Entity: "journal_entries", Field: "content", RecordID: "rec-1"}

	v, err := eng.Encrypt("secret", base)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	cases := []struct {
		name string
		fctx FieldContext
	}{
		{"different record", FieldContext{Entity: "journal_entries", Field: "content", RecordID: "rec-2"}},
		{"different field", FieldContext{Entity: "journal_entries", Field: "title", RecordID: "rec-1"}},
		{"different entity", FieldContext{Entity: "messages", Field: "content", RecordID: "rec-1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := eng.Decrypt(v, tc.fctx); !errors.Is(err, ErrIntegrity) {
				t.Errorf("expected ErrIntegrity, got %v", err)
			}
		})
	}
}

func TestDecryptTamperedValue(t *testing.T) {
	eng := NewEngine(testKeyring(t))
	fctx := FieldContext{Entity: "messages", Field: "body", RecordID: "rec-9"}

	v, _ := eng.Encrypt("hello", fctx)

	tampered := *v
	tampered.Ciphertext = append([]byte{}, v.Ciphertext...)
	if len(tampered.Ciphertext) == 0 {
		t.Fatal("expected non-empty ciphertext")
	}
	tampered.Ciphertext[0] ^= 0xff
	if _, err := eng.Decrypt(&tampered, fctx); !errors.Is(err, ErrIntegrity) {
		t.Errorf("tampered ciphertext: expected ErrIntegrity, got %v", err)
	}

	tampered = *v
	tampered.AuthTag = append([]byte{}, v.AuthTag...)
	tampered.AuthTag[0] ^= 0xff
	if _, err := eng.Decrypt(&tampered, fctx); !errors.Is(err, ErrIntegrity) {
		t.Errorf("tampered tag: expected ErrIntegrity, got %v", err)
	}
}

func TestUnknownKeyVersion(t *testing.T) {
	eng := NewEngine(testKeyring(t))
	fctx := FieldContext{Entity: "patients", Field: "phone", RecordID: "rec-3"}

	v, _ := eng.Encrypt("555-0101", fctx)
	v.KeyVersion = 99

	_, err := eng.Decrypt(v, fctx)
	var unknownErr *UnknownKeyVersionError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownKeyVersionError, got %v", err)
	}
	if unknownErr.Version != 99 {
		t.Errorf("expected version 99 in error, got %d", unknownErr.Version)
	}
}

func TestOldKeyVersionStillDecrypts(t *testing.T) {
	masters := map[int][]byte{
		1: bytes.Repeat([]byte{0x11}, 32),
		2: bytes.Repeat([]byte{0x22}, 32),
	}
	oldRing, _ := NewKeyring(masters, 1)
	newRing, _ := NewKeyring(masters, 2)
	fctx := FieldContext{Entity: "billing_records", Field: "insurance_id", RecordID: "rec-4"}

	v, err := NewEngine(oldRing).Encrypt("INS-1234", fctx)
	if err != nil {
		t.Fatalf("Encrypt under v1 failed: %v", err)
	}
	got, err := NewEngine(newRing).Decrypt(v, fctx)
	if err != nil {
		t.Fatalf("Decrypt after rotation failed: %v", err)
	}
	if got != "INS-1234" {
		t.Errorf("got %q, want INS-1234", got)
	}
}

func TestNewKeyringValidation(t *testing.T) {
	if _, err := NewKeyring(nil, 1); err == nil {
		t.Error("expected error for empty keyring")
	}
	if _, err := NewKeyring(map[int][]byte{1: make([]byte, 16)}, 1); err == nil {
		t.Error("expected error for short master key")
	}
	if _, err := NewKeyring(map[int][]byte{1: make([]byte, 32)}, 2); err == nil {
		t.Error("expected error for active version not in keyring")
	}
}

func TestKeyDerivationDeterministic(t *testing.T) {
	master := bytes.Repeat([]byte{0x33}, 32)
	a, _ := deriveFieldKey(master, 1)
	b, _ := deriveFieldKey(master, 1)
	if !bytes.Equal(a, b) {
		t.Error("derivation should be deterministic for fixed inputs")
	}
	c, _ := deriveFieldKey(master, 2)
	if bytes.Equal(a, c) {
		t.Error("different versions should derive different keys")
	}
}
