package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/org/phigate/pkg/models"
	"golang.org/x/crypto/hkdf"
)

const gcmTagSize = 16

// ErrIntegrity is returned when a field fails authenticated decryption:
// the ciphertext was tampered with, the key is wrong, or the ciphertext was
// moved to a different record or field.
var ErrIntegrity = errors.New("field integrity check failed")

// UnknownKeyVersionError is returned when a stored value references a key
// version this process does not hold, typically a key-rotation deployment gap.
type UnknownKeyVersionError struct {
	Version int
}

func (e *UnknownKeyVersionError) Error() string {
	return fmt.Sprintf("unknown field key version %d", e.Version)
}

// FieldContext binds a ciphertext to its location. It is mixed into the GCM
// additional data, so a value copied onto another record or field fails to
// decrypt.
type FieldContext struct {
	Entity   string
	Field    string
	RecordID string
}

func (c FieldContext) additionalData(keyVersion int) []byte {
	// 0x1f separators keep "a|bc" and "ab|c" contexts distinct.
	return fmt.Appendf(nil, "%s\x1f%s\x1f%s\x1fv%d", c.Entity, c.Field, c.RecordID, keyVersion)
}

// Engine encrypts and decrypts individual field values with AES-256-GCM.
// Key material is loaded once at startup and held in memory only.
type Engine struct {
	keyring *Keyring
}

// NewEngine creates an Engine over the given keyring.
func NewEngine(keyring *Keyring) *Engine {
	return &Engine{keyring: keyring}
}

// Encrypt seals a plaintext field value under the active key version with a
// fresh random nonce. It never logs plaintext or key material.
func (e *Engine) Encrypt(plaintext string, fctx FieldContext) (*models.EncryptedValue, error) {
	version := e.keyring.ActiveVersion()
	key, err := e.keyring.key(version)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), fctx.additionalData(version))
	return &models.EncryptedValue{
		Ciphertext: sealed[:len(sealed)-gcmTagSize],
		Nonce:      nonce,
		AuthTag:    sealed[len(sealed)-gcmTagSize:],
		KeyVersion: version,
	}, nil
}

// Decrypt opens an encrypted field value. Fails with ErrIntegrity if the
// authentication tag does not verify, and with UnknownKeyVersionError if the
// value was sealed under a key version this process does not hold.
func (e *Engine) Decrypt(v *models.EncryptedValue, fctx FieldContext) (string, error) {
	key, err := e.keyring.key(v.KeyVersion)
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(v.Nonce) != gcm.NonceSize() || len(v.AuthTag) != gcmTagSize {
		return "", ErrIntegrity
	}

	sealed := make([]byte, 0, len(v.Ciphertext)+gcmTagSize)
	sealed = append(sealed, v.Ciphertext...)
	sealed = append(sealed, v.AuthTag...)

	plaintext, err := gcm.Open(nil, v.Nonce, sealed, fctx.additionalData(v.KeyVersion))
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// deriveFieldKey derives a 32-byte field encryption key for one key version
// from the configured master secret using HKDF-SHA256.
func deriveFieldKey(master []byte, version int) ([]byte, error) {
	key := make([]byte, 32)
	info := fmt.Sprintf("phigate-field-key-v%d", version)
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving field key: %w", err)
	}
	return key, nil
}
