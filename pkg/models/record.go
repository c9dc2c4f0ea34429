package models

import (
	"encoding/json"
	"time"
)

// Record is one stored entity instance. Fields is the raw field map as it
// sits in storage: protected fields hold an encoded EncryptedValue, the rest
// hold plain scalars.
type Record struct {
	ID        string
	Entity    string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// encryptedFieldKey marks an encrypted field inside a stored field map.
// The leading "$" keeps it out of the plain field namespace.
const encryptedFieldKey = "$encrypted"

// EncryptedValue is the opaque envelope produced by the crypto engine for a
// single protected field. The same plaintext encrypted twice never yields the
// same bytes: the nonce is fresh per call.
type EncryptedValue struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	AuthTag    []byte `json:"auth_tag"`
	KeyVersion int    `json:"key_version"`
}

// Encode wraps the value for placement in a record's field map.
func (v *EncryptedValue) Encode() map[string]any {
	return map[string]any{encryptedFieldKey: v}
}

// DecodeEncrypted recognizes an encoded EncryptedValue in a field map entry.
// Returns (nil, false) for plain values. Field maps round-trip through JSON
// storage, so the inner value may be a map rather than a struct.
func DecodeEncrypted(raw any) (*EncryptedValue, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	inner, ok := m[encryptedFieldKey]
	if !ok {
		return nil, false
	}
	if v, ok := inner.(*EncryptedValue); ok {
		return v, true
	}
	// JSON round trip: re-marshal the inner map into the struct.
	data, err := json.Marshal(inner)
	if err != nil {
		return nil, false
	}
	var v EncryptedValue
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false
	}
	return &v, true
}

// CloneFields returns a shallow copy of a field map. Gateway responses are
// built on copies so redaction never mutates the stored record.
func CloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
