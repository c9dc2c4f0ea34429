package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/org/phigate/pkg/models"
)

// GenesisHash is the PriorHash of the first record in a log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// recordHash computes the content hash of one audit record. The input is a
// fixed field order joined with 0x1f separators rather than JSON, so the
// hash survives storage round trips regardless of marshaling quirks.
// Timestamps are truncated to microseconds at construction because that is
// the precision the sink preserves.
func recordHash(r *models.AuditRecord) string {
	var b strings.Builder
	sep := func() { b.WriteByte(0x1f) }

	b.WriteString(r.ID)
	sep()
	b.WriteString(r.Timestamp.UTC().Format(time.RFC3339Nano))
	sep()
	b.WriteString(r.ActorID)
	sep()
	b.WriteString(string(r.ActorRole))
	sep()
	b.WriteString(string(r.Action))
	sep()
	b.WriteString(r.Entity)
	sep()
	b.WriteString(r.EntityID)
	sep()
	b.WriteString(string(r.Outcome))
	sep()
	b.WriteString(canonicalMetadata(r.Metadata))
	sep()
	b.WriteString(r.PriorHash)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func canonicalMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, metadata[k]))
	}
	return strings.Join(parts, "\x1e")
}

// VerifyChain recomputes the hash chain over an ordered sequence of records.
// Returns (true, -1) for an intact chain, or (false, i) where i is the index
// of the first record whose PriorHash does not match — the spot for operator
// triage after suspected tampering.
func VerifyChain(records []*models.AuditRecord) (bool, int) {
	prior := GenesisHash
	for i, r := range records {
		if r.PriorHash != prior {
			return false, i
		}
		prior = recordHash(r)
	}
	return true, -1
}
