package gateway

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/org/phigate/internal/alert"
	"github.com/org/phigate/internal/audit"
	"github.com/org/phigate/internal/crypto"
	"github.com/org/phigate/internal/policy"
	"github.com/org/phigate/internal/storage"
	"github.com/org/phigate/pkg/models"
)

func newTestGateway(t *testing.T) (*Gateway, *storage.MemoryStore, *audit.Writer) {
	t.Helper()
	store := storage.NewMemoryStore()

	keyring, err := crypto.NewKeyring(map[int][]byte{1: bytes.Repeat([]byte{0x42}, 32)}, 1)
	if err != nil {
		t.Fatal(err)
	}
	registry := policy.NewRegistry()
	registry.Seal()

	auditor, err := audit.NewWriter(context.Background(), store, alert.LogNotifier{})
	if err != nil {
		t.Fatal(err)
	}
	return New(store, registry, crypto.NewEngine(keyring), auditor), store, auditor
}

var (
	client    = models.Actor{ID: "client-1", Role: models.RoleClient}
	therapist = models.Actor{ID: "therapist-1", Role: models.RoleTherapist}
	admin     = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
)

func auditTrail(t *testing.T, store *storage.MemoryStore) []*models.AuditRecord {
	t.Helper()
	records, err := store.QueryAuditRecords(context.Background(), storage.AuditFilter{Ascending: true})
	if err != nil {
		t.Fatal(err)
	}
	return records
}

// The canonical flow: a client journals, content is ciphertext at rest,
// the client and therapist read it back in plaintext, an admin sees the
// entry with no content key at all, and every operation left its audit mark.
func TestJournalEntryLifecycle(t *testing.T) {
	g, store, _ := newTestGateway(t)
	ctx := context.Background()

	created, err := g.Create(ctx, "journal_entries", map[string]any{
		"title":   "T",
		"content": "secret",
	}, client)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Fields["content"] != "secret" {
		t.Errorf("creator should get plaintext back, got %v", created.Fields["content"])
	}

	// At rest: content is an EncryptedValue, not plaintext.
	stored, err := store.FindUnique(ctx, "journal_entries", created.ID)
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := models.DecodeEncrypted(stored.Fields["content"])
	if !ok {
		t.Fatal("stored content should be an encrypted envelope")
	}
	if string(ev.Ciphertext) == "secret" {
		t.Error("stored ciphertext equals plaintext")
	}
	if stored.Fields["title"] != "T" {
		t.Errorf("title should be stored plaintext, got %v", stored.Fields["title"])
	}

	// Same client reads it back decrypted.
	got, err := g.Read(ctx, "journal_entries", map[string]any{"id": created.ID}, client)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 1 || got[0].Fields["content"] != "secret" {
		t.Fatalf("client read = %+v, want content restored", got)
	}

	// Admin is outside content's readable roles: the key is absent, not nil.
	adminView, err := g.Read(ctx, "journal_entries", map[string]any{"id": created.ID}, admin)
	if err != nil {
		t.Fatalf("admin Read failed: %v", err)
	}
	if _, present := adminView[0].Fields["content"]; present {
		t.Error("content key should be removed entirely for ADMIN")
	}
	if adminView[0].Fields["title"] != "T" {
		t.Error("admin should still see the unrestricted title")
	}

	// Exactly CREATE, READ, READ — all SUCCESS.
	trail := auditTrail(t, store)
	if len(trail) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(trail))
	}
	wantActions := []models.AuditAction{models.AuditCreate, models.AuditRead, models.AuditRead}
	for i, rec := range trail {
		if rec.Action != wantActions[i] {
			t.Errorf("record %d action = %s, want %s", i, rec.Action, wantActions[i])
		}
		if rec.Outcome != models.OutcomeSuccess {
			t.Errorf("record %d outcome = %s, want SUCCESS", i, rec.Outcome)
		}
		if rec.Entity != "journal_entries" || rec.EntityID != created.ID {
			t.Errorf("record %d entity/id = %s/%s", i, rec.Entity, rec.EntityID)
		}
	}
}

func TestUnknownEntityFailsClosedAndIsAudited(t *testing.T) {
	g, store, _ := newTestGateway(t)
	ctx := context.Background()

	_, err := g.Read(ctx, "lab_results", nil, client)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}

	trail := auditTrail(t, store)
	if len(trail) != 1 || trail[0].Outcome != models.OutcomeFailure {
		t.Fatalf("unknown-entity denial must be audited as FAILURE, got %+v", trail)
	}
}

func TestWriteDeniedFieldIsAudited(t *testing.T) {
	g, store, _ := newTestGateway(t)
	ctx := context.Background()

	// Therapists may not write journal content (clients only).
	_, err := g.Create(ctx, "journal_entries", map[string]any{"content": "x"}, therapist)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
	if len(err.Error()) > 0 && err.Error() != ErrDenied.Error() {
		t.Errorf("client-facing error should stay generic, got %q", err.Error())
	}

	trail := auditTrail(t, store)
	if len(trail) != 1 || trail[0].Outcome != models.OutcomeFailure {
		t.Fatal("denied write must produce exactly one FAILURE audit record")
	}
	if trail[0].Metadata["error"] == "" {
		t.Error("audit metadata should carry the denial detail")
	}
}

func TestTamperedFieldFailsWholeRead(t *testing.T) {
	g, store, _ := newTestGateway(t)
	ctx := context.Background()

	created, err := g.Create(ctx, "journal_entries", map[string]any{"content": "secret"}, client)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the ciphertext in place, as a storage-level attacker would.
	stored, _ := store.FindUnique(ctx, "journal_entries", created.ID)
	ev, _ := models.DecodeEncrypted(stored.Fields["content"])
	ev.Ciphertext[0] ^= 0xff
	stored.Fields["content"] = ev.Encode()
	if err := store.UpdateRecord(ctx, stored); err != nil {
		t.Fatal(err)
	}

	_, err = g.Read(ctx, "journal_entries", map[string]any{"id": created.ID}, client)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied on integrity failure, got %v", err)
	}

	// Even an admin read — which would redact content anyway — must trip on
	// the tampered field rather than quietly skipping it.
	_, err = g.Read(ctx, "journal_entries", map[string]any{"id": created.ID}, admin)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied for admin read of tampered record, got %v", err)
	}

	trail := auditTrail(t, store)
	last := trail[len(trail)-1]
	if last.Outcome != models.OutcomeFailure || last.Action != models.AuditRead {
		t.Errorf("integrity failure must be audited as READ/FAILURE, got %s/%s", last.Action, last.Outcome)
	}
}

func TestCutAndPasteCiphertextRejected(t *testing.T) {
	g, store, _ := newTestGateway(t)
	ctx := context.Background()

	a, _ := g.Create(ctx, "journal_entries", map[string]any{"content": "entry a"}, client)
	b, _ := g.Create(ctx, "journal_entries", map[string]any{"content": "entry b"}, client)

	// Move a's ciphertext onto b: the context binding must reject it.
	storedA, _ := store.FindUnique(ctx, "journal_entries", a.ID)
	storedB, _ := store.FindUnique(ctx, "journal_entries", b.ID)
	storedB.Fields["content"] = storedA.Fields["content"]
	if err := store.UpdateRecord(ctx, storedB); err != nil {
		t.Fatal(err)
	}

	if _, err := g.Read(ctx, "journal_entries", map[string]any{"id": b.ID}, client); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied for transplanted ciphertext, got %v", err)
	}
}

func TestUpdateReplacesEncryptedValue(t *testing.T) {
	g, store, _ := newTestGateway(t)
	ctx := context.Background()

	created, _ := g.Create(ctx, "journal_entries", map[string]any{"content": "before", "title": "T"}, client)
	storedBefore, _ := store.FindUnique(ctx, "journal_entries", created.ID)
	evBefore, _ := models.DecodeEncrypted(storedBefore.Fields["content"])

	updated, err := g.Update(ctx, "journal_entries", created.ID, map[string]any{"content": "after"}, client)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Fields["content"] != "after" {
		t.Errorf("updated content = %v, want plaintext 'after'", updated.Fields["content"])
	}
	if updated.Fields["title"] != "T" {
		t.Error("untouched fields should survive the update")
	}

	storedAfter, _ := store.FindUnique(ctx, "journal_entries", created.ID)
	evAfter, _ := models.DecodeEncrypted(storedAfter.Fields["content"])
	if bytes.Equal(evBefore.Ciphertext, evAfter.Ciphertext) {
		t.Error("update should replace the encrypted envelope wholesale")
	}
}

func TestDeleteTombstonesAndAudits(t *testing.T) {
	g, store, _ := newTestGateway(t)
	ctx := context.Background()

	created, _ := g.Create(ctx, "messages", map[string]any{"body": "hi"}, client)
	if err := g.Delete(ctx, "messages", created.ID, client); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Gone from reads...
	got, err := g.Read(ctx, "messages", map[string]any{"id": created.ID}, client)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Error("tombstoned record should not be readable")
	}

	// ...but the audit trail keeps CREATE, DELETE, READ.
	trail := auditTrail(t, store)
	if len(trail) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(trail))
	}
	if trail[1].Action != models.AuditDelete || trail[1].Outcome != models.OutcomeSuccess {
		t.Errorf("second record = %s/%s, want DELETE/SUCCESS", trail[1].Action, trail[1].Outcome)
	}
}

func TestDeleteMissingRecordAudited(t *testing.T) {
	g, store, _ := newTestGateway(t)
	ctx := context.Background()

	err := g.Delete(ctx, "messages", "no-such-id", client)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	trail := auditTrail(t, store)
	if len(trail) != 1 || trail[0].Outcome != models.OutcomeFailure {
		t.Fatal("failed delete must still be audited")
	}
}

func TestReadFilterOnPlainField(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	g.Create(ctx, "appointments", map[string]any{"status": "booked", "slot": "am"}, therapist)
	g.Create(ctx, "appointments", map[string]any{"status": "cancelled", "slot": "pm"}, therapist)

	got, err := g.Read(ctx, "appointments", map[string]any{"status": "booked"}, therapist)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Fields["slot"] != "am" {
		t.Errorf("filtered read = %+v, want the booked morning slot", got)
	}
}

// Filtering is reading: matching against a field the role cannot see would
// let the caller binary-search its value from which records come back.
func TestReadFilterOnUnreadableFieldDenied(t *testing.T) {
	g, store, _ := newTestGateway(t)
	ctx := context.Background()

	if _, err := g.Create(ctx, "journal_entries", map[string]any{
		"content":    "private",
		"mood_score": "3",
	}, client); err != nil {
		t.Fatal(err)
	}

	// mood_score is readable by the client and therapist only; an admin
	// probing values must get the opaque denial, not an empty result set.
	_, err := g.Read(ctx, "journal_entries", map[string]any{"mood_score": "3"}, admin)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("admin filter on mood_score: err = %v, want ErrDenied", err)
	}

	trail := auditTrail(t, store)
	last := trail[len(trail)-1]
	if last.Action != models.AuditRead || last.Outcome != models.OutcomeFailure {
		t.Errorf("denied filter audit = %s/%s, want READ/FAILURE", last.Action, last.Outcome)
	}

	// The roles that may read the field can still filter on it.
	got, err := g.Read(ctx, "journal_entries", map[string]any{"mood_score": "3"}, client)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("client filter on mood_score returned %d records, want 1", len(got))
	}
}

func TestRedactionCompleteness(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()
	registry := policy.NewRegistry()

	seed := map[string]map[string]any{
		"journal_entries": {"title": "t", "content": "c", "mood_score": "5"},
		"appointments":    {"slot": "am", "notes": "n"},
		"messages":        {"body": "b"},
		"billing_records": {"amount": "10", "card_last4": "1234", "insurance_id": "INS"},
	}
	writers := map[string]models.Actor{
		"journal_entries": client,
		"appointments":    therapist,
		"messages":        client,
		"billing_records": admin,
	}

	for entity, data := range seed {
		if _, err := g.Create(ctx, entity, data, writers[entity]); err != nil {
			t.Fatalf("seeding %s: %v", entity, err)
		}
		pol, err := registry.PolicyFor(entity)
		if err != nil {
			t.Fatal(err)
		}
		for _, role := range models.Roles {
			actor := models.Actor{ID: "probe", Role: role}
			records, err := g.Read(ctx, entity, nil, actor)
			if err != nil {
				t.Fatalf("read %s as %s: %v", entity, role, err)
			}
			for _, rec := range records {
				for field := range rec.Fields {
					if fp, restricted := pol[field]; restricted && !fp.Readable(role) {
						t.Errorf("%s.%s leaked to %s", entity, field, role)
					}
				}
			}
		}
	}
}
