package policy

import "github.com/org/phigate/pkg/models"

// Built-in entity set for the healthcare deployment. Adding an entity means
// adding entries here (or in the YAML overlay) — nothing is inferred at
// runtime from stored data.
func (r *Registry) registerDefaults() {
	all := []models.Role{models.RoleClient, models.RoleTherapist, models.RoleAdmin}
	care := []models.Role{models.RoleClient, models.RoleTherapist}

	// patients: contact details are PHI; demographics stay open.
	for _, field := range []string{"name", "email", "phone"} {
		r.Register(models.FieldPolicy{
			Entity:        "patients",
			Field:         field,
			Encrypted:     true,
			ReadableRoles: all,
			WritableRoles: []models.Role{models.RoleClient, models.RoleAdmin},
		})
	}
	r.Register(models.FieldPolicy{
		Entity:        "patients",
		Field:         "emergency_contact",
		Encrypted:     true,
		ReadableRoles: []models.Role{models.RoleTherapist, models.RoleAdmin},
		WritableRoles: []models.Role{models.RoleClient, models.RoleAdmin},
	})

	// journal_entries: content is visible to the client and their therapist
	// only; admins see the entry without its content.
	r.Register(models.FieldPolicy{
		Entity:        "journal_entries",
		Field:         "content",
		Encrypted:     true,
		ReadableRoles: care,
		WritableRoles: []models.Role{models.RoleClient},
	})
	r.Register(models.FieldPolicy{
		Entity:        "journal_entries",
		Field:         "mood_score",
		Encrypted:     false,
		ReadableRoles: care,
		WritableRoles: []models.Role{models.RoleClient},
	})

	// appointments: session notes are therapist-only.
	r.Register(models.FieldPolicy{
		Entity:        "appointments",
		Field:         "notes",
		Encrypted:     true,
		ReadableRoles: []models.Role{models.RoleTherapist},
		WritableRoles: []models.Role{models.RoleTherapist},
	})
	r.RegisterEntity("appointments")

	// messages between client and therapist.
	r.Register(models.FieldPolicy{
		Entity:        "messages",
		Field:         "body",
		Encrypted:     true,
		ReadableRoles: care,
		WritableRoles: care,
	})

	// billing: payment identifiers are hidden from therapists.
	for _, field := range []string{"card_last4", "insurance_id"} {
		r.Register(models.FieldPolicy{
			Entity:        "billing_records",
			Field:         field,
			Encrypted:     true,
			ReadableRoles: []models.Role{models.RoleClient, models.RoleAdmin},
			WritableRoles: []models.Role{models.RoleAdmin},
		})
	}
}
