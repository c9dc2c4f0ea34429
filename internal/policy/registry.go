package policy

import (
	"errors"
	"fmt"
	"os"

	"github.com/org/phigate/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrUnknownEntity is returned for entities never registered. Access to an
// unregistered entity is denied outright rather than defaulting to
// "no encryption".
var ErrUnknownEntity = errors.New("unknown entity")

// Registry is the static map of entity type to field policies. It is built
// at process start, optionally overlaid from a YAML file, and read-only at
// request time. Fields without an explicit policy entry are plaintext and
// unrestricted; protection is strictly opt-in per field.
type Registry struct {
	entities map[string]map[string]models.FieldPolicy
	sealed   bool
}

// NewRegistry returns a registry preloaded with the built-in entity set.
func NewRegistry() *Registry {
	r := &Registry{entities: make(map[string]map[string]models.FieldPolicy)}
	r.registerDefaults()
	return r
}

// Register adds or replaces the policy for one field. Panics if called after
// Seal: policies never change at request time.
func (r *Registry) Register(p models.FieldPolicy) {
	if r.sealed {
		panic("policy: Register after Seal")
	}
	fields, ok := r.entities[p.Entity]
	if !ok {
		fields = make(map[string]models.FieldPolicy)
		r.entities[p.Entity] = fields
	}
	fields[p.Field] = p
}

// RegisterEntity makes an entity known without attaching field policies.
// Its fields are then all plaintext and unrestricted.
func (r *Registry) RegisterEntity(entity string) {
	if r.sealed {
		panic("policy: RegisterEntity after Seal")
	}
	if _, ok := r.entities[entity]; !ok {
		r.entities[entity] = make(map[string]models.FieldPolicy)
	}
}

// Seal freezes the registry. Must be called before serving requests.
func (r *Registry) Seal() {
	r.sealed = true
}

// PolicyFor returns the field policies for an entity, keyed by field name.
// Fails closed with ErrUnknownEntity for unregistered entities.
func (r *Registry) PolicyFor(entity string) (map[string]models.FieldPolicy, error) {
	fields, ok := r.entities[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return fields, nil
}

// IsReadable reports whether role may see the field in responses. Fields
// without a policy entry are readable by every role.
func (r *Registry) IsReadable(entity, field string, role models.Role) bool {
	fields, ok := r.entities[entity]
	if !ok {
		return false
	}
	p, ok := fields[field]
	if !ok {
		return true
	}
	return p.Readable(role)
}

// IsWritable reports whether role may supply the field on a write. Fields
// without a policy entry are writable by every role.
func (r *Registry) IsWritable(entity, field string, role models.Role) bool {
	fields, ok := r.entities[entity]
	if !ok {
		return false
	}
	p, ok := fields[field]
	if !ok {
		return true
	}
	return p.Writable(role)
}

// Entities returns the registered entity names.
func (r *Registry) Entities() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	return names
}

// policyFile is the YAML overlay shape:
//
//	entities:
//	  journal_entries:
//	    fields:
//	      content:
//	        encrypted: true
//	        readable_roles: [CLIENT, THERAPIST]
//	        writable_roles: [CLIENT]
type policyFile struct {
	Entities map[string]struct {
		Fields map[string]struct {
			Encrypted     bool          `yaml:"encrypted"`
			ReadableRoles []models.Role `yaml:"readable_roles"`
			WritableRoles []models.Role `yaml:"writable_roles"`
		} `yaml:"fields"`
	} `yaml:"entities"`
}

// LoadFile overlays policies from a YAML file on top of the built-ins.
// Entities named in the file become registered even with no fields listed.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parsing policy file: %w", err)
	}
	for entity, spec := range pf.Entities {
		r.RegisterEntity(entity)
		for field, fp := range spec.Fields {
			for _, role := range append(fp.ReadableRoles, fp.WritableRoles...) {
				if !role.Valid() {
					return fmt.Errorf("policy file: entity %s field %s: unknown role %q", entity, field, role)
				}
			}
			r.Register(models.FieldPolicy{
				Entity:        entity,
				Field:         field,
				Encrypted:     fp.Encrypted,
				ReadableRoles: fp.ReadableRoles,
				WritableRoles: fp.WritableRoles,
			})
		}
	}
	return nil
}
