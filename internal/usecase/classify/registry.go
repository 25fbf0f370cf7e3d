package classify

import (
	"strings"
)

// Entity is one legal entity of the owning organization.
type Entity struct {
	Name    string
	Aliases []string
	// AddressMarkers are lines of the entity's letterhead (street, postcode and city).
	AddressMarkers []string
}

// Registry matches party names against the owner's entities.
type Registry struct {
	entities []entry
}

type entry struct {
	entity  Entity
	aliases []string
	markers []string
}

// NewRegistry lower-cases and indexes the entities. The entity name is always an alias.
func NewRegistry(entities ...Entity) *Registry {
	r := &Registry{}
	for _, e := range entities {
		en := entry{entity: e}
		for _, a := range append([]string{e.Name}, e.Aliases...) {
			if a = normalize(a); a != "" {
				en.aliases = append(en.aliases, a)
			}
		}
		for _, m := range e.AddressMarkers {
			if m = normalize(m); m != "" {
				en.markers = append(en.markers, m)
			}
		}
		if len(en.aliases) > 0 {
			r.entities = append(r.entities, en)
		}
	}
	return r
}

// Match reports the entity whose alias is contained in name, case-insensitively.
func (r *Registry) Match(name string) (Entity, bool) {
	n := normalize(name)
	if n == "" {
		return Entity{}, false
	}
	for _, e := range r.entities {
		for _, a := range e.aliases {
			if strings.Contains(n, a) {
				return e.entity, true
			}
		}
	}
	return Entity{}, false
}

// IsAddressLine reports whether line holds one of the owner's address markers.
func (r *Registry) IsAddressLine(line string) bool {
	n := normalize(line)
	if n == "" {
		return false
	}
	for _, e := range r.entities {
		for _, m := range e.markers {
			if strings.Contains(n, m) {
				return true
			}
		}
	}
	return false
}

// Aliases lists every alias as configured, for the vision prompt.
func (r *Registry) Aliases() []string {
	var out []string
	for _, e := range r.entities {
		out = append(out, e.entity.Name)
		out = append(out, e.entity.Aliases...)
	}
	return out
}

// Len returns the number of registered entities.
func (r *Registry) Len() int { return len(r.entities) }

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
