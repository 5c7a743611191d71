package settings

import "strings"

// Domain partitions setting keys.
type Domain string

const (
	DomainAuth      Domain = "auth"
	DomainAudit     Domain = "audit"
	DomainScheduler Domain = "scheduler"
	DomainBilling   Domain = "billing"
)

// Domains lists every settings domain in a stable order.
func Domains() []Domain {
	return []Domain{DomainAuth, DomainAudit, DomainScheduler, DomainBilling}
}

// ParseDomain maps a path segment to a known domain.
func ParseDomain(s string) (Domain, bool) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Domains() {
		if d == known {
			return d, true
		}
	}
	return "", false
}

// Spec is the static definition of one legal setting key.
type Spec struct {
	Domain   Domain
	Key      string
	EnvVar   string
	Type     ValueType
	Default  Value
	Required bool
	Allowed  []string // lower-case members; nil means unrestricted
	Min      *int64
	Max      *int64
	IsSecret bool
	Label    string

	// FromEnv normalizes a raw environment value before coercion.
	FromEnv func(string) string
}

// HasAllowed reports whether the spec restricts values to an allow-list.
func (s *Spec) HasAllowed() bool { return len(s.Allowed) > 0 }

// Registry is an immutable catalog of specs keyed by (domain, key).
type Registry struct {
	byKey    map[Domain]map[string]*Spec
	byDomain map[Domain][]*Spec
}

// NewRegistry builds a registry. It panics on a duplicate (domain, key)
// or an ill-typed default since both are programming errors.
func NewRegistry(specs []Spec) *Registry {
	r := &Registry{
		byKey:    make(map[Domain]map[string]*Spec),
		byDomain: make(map[Domain][]*Spec),
	}
	for i := range specs {
		s := specs[i]
		if !s.Type.Valid() {
			panic("settings: invalid value type for " + string(s.Domain) + "." + s.Key)
		}
		if s.Default.Type() != s.Type {
			panic("settings: default type mismatch for " + string(s.Domain) + "." + s.Key)
		}
		if r.byKey[s.Domain] == nil {
			r.byKey[s.Domain] = make(map[string]*Spec)
		}
		if _, dup := r.byKey[s.Domain][s.Key]; dup {
			panic("settings: duplicate spec " + string(s.Domain) + "." + s.Key)
		}
		r.byKey[s.Domain][s.Key] = &s
		r.byDomain[s.Domain] = append(r.byDomain[s.Domain], &s)
	}
	return r
}

// Get returns the spec for (domain, key), or nil, false when unknown.
func (r *Registry) Get(domain Domain, key string) (*Spec, bool) {
	s, ok := r.byKey[domain][key]
	return s, ok
}

// List returns the specs of a domain in declaration order.
func (r *Registry) List(domain Domain) []*Spec {
	out := make([]*Spec, len(r.byDomain[domain]))
	copy(out, r.byDomain[domain])
	return out
}

// Keys returns the declared keys of a domain in declaration order.
func (r *Registry) Keys(domain Domain) []string {
	specs := r.byDomain[domain]
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.Key)
	}
	return keys
}
