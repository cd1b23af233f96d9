/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vasayxtx/go-glob"
)

const reservedNameChars = `{}:*?[]\`

// Throttler is a named policy. Keys matching one of the exempt patterns are never limited.
type Throttler struct {
	Name           string
	Policy         Policy
	ExemptPatterns []string

	exempt []func(string) bool
}

// NewThrottler creates a new Throttler.
// Exempt patterns are globs where "*" matches any sequence of characters (e.g. "10.0.*", "internal-*").
func NewThrottler(name string, policy Policy, exemptPatterns ...string) (*Throttler, error) {
	if name == "" {
		return nil, fmt.Errorf("throttler name cannot be empty")
	}
	// The name is a part of the store key hash tag and of the key scan pattern.
	if strings.ContainsAny(name, reservedNameChars) {
		return nil, fmt.Errorf("throttler name %q cannot contain any of %q", name, reservedNameChars)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("throttler %q: %w", name, err)
	}
	t := &Throttler{Name: name, Policy: policy, ExemptPatterns: exemptPatterns}
	for _, pattern := range exemptPatterns {
		if pattern == "" {
			return nil, fmt.Errorf("throttler %q: exempt pattern cannot be empty", name)
		}
		t.exempt = append(t.exempt, glob.Compile(pattern))
	}
	return t, nil
}

// IsExempt reports whether the key matches one of the exempt patterns.
func (t *Throttler) IsExempt(key string) bool {
	for _, match := range t.exempt {
		if match(key) {
			return true
		}
	}
	return false
}

// Registry maps throttler names to throttlers. It is immutable after construction.
type Registry struct {
	throttlers map[string]*Throttler
	names      []string
}

// NewRegistry creates a new Registry. Names must be unique.
func NewRegistry(throttlers ...*Throttler) (*Registry, error) {
	if len(throttlers) == 0 {
		return nil, fmt.Errorf("at least one throttler should be registered")
	}
	r := &Registry{throttlers: make(map[string]*Throttler, len(throttlers))}
	for _, t := range throttlers {
		if _, exists := r.throttlers[t.Name]; exists {
			return nil, fmt.Errorf("throttler %q is registered more than once", t.Name)
		}
		r.throttlers[t.Name] = t
		r.names = append(r.names, t.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns the throttler by name.
func (r *Registry) Get(name string) (*Throttler, bool) {
	t, ok := r.throttlers[name]
	return t, ok
}

// Names returns sorted names of all registered throttlers.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Throttlers returns all registered throttlers sorted by name.
func (r *Registry) Throttlers() []*Throttler {
	res := make([]*Throttler, 0, len(r.names))
	for _, name := range r.names {
		res = append(res, r.throttlers[name])
	}
	return res
}
