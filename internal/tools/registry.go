package tools

import (
	"fmt"
	"sort"
)

// Registry maps tool codes to their Runner. The table is fixed at
// construction; lookups need no locking.
type Registry struct {
	catalog *Catalog
	runners map[string]Runner
	codes   []string
}

// NewRegistry binds runners to catalog codes. Every code must exist in the
// catalog and every runner must be non-nil.
func NewRegistry(catalog *Catalog, runners map[string]Runner) (*Registry, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is nil")
	}
	r := &Registry{catalog: catalog, runners: make(map[string]Runner, len(runners))}
	for code, runner := range runners {
		norm := NormalizeCode(code)
		if runner == nil {
			return nil, fmt.Errorf("runner for %s is nil", norm)
		}
		if _, ok := catalog.Get(norm); !ok {
			return nil, fmt.Errorf("runner %s has no catalog entry", norm)
		}
		if _, dup := r.runners[norm]; dup {
			return nil, fmt.Errorf("runner already registered for %s", norm)
		}
		r.runners[norm] = runner
		r.codes = append(r.codes, norm)
	}
	sort.Strings(r.codes)
	return r, nil
}

// Resolve looks up the runner for code.
func (r *Registry) Resolve(code string) (Runner, bool) {
	runner, ok := r.runners[NormalizeCode(code)]
	return runner, ok
}

// KnownCodes returns the runnable codes, sorted.
func (r *Registry) KnownCodes() []string {
	return append([]string(nil), r.codes...)
}

// Filter keeps the resolvable codes of codes, normalized and deduplicated,
// in first-seen order. Unknown codes are dropped without error.
func (r *Registry) Filter(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		norm := NormalizeCode(c)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		if _, ok := r.runners[norm]; ok {
			out = append(out, norm)
		}
	}
	return out
}

// Info returns the catalog metadata for code.
func (r *Registry) Info(code string) (Info, bool) {
	return r.catalog.Get(code)
}

// Catalog returns the catalog the registry was built from.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}
