// Package registry enumerates tenant namespaces and applies tenant selectors.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing/es"
)

// Source lists tenant namespace identifiers. Order and duplicates don't matter.
type Source interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// ExistenceChecker reports whether a namespace is physically present.
type ExistenceChecker interface {
	NamespaceExists(ctx context.Context, namespace string) (bool, error)
}

// Config holds configuration for the Registry.
type Config struct {
	// Source enumerates tenants (required).
	Source Source

	// Existence fills TenantDescriptor.Exists (optional). When nil every
	// descriptor is reported as existing.
	Existence ExistenceChecker

	// Ignored tenants are dropped before any selection is applied.
	Ignored []string

	// Logger is for observability (optional).
	Logger es.Logger
}

// Registry resolves selectors against the sorted tenant fleet.
type Registry struct {
	config  Config
	ignored map[string]bool
}

// New creates a Registry with the given configuration.
func New(cfg Config) *Registry {
	ignored := make(map[string]bool, len(cfg.Ignored))
	for _, name := range cfg.Ignored {
		ignored[name] = true
	}
	return &Registry{
		config:  cfg,
		ignored: ignored,
	}
}

// Fleet returns every registered tenant, deduplicated and sorted lexicographically.
func (r *Registry) Fleet(ctx context.Context) ([]string, error) {
	names, err := r.config.Source.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	seen := make(map[string]bool, len(names))
	fleet := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] || r.ignored[name] {
			continue
		}
		seen[name] = true
		fleet = append(fleet, name)
	}
	sort.Strings(fleet)
	return fleet, nil
}

// List returns the sorted tenant descriptors matching sel.
//
// Range indices are computed against the complete sorted fleet so adjacent
// ranges partition it without gaps or overlaps. Returns ErrEmptySelection when
// nothing matches, unless sel selects all tenants or allowEmpty is set.
func (r *Registry) List(ctx context.Context, sel Selector, allowEmpty bool) ([]migrator.TenantDescriptor, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	fleet, err := r.Fleet(ctx)
	if err != nil {
		return nil, err
	}

	var selected []string
	switch sel.Kind {
	case SelectAll:
		selected = fleet
	case SelectExplicit:
		wanted := make(map[string]bool, len(sel.Names))
		for _, n := range sel.Names {
			wanted[n] = true
		}
		for _, name := range fleet {
			if wanted[name] {
				selected = append(selected, name)
				delete(wanted, name)
			}
		}
		if len(wanted) > 0 && r.config.Logger != nil {
			missing := make([]string, 0, len(wanted))
			for n := range wanted {
				missing = append(missing, n)
			}
			sort.Strings(missing)
			r.config.Logger.Error(ctx, "selected tenants are not registered", "tenants", missing)
		}
	case SelectRange:
		start, end := sel.Start, sel.End
		if end > len(fleet) {
			end = len(fleet)
		}
		if start < end {
			selected = fleet[start:end]
		}
	}

	if len(selected) == 0 && sel.Kind != SelectAll && !allowEmpty {
		return nil, fmt.Errorf("%w: selector %s over %d tenants", migrator.ErrEmptySelection, sel, len(fleet))
	}

	descriptors := make([]migrator.TenantDescriptor, 0, len(selected))
	for _, name := range selected {
		exists := true
		if r.config.Existence != nil {
			exists, err = r.config.Existence.NamespaceExists(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("failed to check namespace %s: %w", name, err)
			}
		}
		descriptors = append(descriptors, migrator.TenantDescriptor{Namespace: name, Exists: exists})
	}

	if r.config.Logger != nil {
		r.config.Logger.Debug(ctx, "resolved tenant selection",
			"selector", sel.String(),
			"fleetSize", len(fleet),
			"selected", len(descriptors))
	}

	return descriptors, nil
}
