// Package drift compares the tables of tenant namespaces against a reference namespace.
package drift

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
)

// Checker compares namespaces table by table.
type Checker struct {
	// Inspector lists tables (required).
	Inspector store.Inspector

	// Excluded tables are ignored in addition to migrator.ExcludedTables and
	// the version table.
	Excluded []string
}

// Report is the drift of one namespace relative to the reference.
type Report struct {
	Namespace string

	// Missing tables exist in the reference but not in the namespace.
	Missing []string

	// Extra tables exist in the namespace but not in the reference.
	Extra []string
}

// Drifted reports whether the namespace differs from the reference.
func (r Report) Drifted() bool {
	return len(r.Missing) > 0 || len(r.Extra) > 0
}

func (r Report) String() string {
	if !r.Drifted() {
		return r.Namespace + ": in sync"
	}
	return fmt.Sprintf("%s: missing [%s] extra [%s]", r.Namespace, strings.Join(r.Missing, ", "), strings.Join(r.Extra, ", "))
}

func (c *Checker) ignored(table string) bool {
	t := strings.ToLower(table)
	if migrator.ExcludedTables[t] || t == migrator.VersionTable {
		return true
	}
	for _, e := range c.Excluded {
		if strings.EqualFold(e, table) {
			return true
		}
	}
	return false
}

func (c *Checker) tables(ctx context.Context, ns string) (map[string]bool, error) {
	names, err := c.Inspector.ListTables(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", ns, err)
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if !c.ignored(n) {
			set[strings.ToLower(n)] = true
		}
	}
	return set, nil
}

// Compare returns one report per namespace, in the order given, describing
// how its tables differ from those of reference.
func (c *Checker) Compare(ctx context.Context, reference string, namespaces []string) ([]Report, error) {
	want, err := c.tables(ctx, reference)
	if err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(namespaces))
	for _, ns := range namespaces {
		if ns == reference {
			continue
		}
		have, err := c.tables(ctx, ns)
		if err != nil {
			return nil, err
		}

		r := Report{Namespace: ns}
		for t := range want {
			if !have[t] {
				r.Missing = append(r.Missing, t)
			}
		}
		for t := range have {
			if !want[t] {
				r.Extra = append(r.Extra, t)
			}
		}
		sort.Strings(r.Missing)
		sort.Strings(r.Extra)
		reports = append(reports, r)
	}
	return reports, nil
}
