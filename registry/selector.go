package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/getpup/pupsourcing-migrator"
)

// SelectorKind identifies how a Selector picks tenants.
type SelectorKind int

const (
	// SelectAll selects every registered tenant.
	SelectAll SelectorKind = iota

	// SelectExplicit selects tenants by name membership.
	SelectExplicit

	// SelectRange selects the half-open index range [Start, End) of the full sorted fleet.
	SelectRange
)

// Selector picks a subset of the fleet.
type Selector struct {
	Kind  SelectorKind
	Names []string
	Start int
	End   int
}

// All selects every tenant.
func All() Selector {
	return Selector{Kind: SelectAll}
}

// Explicit selects the named tenants.
func Explicit(names ...string) Selector {
	return Selector{Kind: SelectExplicit, Names: names}
}

// Range selects tenants [start, end) of the sorted registry.
func Range(start, end int) Selector {
	return Selector{Kind: SelectRange, Start: start, End: end}
}

// String renders the selector in the form accepted by ParseSelector.
func (s Selector) String() string {
	switch s.Kind {
	case SelectExplicit:
		return strings.Join(s.Names, ",")
	case SelectRange:
		return fmt.Sprintf("[%d,%d)", s.Start, s.End)
	default:
		return "all"
	}
}

// Validate checks range bounds and explicit names.
func (s Selector) Validate() error {
	switch s.Kind {
	case SelectAll:
		return nil
	case SelectExplicit:
		if len(s.Names) == 0 {
			return fmt.Errorf("%w: explicit selector has no names", migrator.ErrInvalidSelector)
		}
		for _, n := range s.Names {
			if err := migrator.ValidateNamespace(n); err != nil {
				return fmt.Errorf("%w: %v", migrator.ErrInvalidSelector, err)
			}
		}
		return nil
	case SelectRange:
		if s.Start < 0 || s.End < s.Start {
			return fmt.Errorf("%w: range [%d,%d) is invalid", migrator.ErrInvalidSelector, s.Start, s.End)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown selector kind %d", migrator.ErrInvalidSelector, s.Kind)
	}
}

// ParseSelector parses "all", a comma separated list of names, or a range
// written as "[start,end)" or "start:end".
func ParseSelector(expr string) (Selector, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || strings.EqualFold(expr, "all") {
		return All(), nil
	}

	if strings.HasPrefix(expr, "[") {
		if !strings.HasSuffix(expr, ")") {
			return Selector{}, fmt.Errorf("%w: range %q must be half-open, e.g. [0,5)", migrator.ErrInvalidSelector, expr)
		}
		return parseRange(expr, strings.TrimSuffix(strings.TrimPrefix(expr, "["), ")"), ",")
	}
	if strings.Contains(expr, ":") {
		return parseRange(expr, expr, ":")
	}

	var names []string
	for _, part := range strings.Split(expr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	sel := Explicit(names...)
	if err := sel.Validate(); err != nil {
		return Selector{}, err
	}
	return sel, nil
}

func parseRange(expr, body, sep string) (Selector, error) {
	parts := strings.Split(body, sep)
	if len(parts) != 2 {
		return Selector{}, fmt.Errorf("%w: malformed range %q", migrator.ErrInvalidSelector, expr)
	}

	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Selector{}, fmt.Errorf("%w: range start in %q: %v", migrator.ErrInvalidSelector, expr, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Selector{}, fmt.Errorf("%w: range end in %q: %v", migrator.ErrInvalidSelector, expr, err)
	}

	sel := Range(start, end)
	if err := sel.Validate(); err != nil {
		return Selector{}, err
	}
	return sel, nil
}
