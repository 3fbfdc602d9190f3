package memory

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/getpup/pupsourcing-migrator"
)

// Store is an in-memory implementation of store.NamespaceStore and
// store.Inspector for testing. Each ApplyStep buffers the statements an
// operation executes and publishes them together with the new revision only
// when the operation returns without error.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
}

type namespace struct {
	revision   migrator.Revision
	statements []string
	tables     map[string]bool
}

// New creates a new in-memory store with initialized maps.
func New() *Store {
	return &Store{
		namespaces: make(map[string]*namespace),
	}
}

// NamespaceExists reports whether the namespace was created.
func (s *Store) NamespaceExists(ctx context.Context, ns string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.namespaces[ns]
	return ok, nil
}

// CreateNamespace creates an empty namespace at migrator.Base.
// Creating an existing namespace is a no-op.
func (s *Store) CreateNamespace(ctx context.Context, ns string) error {
	if err := migrator.ValidateNamespace(ns); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.namespaces[ns]; !ok {
		s.namespaces[ns] = &namespace{tables: make(map[string]bool)}
	}
	return nil
}

// CurrentRevision returns the recorded revision of the namespace.
// Returns a *migrator.NamespaceNotFoundError if the namespace does not exist.
func (s *Store) CurrentRevision(ctx context.Context, ns string) (migrator.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return migrator.Base, &migrator.NamespaceNotFoundError{Namespace: ns}
	}
	return n.revision, nil
}

// SetRevision overwrites the recorded revision without running any operation.
// Tests use it to simulate namespaces left at arbitrary revisions.
func (s *Store) SetRevision(ns string, rev migrator.Revision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.namespaces[ns]
	if !ok {
		n = &namespace{tables: make(map[string]bool)}
		s.namespaces[ns] = n
	}
	n.revision = rev
}

// ApplyStep runs op against a buffered transaction. On success the buffered
// statements and the revision are published together; on failure nothing is.
func (s *Store) ApplyStep(ctx context.Context, ns string, op migrator.Operation, to migrator.Revision) error {
	s.mu.RLock()
	_, ok := s.namespaces[ns]
	s.mu.RUnlock()
	if !ok {
		return &migrator.NamespaceNotFoundError{Namespace: ns}
	}

	tx := &bufferedTx{}
	if op != nil {
		if err := op(ctx, tx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return &migrator.NamespaceNotFoundError{Namespace: ns}
	}
	for _, stmt := range tx.statements {
		n.statements = append(n.statements, stmt)
		applyDDL(n.tables, stmt)
	}
	n.revision = to
	return nil
}

// ListNamespaces returns every namespace, sorted.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ListTables implements store.Inspector. Tables are tracked from the CREATE
// TABLE and DROP TABLE statements committed to the namespace.
func (s *Store) ListTables(ctx context.Context, ns string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return nil, &migrator.NamespaceNotFoundError{Namespace: ns}
	}

	out := make([]string, 0, len(n.tables)+1)
	for name := range n.tables {
		out = append(out, name)
	}
	out = append(out, migrator.VersionTable)
	sort.Strings(out)
	return out, nil
}

// Statements returns the committed statements of a namespace in execution order.
func (s *Store) Statements(ns string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.namespaces[ns]
	if !ok {
		return nil
	}
	out := make([]string, len(n.statements))
	copy(out, n.statements)
	return out
}

type bufferedTx struct {
	statements []string
}

func (t *bufferedTx) Exec(ctx context.Context, query string, args ...any) error {
	t.statements = append(t.statements, query)
	return nil
}

var (
	createTableRegex = regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?"?([A-Za-z0-9_]+)"?`)
	dropTableRegex   = regexp.MustCompile(`(?i)^\s*DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?"?([A-Za-z0-9_]+)"?`)
)

func applyDDL(tables map[string]bool, stmt string) {
	if m := createTableRegex.FindStringSubmatch(stmt); m != nil {
		tables[strings.ToLower(m[1])] = true
		return
	}
	if m := dropTableRegex.FindStringSubmatch(stmt); m != nil {
		delete(tables, strings.ToLower(m[1]))
	}
}
