// Package chain holds an ordered, singly linked sequence of migration steps
// and resolves the path between two revisions.
package chain

import (
	"fmt"
	"strings"

	"github.com/getpup/pupsourcing-migrator"
)

type node struct {
	step  migrator.Step
	child migrator.Revision
	index int
}

// Chain is an immutable, validated revision chain.
// Steps are stored in an arena keyed by revision token; parent links are
// followed by lookup, never by pointer.
type Chain struct {
	nodes map[migrator.Revision]*node
	order []migrator.Revision // root -> head
	head  migrator.Revision
}

// Plan is the ordered list of steps needed to move from one revision to another.
type Plan struct {
	Direction migrator.Direction
	From      migrator.Revision
	To        migrator.Revision
	Steps     []migrator.Step
}

// Empty reports whether applying the plan is a no-op.
func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

// New validates the steps and builds a chain.
// Returns ChainIntegrityError for duplicate or empty tokens, dangling parents,
// multiple roots, an ambiguous head, cycles or unreachable steps.
func New(steps ...migrator.Step) (*Chain, error) {
	if len(steps) == 0 {
		return nil, &migrator.ChainIntegrityError{Reason: "chain has no steps"}
	}

	nodes := make(map[migrator.Revision]*node, len(steps))
	for _, s := range steps {
		if reserved(s.Revision) {
			return nil, &migrator.ChainIntegrityError{Reason: fmt.Sprintf("reserved revision token %q", string(s.Revision))}
		}
		if s.Up == nil {
			return nil, &migrator.ChainIntegrityError{Reason: fmt.Sprintf("step %s has no forward operation", s.Revision)}
		}
		if _, dup := nodes[s.Revision]; dup {
			return nil, &migrator.ChainIntegrityError{Reason: fmt.Sprintf("duplicate revision %s", s.Revision)}
		}
		nodes[s.Revision] = &node{step: s}
	}

	var roots []migrator.Revision
	children := make(map[migrator.Revision]int, len(nodes))
	for rev, n := range nodes {
		parent := n.step.Parent
		if parent == migrator.Base {
			roots = append(roots, rev)
			continue
		}
		p, ok := nodes[parent]
		if !ok {
			return nil, &migrator.ChainIntegrityError{Reason: fmt.Sprintf("step %s references missing parent %s", rev, parent)}
		}
		children[parent]++
		p.child = rev
	}

	var heads []migrator.Revision
	for rev := range nodes {
		if children[rev] == 0 {
			heads = append(heads, rev)
		}
	}
	if len(heads) != 1 {
		return nil, &migrator.ChainIntegrityError{Reason: fmt.Sprintf("expected exactly one head, found %d", len(heads))}
	}
	if len(roots) != 1 {
		return nil, &migrator.ChainIntegrityError{Reason: fmt.Sprintf("expected exactly one root, found %d", len(roots))}
	}

	// Walk head -> root. With one head and one root every step must be visited
	// exactly once; anything else is a cycle.
	order := make([]migrator.Revision, 0, len(nodes))
	seen := make(map[migrator.Revision]bool, len(nodes))
	for rev := heads[0]; rev != migrator.Base; rev = nodes[rev].step.Parent {
		if seen[rev] {
			return nil, &migrator.ChainIntegrityError{Reason: fmt.Sprintf("cycle detected at %s", rev)}
		}
		seen[rev] = true
		order = append(order, rev)
	}
	if len(order) != len(nodes) {
		return nil, &migrator.ChainIntegrityError{Reason: fmt.Sprintf("cycle detected: %d of %d steps unreachable from head", len(nodes)-len(order), len(nodes))}
	}

	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	for i, rev := range order {
		nodes[rev].index = i
	}

	return &Chain{
		nodes: nodes,
		order: order,
		head:  heads[0],
	}, nil
}

// Head returns the most recent revision.
func (c *Chain) Head() migrator.Revision {
	return c.head
}

// Len returns the number of steps.
func (c *Chain) Len() int {
	return len(c.order)
}

// Has reports whether rev is a step in the chain. Base is always present.
func (c *Chain) Has(rev migrator.Revision) bool {
	if rev == migrator.Base {
		return true
	}
	_, ok := c.nodes[rev]
	return ok
}

// Step returns the step for rev.
func (c *Chain) Step(rev migrator.Revision) (migrator.Step, bool) {
	n, ok := c.nodes[rev]
	if !ok {
		return migrator.Step{}, false
	}
	return n.step, true
}

// Revisions returns all revisions from root to head.
func (c *Chain) Revisions() []migrator.Revision {
	out := make([]migrator.Revision, len(c.order))
	copy(out, c.order)
	return out
}

// ResolveTarget turns Head into the concrete head revision and checks that
// the target exists.
func (c *Chain) ResolveTarget(target migrator.Revision) (migrator.Revision, error) {
	if target == migrator.Head {
		return c.head, nil
	}
	if !c.Has(target) {
		return "", &migrator.UnknownRevisionError{Revision: target}
	}
	return target, nil
}

// IsNoop reports whether current already equals target.
func (c *Chain) IsNoop(current, target migrator.Revision) bool {
	resolved, err := c.ResolveTarget(target)
	if err != nil {
		return false
	}
	return current == resolved
}

// position returns the index of rev in root->head order; Base is -1.
func (c *Chain) position(rev migrator.Revision) int {
	if rev == migrator.Base {
		return -1
	}
	return c.nodes[rev].index
}

// Resolve computes the steps needed to move from current to target.
//
// For an upgrade the steps are found by walking parent links from target back
// to current and reversing. For a downgrade the steps run from current back to
// (but excluding) target, newest first, and each must have a Down operation.
func (c *Chain) Resolve(current, target migrator.Revision) (Plan, error) {
	if !c.Has(current) {
		return Plan{}, &migrator.UnknownRevisionError{Revision: current}
	}
	to, err := c.ResolveTarget(target)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{From: current, To: to, Direction: migrator.Upgrade}
	if current == to {
		return plan, nil
	}

	if c.position(to) > c.position(current) {
		var steps []migrator.Step
		for rev := to; rev != current; rev = c.nodes[rev].step.Parent {
			steps = append(steps, c.nodes[rev].step)
		}
		for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
			steps[i], steps[j] = steps[j], steps[i]
		}
		plan.Steps = steps
		return plan, nil
	}

	plan.Direction = migrator.Downgrade
	for rev := current; rev != to; rev = c.nodes[rev].step.Parent {
		step := c.nodes[rev].step
		if step.Down == nil {
			return Plan{}, &migrator.NoReverseOperationError{Revision: rev}
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// reserved reports whether rev collides with a token ParseRevision gives
// special meaning to, in any letter case.
func reserved(rev migrator.Revision) bool {
	switch strings.ToLower(strings.TrimSpace(string(rev))) {
	case "", "head", "base":
		return true
	}
	return false
}
