// Package tree implements the axis tree IR of spec.md §3.1: the per-axis
// structure shared by the row and column axes, plus the tree-path type of
// §3.3. Node variants are expressed as a single tagged-sum struct — not a
// class hierarchy — the same flat, discriminator-driven shape the teacher
// uses for its AST (engine/parser/ast.Node, a single interface with one
// concrete struct per node kind and an exhaustive switch in every
// consumer).
package tree

import (
	"fmt"
	"strings"

	"github.com/jasonphillips/tplm/internal/errs"
)

// Kind discriminates the Node variants.
type Kind int

const (
	KindDimension Kind = iota
	KindAggregate
	KindPercentageAggregate
	KindTotal
	KindSiblings
)

// Direction is a sort/limit direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// AggregateExprRef names an aggregate used as an orderBy target, possibly
// referencing dimensions ungrouped relative to its own scope (ACROSS).
type AggregateExprRef struct {
	Field              string
	Function           string
	UngroupedDimensions []string
}

// RatioExprRef is an orderBy target expressed as a ratio of two aggregates.
type RatioExprRef struct {
	Numerator   AggregateExprRef
	Denominator AggregateExprRef
}

// OrderBy is either a bare field name, an AggregateExprRef, or a
// RatioExprRef. Exactly one of the three is set.
type OrderBy struct {
	Field     string
	Aggregate *AggregateExprRef
	Ratio     *RatioExprRef
}

// Limit is `{count, direction, orderBy?}` (spec.md §3.1).
type Limit struct {
	Count     int
	Direction Direction
	OrderBy   *OrderBy
}

// Order is `{direction, orderBy?}` — a limit with no count.
type Order struct {
	Direction Direction
	OrderBy   *OrderBy
}

// Node is one axis-tree node. Exactly one of the per-kind payload groups
// below is meaningful, selected by Kind. Attaching a Child to an
// Aggregate/PercentageAggregate is a programmer error surfaced as a
// StructureError by Validate.
type Node struct {
	Kind Kind

	// Dimension
	Name               string
	Label              *string // nil: no override; empty string: suppressLabel
	DimLimit           *Limit
	DimOrder           *Order
	AcrossDimensions   []string
	Child              *Node

	// Aggregate / PercentageAggregate
	Measure         string
	Aggregation     string
	Format          string
	DenominatorScope string // "all" | "rows" | "cols" | "explicit"
	ScopeDimensions []string

	// Total
	TotalLabel *string

	// Siblings
	Children []*Node
}

// SuppressLabel reports whether this node's label was explicitly set to
// the empty string (spec.md §3.1 invariant).
func (n *Node) SuppressLabel() bool {
	return n.Label != nil && *n.Label == ""
}

// EffectiveLabel returns the display label, or ok=false if none was set.
func (n *Node) EffectiveLabel() (string, bool) {
	if n.Label == nil {
		return "", false
	}
	return *n.Label, true
}

// NewSiblings builds a Siblings node, flattening to the sole child when
// only one is given (spec.md §3.1 invariant: a Siblings node has >= 2
// children after construction).
func NewSiblings(children ...*Node) *Node {
	if len(children) == 1 {
		return children[0]
	}
	return &Node{Kind: KindSiblings, Children: children}
}

// IsLeaf reports whether n terminates a root-to-leaf chain: an Aggregate,
// a PercentageAggregate, a childless Total, or a childless Dimension.
func (n *Node) IsLeaf() bool {
	switch n.Kind {
	case KindAggregate, KindPercentageAggregate:
		return true
	case KindTotal:
		return n.Child == nil
	case KindDimension:
		return n.Child == nil
	default:
		return false
	}
}

// Clone deep-copies the subtree rooted at n. Required only at the (rare)
// points where sibling branches need an independent common suffix
// attached (spec.md §4.3, "attach child to leaves").
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := *n
	clone.Child = n.Child.Clone()
	if n.Children != nil {
		clone.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			clone.Children[i] = c.Clone()
		}
	}
	if n.AcrossDimensions != nil {
		clone.AcrossDimensions = append([]string(nil), n.AcrossDimensions...)
	}
	if n.ScopeDimensions != nil {
		clone.ScopeDimensions = append([]string(nil), n.ScopeDimensions...)
	}
	return &clone
}

// AttachToLeaves clones tail and attaches a clone to every leaf of root,
// in place. Used to give each branch of a Siblings node its own copy of a
// shared chain tail (spec.md §4.3: `(a|b) * c` -> Siblings(a->c, b->c)).
func AttachToLeaves(root *Node, tail *Node) error {
	if root == nil {
		return errs.NewInternalError("AttachToLeaves: nil root")
	}
	switch root.Kind {
	case KindAggregate, KindPercentageAggregate:
		return errs.NewStructureError("", "cannot attach a child to an Aggregate/PercentageAggregate leaf")
	case KindSiblings:
		for _, c := range root.Children {
			if err := AttachToLeaves(c, tail); err != nil {
				return err
			}
		}
		return nil
	case KindTotal, KindDimension:
		if root.Child == nil {
			root.Child = tail.Clone()
			return nil
		}
		return AttachToLeaves(root.Child, tail)
	default:
		return errs.NewInternalErrorf("AttachToLeaves: unknown kind %d", root.Kind)
	}
}

// Validate walks the subtree and enforces the invariants of spec.md §3.1.
func Validate(n *Node) error {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindAggregate, KindPercentageAggregate:
		if n.Child != nil {
			return errs.NewStructureError("", "Aggregate/PercentageAggregate leaf cannot have a child")
		}
	case KindSiblings:
		if len(n.Children) < 2 {
			return errs.NewStructureError("", "Siblings node must have at least 2 children")
		}
		for _, c := range n.Children {
			if err := Validate(c); err != nil {
				return err
			}
		}
	case KindTotal, KindDimension:
		if n.Child != nil {
			if err := Validate(n.Child); err != nil {
				return err
			}
		}
	default:
		return errs.NewInternalErrorf("unknown node kind %d", n.Kind)
	}
	return nil
}

// ---------------------------------------------------------------------
// Tree path (spec.md §3.3)
// ---------------------------------------------------------------------

// SegmentKind discriminates PathSegment variants.
type SegmentKind int

const (
	SegDimension SegmentKind = iota
	SegSibling
	SegTotal
	SegAggregate
)

// PathSegment identifies one step of a root-to-leaf branch.
type PathSegment struct {
	Kind  SegmentKind
	Name  string // Dimension{name} / Aggregate{name}
	Index int    // Sibling{index}
	Label string // Total{label}, optional
}

func (s PathSegment) String() string {
	switch s.Kind {
	case SegDimension:
		return fmt.Sprintf("Dimension{%s}", s.Name)
	case SegSibling:
		return fmt.Sprintf("Sibling{%d}", s.Index)
	case SegTotal:
		if s.Label != "" {
			return fmt.Sprintf("Total{%s}", s.Label)
		}
		return "Total{}"
	case SegAggregate:
		return fmt.Sprintf("Aggregate{%s}", s.Name)
	default:
		return "?"
	}
}

// Path is a full root-to-leaf branch identifier.
type Path []PathSegment

// String serializes the path; used as a dedup key and for mapping result
// rows back to structural position (spec.md §3.3).
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, "/")
}

// Append returns a new Path with segment appended (non-mutating — callers
// walk the tree recursively and must not share backing arrays across
// sibling branches).
func (p Path) Append(seg PathSegment) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}

// Branches enumerates every root-to-leaf branch of the subtree rooted at
// n, returning each leaf node paired with the path that reaches it and
// the chain of Dimension/Total ancestors along the way (spec.md §4.5
// needs the chain to extract GroupingInfo and total flags per branch).
func Branches(n *Node, prefix Path) []Branch {
	return branches(n, prefix, nil)
}

func branches(n *Node, prefix Path, chain []*Node) []Branch {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindAggregate:
		seg := PathSegment{Kind: SegAggregate, Name: n.Measure + "_" + n.Aggregation}
		return []Branch{{Path: prefix.Append(seg), Leaf: n, Chain: chain}}
	case KindPercentageAggregate:
		seg := PathSegment{Kind: SegAggregate, Name: n.Measure + "_" + n.Aggregation + "_pct"}
		return []Branch{{Path: prefix.Append(seg), Leaf: n, Chain: chain}}
	case KindTotal:
		label := ""
		if n.TotalLabel != nil {
			label = *n.TotalLabel
		}
		seg := PathSegment{Kind: SegTotal, Label: label}
		next := prefix.Append(seg)
		nextChain := append(append([]*Node(nil), chain...), n)
		if n.Child == nil {
			return []Branch{{Path: next, Leaf: n, Chain: chain}}
		}
		return branches(n.Child, next, nextChain)
	case KindDimension:
		seg := PathSegment{Kind: SegDimension, Name: n.Name}
		next := prefix.Append(seg)
		nextChain := append(append([]*Node(nil), chain...), n)
		if n.Child == nil {
			return []Branch{{Path: next, Leaf: n, Chain: chain}}
		}
		return branches(n.Child, next, nextChain)
	case KindSiblings:
		var out []Branch
		for i, c := range n.Children {
			seg := PathSegment{Kind: SegSibling, Index: i}
			out = append(out, branches(c, prefix.Append(seg), chain)...)
		}
		return out
	default:
		return nil
	}
}

// Branch pairs a leaf node with the path that reaches it and the
// Dimension/Total ancestor chain (root-first, excludes the leaf itself
// when the leaf is itself a Dimension or Total).
type Branch struct {
	Path  Path
	Leaf  *Node
	Chain []*Node
}

// FullChain returns Chain with Leaf appended when Leaf is itself a
// Dimension or Total (i.e. a childless grouping node rather than a value
// leaf), so callers get one uniform root-to-leaf grouping sequence.
func (b Branch) FullChain() []*Node {
	if b.Leaf != nil && (b.Leaf.Kind == KindDimension || b.Leaf.Kind == KindTotal) {
		return append(append([]*Node(nil), b.Chain...), b.Leaf)
	}
	return b.Chain
}
