package grid

import (
	"sort"
	"strconv"

	"github.com/jasonphillips/tplm/internal/tablespec"
	"github.com/jasonphillips/tplm/internal/tree"
)

// HeaderNode is one node of a row/col header hierarchy (spec.md §3.5).
type HeaderNode struct {
	Type     string // "dimension" | "total" | "sibling-label"
	Value    string
	Label    *string
	Span     int
	Depth    int
	Children []*HeaderNode
	Path     tree.Path
}

// BuildHeaders walks axis into the header hierarchy of spec.md §4.7,
// consulting idx to discover which values of each Dimension actually
// occur under each parent context.
func BuildHeaders(axis *tree.Node, idx *CellIndex, ordering orderingLookup) []*HeaderNode {
	if axis == nil {
		return nil
	}
	bindings := idx.AllBindings()
	return buildLevel(axis, bindings, nil, 0, ordering)
}

// orderingLookup is the subset of dimension.OrderingProvider the header
// builder needs — kept as an interface so tests can fake it without
// constructing a real provider.
type orderingLookup interface {
	HasDefinitionOrder(name string) bool
}

// buildLevel builds the HeaderNodes for one tree level, given the
// dimension bindings already fixed by ancestors (parentContext).
func buildLevel(n *tree.Node, bindings []map[string]string, parentContext map[string]string, depth int, ordering orderingLookup) []*HeaderNode {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case tree.KindDimension:
		return buildDimensionLevel(n, bindings, parentContext, depth, ordering)
	case tree.KindTotal:
		label := "Total"
		if n.TotalLabel != nil {
			label = *n.TotalLabel
		}
		node := &HeaderNode{Type: "total", Value: label, Depth: depth, Span: 1}
		if n.Child != nil {
			node.Children = buildLevel(n.Child, bindings, parentContext, depth+1, ordering)
			node.Span = sumSpan(node.Children)
		}
		return []*HeaderNode{node}
	case tree.KindSiblings:
		return buildSiblingsLevel(n, bindings, parentContext, depth, ordering)
	default:
		// Aggregate / PercentageAggregate: no header of its own, it is a
		// cell-value leaf, not an axis header position.
		return nil
	}
}

func buildDimensionLevel(n *tree.Node, bindings []map[string]string, parentContext map[string]string, depth int, ordering orderingLookup) []*HeaderNode {
	seenOrder := observedValues(bindings, parentContext, n.Name)
	ordered := orderValues(seenOrder, n, ordering)

	nodes := make([]*HeaderNode, 0, len(ordered))
	for _, v := range ordered {
		child := parentContext
		ctx := make(map[string]string, len(child)+1)
		for k, val := range child {
			ctx[k] = val
		}
		ctx[n.Name] = v

		node := &HeaderNode{Type: "dimension", Value: v, Depth: depth, Span: 1, Path: tree.Path{{Kind: tree.SegDimension, Name: n.Name}}}
		if n.Child != nil {
			node.Children = buildLevel(n.Child, bindings, ctx, depth+1, ordering)
			node.Span = sumSpan(node.Children)
		}
		nodes = append(nodes, node)
	}

	if wrapped := wrapSiblingLabel(n, nodes, depth); wrapped != nil {
		return wrapped
	}
	return nodes
}

// wrapSiblingLabel wraps a labeled dimension's value headers in a
// sibling-label node (spec.md §4.7 "Sibling-label wrappers"): any
// dimension level carrying a non-empty custom label gets one wrapper,
// unless suppressLabel was set. This includes the children of a
// Siblings node; buildSiblingsLevel does not wrap such a child again.
func wrapSiblingLabel(n *tree.Node, children []*HeaderNode, depth int) []*HeaderNode {
	if n.SuppressLabel() {
		return nil
	}
	label, ok := n.EffectiveLabel()
	if !ok || label == "" {
		return nil
	}
	for _, c := range children {
		c.Depth = depth + 1
	}
	wrapper := &HeaderNode{Type: "sibling-label", Value: label, Depth: depth, Children: children, Span: sumSpan(children)}
	return []*HeaderNode{wrapper}
}

func buildSiblingsLevel(n *tree.Node, bindings []map[string]string, parentContext map[string]string, depth int, ordering orderingLookup) []*HeaderNode {
	dimChildCount := 0
	for _, c := range n.Children {
		if c.Kind == tree.KindDimension {
			dimChildCount++
		}
	}
	trueSiblings := dimChildCount >= 2

	var out []*HeaderNode
	for _, c := range n.Children {
		sub := buildLevel(c, bindings, parentContext, depth, ordering)
		alreadyWrapped := len(sub) == 1 && sub[0].Type == "sibling-label"
		if trueSiblings && c.Kind == tree.KindDimension && !c.SuppressLabel() && !alreadyWrapped {
			if label, ok := c.EffectiveLabel(); ok && label != "" {
				for _, s := range sub {
					s.Depth = depth + 1
				}
				sub = []*HeaderNode{{Type: "sibling-label", Value: label, Depth: depth, Children: sub, Span: sumSpan(sub)}}
			}
		}
		out = append(out, sub...)
	}
	return out
}

func sumSpan(nodes []*HeaderNode) int {
	if len(nodes) == 0 {
		return 1
	}
	total := 0
	for _, n := range nodes {
		total += n.Span
	}
	return total
}

// observedValues collects the distinct values dimensionName takes across
// bindings that are consistent with parentContext, in first-seen order.
func observedValues(bindings []map[string]string, parentContext map[string]string, dimensionName string) []string {
	seen := make(map[string]bool)
	var order []string
	for _, b := range bindings {
		if !consistent(b, parentContext) {
			continue
		}
		v, ok := b[dimensionName]
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		order = append(order, v)
	}
	return order
}

func consistent(binding, context map[string]string) bool {
	for k, v := range context {
		if binding[k] != v {
			return false
		}
	}
	return true
}

// orderValues applies spec.md §4.7's ordering rule: preserve rowset
// order when the dimension has an explicit order, a limit, or a
// definition-order companion; otherwise sort (numeric compare for
// numbers, lexical otherwise).
func orderValues(seenOrder []string, n *tree.Node, ordering orderingLookup) []string {
	hasExplicitOrder := n.DimOrder != nil || n.DimLimit != nil
	hasDefinitionOrder := ordering != nil && ordering.HasDefinitionOrder(n.Name)
	if hasExplicitOrder || hasDefinitionOrder {
		return seenOrder
	}
	out := append([]string(nil), seenOrder...)
	sort.Slice(out, func(i, j int) bool {
		ni, erri := strconv.ParseFloat(out[i], 64)
		nj, errj := strconv.ParseFloat(out[j], 64)
		if erri == nil && errj == nil {
			return ni < nj
		}
		return out[i] < out[j]
	})
	return out
}

// hasTrueSiblings reports whether axis contains any Siblings node with 2+
// Dimension children, at any depth (spec.md §4.7 "Row-header mode").
func hasTrueSiblings(n *tree.Node) bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case tree.KindSiblings:
		dimCount := 0
		for _, c := range n.Children {
			if c.Kind == tree.KindDimension {
				dimCount++
			}
		}
		if dimCount >= 2 {
			return true
		}
		for _, c := range n.Children {
			if hasTrueSiblings(c) {
				return true
			}
		}
		return false
	case tree.KindDimension, tree.KindTotal:
		return hasTrueSiblings(n.Child)
	default:
		return false
	}
}

// UseCornerRowHeaders implements spec.md §4.7 "Row-header mode".
func UseCornerRowHeaders(opts tablespec.Options, rowAxis *tree.Node) bool {
	if opts.RowHeaders == "left" {
		return false
	}
	return !hasTrueSiblings(rowAxis)
}

// CornerRowLabel is one entry of GridSpec.CornerRowLabels.
type CornerRowLabel struct {
	Dimension string
	Label     string
}

// CornerRowLabels lists one {dimension,label} per row-nesting level, for
// corner-mode row headers (spec.md §4.7).
func CornerRowLabels(rowAxis *tree.Node) []CornerRowLabel {
	var out []CornerRowLabel
	var walk func(n *tree.Node)
	walk = func(n *tree.Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case tree.KindDimension:
			label := n.Name
			if l, ok := n.EffectiveLabel(); ok && l != "" {
				label = l
			}
			out = append(out, CornerRowLabel{Dimension: n.Name, Label: label})
			walk(n.Child)
		case tree.KindTotal:
			walk(n.Child)
		case tree.KindSiblings:
			if len(n.Children) > 0 {
				walk(n.Children[0])
			}
		}
	}
	walk(rowAxis)
	return out
}

// LeftModeRowLabels lists one label per header-column depth for
// left-mode row headers: a column gets a non-empty label only if some
// dimension with a custom label ends at that depth and no sibling-label
// already displays it in the body (spec.md §4.7).
func LeftModeRowLabels(rowAxis *tree.Node) []string {
	maxDepth := 0
	labels := make(map[int]string)
	var walk func(n *tree.Node, depth int, insideLabeledSibling bool)
	walk = func(n *tree.Node, depth int, insideLabeledSibling bool) {
		if n == nil {
			return
		}
		switch n.Kind {
		case tree.KindDimension:
			if depth > maxDepth {
				maxDepth = depth
			}
			if !insideLabeledSibling && !n.SuppressLabel() {
				if l, ok := n.EffectiveLabel(); ok && l != "" {
					labels[depth] = l
				}
			}
			walk(n.Child, depth+1, false)
		case tree.KindTotal:
			if depth > maxDepth {
				maxDepth = depth
			}
			walk(n.Child, depth+1, insideLabeledSibling)
		case tree.KindSiblings:
			dimCount := 0
			for _, c := range n.Children {
				if c.Kind == tree.KindDimension {
					dimCount++
				}
			}
			trueSiblings := dimCount >= 2
			for _, c := range n.Children {
				labeled := trueSiblings && c.Kind == tree.KindDimension && !c.SuppressLabel()
				if labeled {
					if l, ok := c.EffectiveLabel(); ok && l != "" {
						labeled = l != ""
					}
				}
				walk(c, depth, labeled)
			}
		}
	}
	walk(rowAxis, 0, false)

	out := make([]string, maxDepth+1)
	for d, l := range labels {
		out[d] = l
	}
	return out
}
