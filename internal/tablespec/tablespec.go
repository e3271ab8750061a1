// Package tablespec implements spec.md §4.3 (C3): converting the
// front-end AST into the canonical axis-tree TableSpec, attaching
// invariants, collecting the global aggregate set, and synthesizing the
// global NULL-exclusion filter for row dimensions.
package tablespec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jasonphillips/tplm/ast"
	"github.com/jasonphillips/tplm/internal/errs"
	"github.com/jasonphillips/tplm/internal/tree"
)

// Options mirrors spec.md §3.2's enumerated option map as a concrete
// struct — recognized TPL OPTIONS entries are fixed fields; Build ignores
// unrecognized keys and unrecognized rowHeaders values.
type Options struct {
	RowHeaders   string // "above" (default) | "left"
	IncludeNulls bool
}

// DefaultOptions returns the spec-mandated defaults (spec.md §6).
func DefaultOptions() Options {
	return Options{RowHeaders: "above", IncludeNulls: false}
}

// AggregateKey identifies one entry of TableSpec.Aggregates, keyed by
// `measure_aggregation` (or `…_pct` for percentages), per spec.md §3.2.
type AggregateKey struct {
	Measure      string
	Aggregation  string
	IsPercentage bool

	// Set only when IsPercentage; carried from the originating
	// PercentageAggregate leaf (spec.md §3.1) so C6 can render the right
	// denominator scope without re-walking the tree.
	DenominatorScope string
	ScopeDimensions  []string

	// Format is the first-encountered leaf's display format string
	// (spec.md §4.1), empty when the binding gave none.
	Format string

	// Label is the first-encountered leaf's resolved display label
	// (per-aggregation override already applied over the binding label at
	// tree-build time, buildAggregationItem), empty when neither gave one
	// (spec.md §4.7 "Aggregate-only row axis" label precedence).
	Label string
}

// Name returns the generated aggregate name (spec.md GLOSSARY).
func (a AggregateKey) Name() string {
	base := a.Aggregation
	if a.Measure != "" {
		base = a.Measure + "_" + a.Aggregation
	}
	if a.IsPercentage {
		return base + "_pct"
	}
	return base
}

// TableSpec is the structural IR of spec.md §3.2.
type TableSpec struct {
	Source     string
	Where      string
	Options    Options
	RowAxis    *tree.Node
	ColAxis    *tree.Node
	Aggregates []AggregateKey
	FirstAxis  ast.FirstAxis
}

// Build converts a parsed Statement into a TableSpec (spec.md §4.3).
func Build(stmt *ast.Statement) (*TableSpec, error) {
	opts := DefaultOptions()
	if v, ok := stmt.Options["rowHeaders"]; ok && (v == "above" || v == "left") {
		opts.RowHeaders = v
	}
	if v, ok := stmt.Options["includeNulls"]; ok {
		opts.IncludeNulls = v == "true"
	}

	rowAxis, err := buildAxis(stmt.RowAxis)
	if err != nil {
		return nil, err
	}
	colAxis, err := buildAxis(stmt.ColAxis)
	if err != nil {
		return nil, err
	}

	if err := tree.Validate(rowAxis); err != nil {
		return nil, err
	}
	if err := tree.Validate(colAxis); err != nil {
		return nil, err
	}

	aggregates := collectAggregates(rowAxis, colAxis)

	where := stmt.Where
	if !opts.IncludeNulls {
		rowDims := dimensionNames(rowAxis)
		if nullFilter := buildNullFilter(rowDims); nullFilter != "" {
			where = andWhere(where, nullFilter)
		}
	}

	return &TableSpec{
		Source:     stmt.Source,
		Where:      where,
		Options:    opts,
		RowAxis:    rowAxis,
		ColAxis:    colAxis,
		Aggregates: aggregates,
		FirstAxis:  stmt.FirstAxis,
	}, nil
}

// buildAxis builds the right-to-left linked chain over a sequence of
// Groups (spec.md §4.3): the node(s) built from groups[i] get a cloned
// copy of the chain built from groups[i+1:] attached to every leaf.
func buildAxis(groups []ast.Group) (*tree.Node, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	tail, err := buildAxis(groups[1:])
	if err != nil {
		return nil, err
	}
	head, err := buildGroup(groups[0])
	if err != nil {
		return nil, err
	}
	if head == nil {
		return tail, nil
	}
	if tail != nil {
		if err := tree.AttachToLeaves(head, tail); err != nil {
			return nil, err
		}
	}
	return head, nil
}

// buildGroup builds the Siblings-or-single node for one group's items
// (the pipe-alternatives at one chain position).
func buildGroup(group ast.Group) (*tree.Node, error) {
	var nodes []*tree.Node
	for _, item := range group.Items {
		n, err := buildItem(item)
		if err != nil {
			return nil, err
		}
		if n != nil {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return tree.NewSiblings(nodes...), nil
}

func buildItem(item ast.Item) (*tree.Node, error) {
	switch item.Kind {
	case ast.ItemDimensionRef:
		n := &tree.Node{Kind: tree.KindDimension, Name: item.DimensionName}
		if item.Label != nil {
			n.Label = item.Label
		}
		if item.DimensionLimit != nil {
			limit, err := toTreeLimit(item.DimensionLimit)
			if err != nil {
				return nil, err
			}
			n.DimLimit = limit.Limit
			n.AcrossDimensions = limit.acrossDims
		}
		if item.DimensionOrder != nil {
			order, across, err := toTreeOrder(item.DimensionOrder)
			if err != nil {
				return nil, err
			}
			n.DimOrder = order
			n.AcrossDimensions = append(n.AcrossDimensions, across...)
		}
		return n, nil

	case ast.ItemMeasureBinding, ast.ItemMeasureRef, ast.ItemStandaloneAggregation:
		return buildAggregationItem(item)

	case ast.ItemPercentageAggregate:
		fn := "count"
		if len(item.Aggregations) > 0 {
			fn = item.Aggregations[0]
		}
		scope := item.PercentageScope
		if scope == "" {
			scope = "all"
		}
		return &tree.Node{
			Kind:             tree.KindPercentageAggregate,
			Measure:          item.Measure,
			Aggregation:      fn,
			Format:           item.Format,
			Label:            item.Label,
			DenominatorScope: scope,
			ScopeDimensions:  item.PercentageScopeDims,
		}, nil

	case ast.ItemAll:
		return &tree.Node{Kind: tree.KindTotal, TotalLabel: item.AllLabel}, nil

	case ast.ItemSubAxis:
		return buildAxis(item.SubGroups)

	case ast.ItemAnnotatedGroup:
		inner, err := buildGroup(ast.Group{Items: item.AnnotatedItems})
		if err != nil {
			return nil, err
		}
		propagateFormatLabel(inner, item.Format, item.Label)
		return inner, nil

	default:
		return nil, errs.NewStructureError("", fmt.Sprintf("unknown AST item kind %d", item.Kind))
	}
}

// buildAggregationItem expands a measure binding into an Aggregate leaf
// or a Siblings-of-Aggregate chain (spec.md §4.3): a single aggregation
// collapses to one leaf; several become siblings; a group binding
// `(a|b).(sum|mean)` is the cartesian product over measures x
// aggregations, handled by the front end producing one Item per measure
// with the shared Aggregations list (this function handles one measure).
func buildAggregationItem(item ast.Item) (*tree.Node, error) {
	if len(item.Aggregations) == 0 {
		return nil, errs.NewStructureError("", "measure binding has no aggregation function")
	}
	if len(item.Aggregations) == 1 {
		return &tree.Node{
			Kind:        tree.KindAggregate,
			Measure:     item.Measure,
			Aggregation: item.Aggregations[0],
			Format:      item.Format,
			Label:       item.Label,
		}, nil
	}
	leaves := make([]*tree.Node, len(item.Aggregations))
	for i, fn := range item.Aggregations {
		format, label := item.Format, item.Label
		if i < len(item.PerAggregationOverride) {
			if ov := item.PerAggregationOverride[i]; ov.Format != "" || ov.Label != nil {
				if ov.Format != "" {
					format = ov.Format
				}
				if ov.Label != nil {
					label = ov.Label
				}
			}
		}
		leaves[i] = &tree.Node{
			Kind:        tree.KindAggregate,
			Measure:     item.Measure,
			Aggregation: fn,
			Format:      format,
			Label:       label,
		}
	}
	return tree.NewSiblings(leaves...), nil
}

// propagateFormatLabel pushes a format/label annotation down to every
// Aggregate/PercentageAggregate leaf within n (spec.md §4.3).
func propagateFormatLabel(n *tree.Node, format string, label *string) {
	if n == nil {
		return
	}
	switch n.Kind {
	case tree.KindAggregate, tree.KindPercentageAggregate:
		if format != "" {
			n.Format = format
		}
		if label != nil {
			n.Label = label
		}
	case tree.KindSiblings:
		for _, c := range n.Children {
			propagateFormatLabel(c, format, label)
		}
	case tree.KindDimension, tree.KindTotal:
		propagateFormatLabel(n.Child, format, label)
	}
}

type limitResult struct {
	*tree.Limit
	acrossDims []string
}

func toTreeLimit(l *ast.ItemLimit) (*limitResult, error) {
	dir := tree.Desc
	if strings.EqualFold(l.Direction, "asc") {
		dir = tree.Asc
	}
	ob, across, err := toTreeOrderBy(l.OrderBy)
	if err != nil {
		return nil, err
	}
	return &limitResult{Limit: &tree.Limit{Count: l.Count, Direction: dir, OrderBy: ob}, acrossDims: across}, nil
}

func toTreeOrder(o *ast.ItemOrder) (*tree.Order, []string, error) {
	dir := tree.Asc
	if strings.EqualFold(o.Direction, "desc") {
		dir = tree.Desc
	}
	ob, across, err := toTreeOrderBy(o.OrderBy)
	if err != nil {
		return nil, nil, err
	}
	return &tree.Order{Direction: dir, OrderBy: ob}, across, nil
}

func toTreeOrderBy(ob *ast.ItemOrderBy) (*tree.OrderBy, []string, error) {
	if ob == nil {
		return nil, nil, nil
	}
	if ob.RatioNumerator != nil && ob.RatioDenominator != nil {
		num := toAggregateExprRef(ob.RatioNumerator)
		den := toAggregateExprRef(ob.RatioDenominator)
		across := append(append([]string{}, num.UngroupedDimensions...), den.UngroupedDimensions...)
		return &tree.OrderBy{Ratio: &tree.RatioExprRef{Numerator: num, Denominator: den}}, across, nil
	}
	if ob.AggregateFunction != "" {
		ref := toAggregateExprRef(ob)
		return &tree.OrderBy{Aggregate: &ref}, ref.UngroupedDimensions, nil
	}
	if ob.Field == "" {
		return nil, nil, errs.NewStructureError("", "orderBy has neither field, aggregate, nor ratio")
	}
	return &tree.OrderBy{Field: ob.Field}, nil, nil
}

func toAggregateExprRef(ob *ast.ItemOrderBy) tree.AggregateExprRef {
	return tree.AggregateExprRef{
		Field:               ob.AggregateMeasure,
		Function:            ob.AggregateFunction,
		UngroupedDimensions: append([]string(nil), ob.UngroupedDimensions...),
	}
}

// RecollectAggregates re-derives TableSpec.Aggregates from the current
// axis trees. The orchestrator calls this after a percentile rewrite
// (internal/percentile) mutates Aggregate leaves in place, since the
// aggregate set built at TableSpec-construction time would otherwise
// still name the pre-rewrite measures (spec.md §4.4).
func RecollectAggregates(spec *TableSpec) {
	spec.Aggregates = collectAggregates(spec.RowAxis, spec.ColAxis)
}

// collectAggregates unions the aggregates found on both axes, keyed by
// name; defaults to a single row-count aggregate when empty (spec.md
// §3.2).
func collectAggregates(rowAxis, colAxis *tree.Node) []AggregateKey {
	seen := make(map[string]AggregateKey)
	order := []string{}
	add := func(n *tree.Node) {
		if n.Kind != tree.KindAggregate && n.Kind != tree.KindPercentageAggregate {
			return
		}
		label := ""
		if n.Label != nil {
			label = *n.Label
		}
		key := AggregateKey{
			Measure: n.Measure, Aggregation: n.Aggregation,
			IsPercentage:     n.Kind == tree.KindPercentageAggregate,
			DenominatorScope: n.DenominatorScope,
			ScopeDimensions:  n.ScopeDimensions,
			Format:           n.Format,
			Label:            label,
		}
		name := key.Name()
		if _, ok := seen[name]; !ok {
			seen[name] = key
			order = append(order, name)
		}
	}
	for _, branch := range tree.Branches(rowAxis, nil) {
		add(branch.Leaf)
	}
	for _, branch := range tree.Branches(colAxis, nil) {
		add(branch.Leaf)
	}
	if len(order) == 0 {
		return []AggregateKey{{Measure: "", Aggregation: "count"}}
	}
	out := make([]AggregateKey, len(order))
	for i, name := range order {
		out[i] = seen[name]
	}
	return out
}

// dimensionNames collects every Dimension name appearing in the subtree,
// deduplicated and sorted by name.
func dimensionNames(n *tree.Node) []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(*tree.Node)
	walk = func(n *tree.Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case tree.KindDimension:
			if !seen[n.Name] {
				seen[n.Name] = true
				out = append(out, n.Name)
			}
			walk(n.Child)
		case tree.KindTotal:
			walk(n.Child)
		case tree.KindSiblings:
			for _, c := range n.Children {
				walk(c)
			}
		}
	}
	walk(n)
	sort.Strings(out)
	return out
}

// buildNullFilter synthesizes `<d1> is not null and … and <dk> is not
// null` over the given dimensions (spec.md §4.3).
func buildNullFilter(dims []string) string {
	if len(dims) == 0 {
		return ""
	}
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = d + " is not null"
	}
	return strings.Join(parts, " and ")
}

func andWhere(existing, addition string) string {
	if existing == "" {
		return addition
	}
	if addition == "" {
		return existing
	}
	return fmt.Sprintf("(%s) and (%s)", existing, addition)
}
