// Package hql implements spec.md §4.6 (C6): emitting HQL query text for
// each TaggedQuerySpec, choosing among four templates (standard,
// column-restructured, row-restructured, flat) and injecting per-nest
// NULL filters and definition-order sorting aggregates. Grounded on the
// teacher's per-dialect translate functions (engine/translator/mysql.go,
// postgres.go): one entry point that assembles query text field-by-field
// from a shared model, dialect only changing small leaf details.
package hql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/jasonphillips/tplm/ast"
	"github.com/jasonphillips/tplm/internal/dialect"
	"github.com/jasonphillips/tplm/internal/dimension"
	"github.com/jasonphillips/tplm/internal/ident"
	"github.com/jasonphillips/tplm/internal/percentile"
	"github.com/jasonphillips/tplm/internal/queryplan"
	"github.com/jasonphillips/tplm/internal/tablespec"
	"github.com/jasonphillips/tplm/internal/tree"
)

// Query is one emitted HQL query (spec.md §6 "Output to the executor").
type Query struct {
	ID           string
	Malloy       string
	RowGroupings []queryplan.GroupingInfo
	ColGroupings []queryplan.GroupingInfo
	AxesInverted bool
	IsFlatQuery  bool

	// Template names which of the four shapes of spec.md §4.6 produced
	// this query, so C7 knows how the result rowset nests (one of
	// "flat", "standard", "rowRestructured", "colRestructured").
	Template string
}

// Generator holds the per-compilation context threaded implicitly
// through recursive generation (spec.md §5 "two scoped contexts"):
// the ordering provider and the includeNulls flag. A Generator is
// built once per compilation and discarded at the end of it — it must
// never be reused across compilations.
type Generator struct {
	Dialect      dialect.Dialect
	Source       string
	IncludeNulls bool
	FirstAxis    ast.FirstAxis
	Ordering     *dimension.OrderingProvider
	Percentile   *percentile.Plan
}

// Generate emits the HQL Query for one TaggedQuerySpec (spec.md §4.6).
func (g *Generator) Generate(q *queryplan.TaggedQuerySpec) (*Query, error) {
	template := g.chooseTemplate(q)
	switch template {
	case templateFlat:
		return g.generateFlat(q)
	case templateColRestructured:
		return g.generateColRestructured(q)
	case templateRowRestructured:
		return g.generateRowRestructured(q)
	default:
		return g.generateStandard(q)
	}
}

type templateKind int

const (
	templateStandard templateKind = iota
	templateColRestructured
	templateRowRestructured
	templateFlat
)

// chooseTemplate implements the selection rules of spec.md §4.6.
func (g *Generator) chooseTemplate(q *queryplan.TaggedQuerySpec) templateKind {
	if g.needsFlat(q) {
		return templateFlat
	}

	colHasLimit := anyLimit(q.ColGroupings)
	rowHasLimit := anyLimit(q.RowGroupings)

	switch {
	case colHasLimit && rowHasLimit:
		// Both axes carry a limit: the firstAxis wins (spec.md §4.6
		// template priority).
		if g.FirstAxis == ast.FirstAxisCol {
			return templateColRestructured
		}
		return templateRowRestructured
	case rowHasLimit:
		// spec.md §4.6 "ACROSS / cross-scope ordering": when the row
		// limit's orderBy reaches across into a column dimension,
		// all(agg, outerDim) can only resolve with that dimension visible
		// as a peer grouping, so the restructure direction inverts to
		// column-restructured (spec.md:233's state[-5@(births.sum ACROSS
		// name)] COLS name worked example).
		if limitCrossesAxis(q.RowGroupings, dimNameSet(q.ColGroupings)) {
			return templateColRestructured
		}
		return templateRowRestructured
	case colHasLimit:
		if limitCrossesAxis(q.ColGroupings, dimNameSet(q.RowGroupings)) {
			return templateRowRestructured
		}
		return templateColRestructured
	default:
		return templateStandard
	}
}

// limitCrossesAxis reports whether any limit within groupings orders by
// an aggregate whose ACROSS dimensions reach into the other axis (spec.md
// §4.6 "ACROSS / cross-scope ordering").
func limitCrossesAxis(groupings []queryplan.GroupingInfo, otherAxisDims map[string]bool) bool {
	for _, gi := range groupings {
		if gi.Limit == nil {
			continue
		}
		for _, d := range gi.AcrossDimensions {
			if otherAxisDims[d] {
				return true
			}
		}
	}
	return false
}

func dimNameSet(groupings []queryplan.GroupingInfo) map[string]bool {
	out := make(map[string]bool, len(groupings))
	for _, g := range groupings {
		out[g.Dimension] = true
	}
	return out
}

// needsFlat reports whether any percentage aggregate's scope must reach
// outside the current nest's scope (spec.md §4.6 template 1): `all` with
// a non-empty col axis; `rows`/`cols` with a non-empty col axis; an
// explicit scope list with a non-empty col axis.
func (g *Generator) needsFlat(q *queryplan.TaggedQuerySpec) bool {
	if len(q.ColGroupings) == 0 && len(q.AdditionalColVariants) == 0 {
		return false
	}
	for _, a := range q.Aggregates {
		if a.IsPercentage {
			return true
		}
	}
	return false
}

func anyLimit(groupings []queryplan.GroupingInfo) bool {
	for _, g := range groupings {
		if g.Limit != nil {
			return true
		}
	}
	return false
}

func firstLimitIndex(groupings []queryplan.GroupingInfo) int {
	for i, g := range groupings {
		if g.Limit != nil {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------
// Aggregate block + ordering-aggregate injection
// ---------------------------------------------------------------------

// aggregateLines renders the `aggregate:` block for the TableSpec's
// global aggregate list, plus any definition-order companion aggregates
// needed by the groupings visible at this level (spec.md §4.6
// "Definition-order sorting").
func (g *Generator) aggregateLines(aggregates []tablespec.AggregateKey, rowDims, colDims []string, orderingExtras []queryplan.GroupingInfo) []string {
	var lines []string
	for _, a := range aggregates {
		expr := g.aggregateExprFor(a, rowDims, colDims)
		lines = append(lines, fmt.Sprintf("%s is %s", a.Name(), expr))
	}
	for _, gi := range orderingExtras {
		if g.Ordering == nil || !g.Ordering.HasDefinitionOrder(gi.Dimension) {
			continue
		}
		companion := g.Ordering.GetOrderDimensionName(gi.Dimension)
		lines = append(lines, fmt.Sprintf("%s_min is %s.min()", companion, companion))
	}
	return lines
}

// resolveAggregateMeasure applies the ALL outer-aggregate fixup of
// spec.md §4.4: when this aggregate's measure is a percentile rewrite's
// full-level derived column, and this occurrence is emitted at a
// reduced level (fewer dims visible than the full level), swap in the
// derived column matching the reduced level instead.
func (g *Generator) resolveAggregateMeasure(measure string, rowDims, colDims []string) string {
	if g.Percentile == nil || !g.Percentile.HasMultipleLevels() {
		return measure
	}
	origMeasure, method, ok := g.Percentile.OriginalFor(measure)
	if !ok {
		return measure
	}
	combined := append(append([]string(nil), rowDims...), colDims...)
	outer := g.Percentile.OuterLevelColumn(origMeasure, method, combined)
	if outer == "" {
		return measure
	}
	return outer
}

func (g *Generator) aggregateExprFor(a tablespec.AggregateKey, rowDims, colDims []string) string {
	if !a.IsPercentage {
		measure := g.resolveAggregateMeasure(a.Measure, rowDims, colDims)
		return ident.AggregateExpr(measure, a.Aggregation)
	}
	scope := ident.PercentageScope(a.DenominatorScope)
	if scope == "" {
		scope = ident.ScopeAll
	}
	expr, err := ident.PercentageExpr(a.Measure, a.Aggregation, scope, rowDims, colDims, a.ScopeDimensions, nil)
	if err != nil {
		return ident.AggregateExpr(a.Measure, a.Aggregation)
	}
	return expr
}

// orderByLines renders `order_by:` for groupings with an explicit
// order/limit orderBy, plus the definition-order fallback for groupings
// that have neither but do have a companion dimension.
func (g *Generator) orderByLines(groupings []queryplan.GroupingInfo) []string {
	var lines []string
	for _, gi := range groupings {
		if gi.Limit != nil && gi.Limit.OrderBy != nil {
			lines = append(lines, fmt.Sprintf("order_by: %s %s", orderByExprText(gi.Limit.OrderBy), gi.Limit.Direction))
			continue
		}
		if gi.Order != nil {
			if gi.Order.OrderBy != nil {
				lines = append(lines, fmt.Sprintf("order_by: %s %s", orderByExprText(gi.Order.OrderBy), gi.Order.Direction))
			} else {
				lines = append(lines, fmt.Sprintf("order_by: %s %s", gi.Dimension, gi.Order.Direction))
			}
			continue
		}
		if g.Ordering != nil && g.Ordering.HasDefinitionOrder(gi.Dimension) {
			companion := g.Ordering.GetOrderDimensionName(gi.Dimension)
			lines = append(lines, fmt.Sprintf("order_by: %s_min asc", companion))
		}
	}
	return lines
}

// orderByExprText renders a tree.OrderBy as HQL text: a bare field, an
// aggregate expression (optionally ACROSS some ungrouped dims), or a
// ratio of two such expressions.
func orderByExprText(ob *tree.OrderBy) string {
	if ob == nil {
		return ""
	}
	if ob.Ratio != nil {
		return fmt.Sprintf("%s / %s", aggregateRefText(ob.Ratio.Numerator), aggregateRefText(ob.Ratio.Denominator))
	}
	if ob.Aggregate != nil {
		return aggregateRefText(*ob.Aggregate)
	}
	return ob.Field
}

func aggregateRefText(ref tree.AggregateExprRef) string {
	if len(ref.UngroupedDimensions) == 0 {
		return fmt.Sprintf("%s.%s()", ref.Field, ref.Function)
	}
	sorted := sortedCopy(ref.UngroupedDimensions)
	return fmt.Sprintf("%s.%s() {across: %s}", ref.Field, ref.Function, strings.Join(sorted, ", "))
}

// limitLine renders `limit:` for the first grouping carrying one, if any.
func limitLine(groupings []queryplan.GroupingInfo) string {
	for _, gi := range groupings {
		if gi.Limit != nil {
			return fmt.Sprintf("limit: %d", gi.Limit.Count)
		}
	}
	return ""
}

// nullWhereLine renders `where: <d> is not null and …` over dims, or ""
// when includeNulls is set or dims is empty (spec.md §4.6 "NULL-filter
// placement": each nest filters only its own dimensions).
func (g *Generator) nullWhereLine(dims []string) string {
	if g.IncludeNulls || len(dims) == 0 {
		return ""
	}
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprintf("%s is not null", d)
	}
	return "where: " + strings.Join(parts, " and ")
}

func groupByLine(groupings []queryplan.GroupingInfo) string {
	names := make([]string, len(groupings))
	for i, g := range groupings {
		names[i] = g.Dimension
	}
	return "group_by: " + strings.Join(names, ", ")
}

func dimNames(groupings []queryplan.GroupingInfo) []string {
	out := make([]string, len(groupings))
	for i, g := range groupings {
		out[i] = g.Dimension
	}
	return out
}

// totalLabel synthesizes a display label for an auto-generated ALL/Total
// header when none was given, pluralizing the dimension's label the same
// way the teacher pluralizes a bare table identifier
// (engine/translator/mongodb.go, inflection.Plural).
func totalLabel(explicit *string, dimensionLabel string) string {
	if explicit != nil && *explicit != "" {
		return *explicit
	}
	if dimensionLabel == "" {
		return "Total"
	}
	return "All " + inflection.Plural(dimensionLabel)
}

// nestName builds the `by_<dim>[_<n>]` nest name, disambiguating
// duplicate leading dimensions across merged column variants (spec.md
// §4.6 template 4 "Standard").
func nestName(dims []string, suffix int) string {
	base := "by_" + strings.Join(dims, "_")
	if suffix == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, suffix)
}

// sortedCopy returns a sorted copy of ss, leaving the input untouched.
func sortedCopy(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}
