package hql

import (
	"fmt"
	"strings"

	"github.com/jasonphillips/tplm/internal/queryplan"
)

const indentUnit = "  "

// flatQuerySafetyLimit avoids the HQL's implicit 10-row cap on a query
// with no explicit limit: of spec.md §4.6 template 1 ("a large safety
// limit: avoids HQL's implicit 10-row cap").
const flatQuerySafetyLimit = 1000000

func indent(n int) string {
	return strings.Repeat(indentUnit, n)
}

// generateStandard emits template 4 of spec.md §4.6: row dims in the
// outer group_by, one nest per column variant (primary plus any merged
// AdditionalColVariants), and a bare aggregate block in place of a nest
// for any variant that carries no column dimensions (a merged ALL/Total
// branch becomes an "outer aggregate" rather than its own nest).
func (g *Generator) generateStandard(q *queryplan.TaggedQuerySpec) (*Query, error) {
	var lines []string
	lines = append(lines, fmt.Sprintf("query: %s -> {", g.Source))

	rowDims := dimNames(q.RowGroupings)
	if len(rowDims) > 0 {
		lines = append(lines, indent(1)+groupByLine(q.RowGroupings))
		if w := g.nullWhereLine(rowDims); w != "" {
			lines = append(lines, indent(1)+w)
		}
		for _, ob := range g.orderByLines(q.RowGroupings) {
			lines = append(lines, indent(1)+ob)
		}
	}

	lines = append(lines, g.writeColumnVariants(q, rowDims, 1)...)

	lines = append(lines, "}")
	return &Query{
		ID: q.ID, Malloy: strings.Join(lines, "\n"),
		RowGroupings: q.RowGroupings, ColGroupings: q.ColGroupings,
		Template: "standard",
	}, nil
}

// writeColumnVariants renders one nest per column variant (or a bare
// aggregate block when there is no column axis at all, or a given
// variant carries no dimensions) at the given indent level.
func (g *Generator) writeColumnVariants(q *queryplan.TaggedQuerySpec, rowDims []string, level int) []string {
	variants := []queryplan.ColVariant{{
		ColPath: q.ColPath, ColGroupings: q.ColGroupings,
		HasColTotal: q.HasColTotal, ColTotalLabel: q.ColTotalLabel,
	}}
	variants = append(variants, q.AdditionalColVariants...)

	var lines []string
	nameCounts := make(map[string]int)

	for _, v := range variants {
		colDims := dimNames(v.ColGroupings)
		if len(colDims) == 0 {
			// Bare Total/ALL branch: emit directly as an outer aggregate,
			// no nest (spec.md §4.6 "Standard" merged example).
			for _, a := range g.aggregateLines(q.Aggregates, rowDims, nil, nil) {
				lines = append(lines, indent(level)+a)
			}
			continue
		}

		key := colDims[0]
		suffix := nameCounts[key]
		nameCounts[key] = suffix + 1
		name := nestName(colDims, suffix)

		lines = append(lines, indent(level)+fmt.Sprintf("nest: %s is {", name))
		lines = append(lines, indent(level+1)+groupByLine(v.ColGroupings))
		if w := g.nullWhereLine(colDims); w != "" {
			lines = append(lines, indent(level+1)+w)
		}
		for _, ob := range g.orderByLines(v.ColGroupings) {
			lines = append(lines, indent(level+1)+ob)
		}
		for _, a := range g.aggregateLines(q.Aggregates, rowDims, colDims, nil) {
			lines = append(lines, indent(level+1)+a)
		}
		lines = append(lines, indent(level)+"}")
	}

	return lines
}

// generateColRestructured emits template 2 of spec.md §4.6: the column
// axis normally carries the limit priority, so the limited column
// dimension (and everything after it) gets its own nest carrying the
// limit/order, and the row axis moves inside as the innermost nest (axes
// inverted). spec.md §4.6 "ACROSS / cross-scope ordering" can also route
// here with the limit actually living on the row axis, when its orderBy
// reaches across into a column dimension (spec.md:233's
// state[-5@(births.sum ACROSS name)] COLS name): in that case the row
// axis takes the split/limit role (row dims before the limit in the
// outer group_by, then the limited row nest carrying the limit), and the
// column axis nests inside that nest as `by_<col dims>`. The column axis
// is not placed outside the limited nest.
func (g *Generator) generateColRestructured(q *queryplan.TaggedQuerySpec) (*Query, error) {
	limited, other, otherNest, limitedIsRow := q.ColGroupings, q.RowGroupings, "by_row", false
	if !anyLimit(limited) {
		limited, other, limitedIsRow = q.RowGroupings, q.ColGroupings, true
		otherNest = nestName(dimNames(other), 0)
	}

	idx := firstLimitIndex(limited)
	before := limited[:idx]
	rest := limited[idx:]

	var lines []string
	lines = append(lines, fmt.Sprintf("query: %s -> {", g.Source))

	if len(before) > 0 {
		lines = append(lines, indent(1)+groupByLine(before))
		if w := g.nullWhereLine(dimNames(before)); w != "" {
			lines = append(lines, indent(1)+w)
		}
	}

	restDims := dimNames(rest)
	nestLabel := nestName(restDims, 0)
	lines = append(lines, indent(1)+fmt.Sprintf("nest: %s is {", nestLabel))
	lines = append(lines, indent(2)+groupByLine(rest))
	if l := limitLine(rest); l != "" {
		lines = append(lines, indent(2)+l)
	}
	for _, ob := range g.orderByLines(rest) {
		lines = append(lines, indent(2)+ob)
	}
	if w := g.nullWhereLine(restDims); w != "" {
		lines = append(lines, indent(2)+w)
	}

	otherDims := dimNames(other)
	lines = append(lines, indent(2)+fmt.Sprintf("nest: %s is {", otherNest))
	lines = append(lines, indent(3)+groupByLine(other))
	if w := g.nullWhereLine(otherDims); w != "" {
		lines = append(lines, indent(3)+w)
	}
	for _, ob := range g.orderByLines(other) {
		lines = append(lines, indent(3)+ob)
	}

	limitedDims := append(dimNames(before), restDims...)
	rowDims, colDims := otherDims, limitedDims
	if limitedIsRow {
		rowDims, colDims = limitedDims, otherDims
	}
	for _, a := range g.aggregateLines(q.Aggregates, rowDims, colDims, nil) {
		lines = append(lines, indent(3)+a)
	}
	lines = append(lines, indent(2)+"}")
	lines = append(lines, indent(1)+"}")
	lines = append(lines, "}")

	return &Query{
		ID: q.ID, Malloy: strings.Join(lines, "\n"),
		RowGroupings: q.RowGroupings, ColGroupings: q.ColGroupings,
		AxesInverted: true, Template: "colRestructured",
	}, nil
}

// generateRowRestructured emits template 3 of spec.md §4.6: the row axis
// normally carries the limit priority. The row dims before the limit stay
// in the outer group_by; the limited dim and everything after it move
// into one nest carrying the limit/order, with the column axis nested as
// usual inside that. spec.md §4.6 "ACROSS / cross-scope ordering" can
// also route here with the limit actually living on the column axis, when
// its orderBy reaches across into a row dimension: the column axis then
// takes the split/limit role (column dims before the limit in the outer
// group_by, then the limited column nest carrying the limit), and the
// row axis nests inside that nest as `by_<row dims>`. The row axis is
// not placed outside the limited nest.
func (g *Generator) generateRowRestructured(q *queryplan.TaggedQuerySpec) (*Query, error) {
	limited, limitedIsCol := q.RowGroupings, false
	if !anyLimit(limited) {
		limited, limitedIsCol = q.ColGroupings, true
	}

	idx := firstLimitIndex(limited)
	before := limited[:idx]
	rest := limited[idx:]

	var lines []string
	lines = append(lines, fmt.Sprintf("query: %s -> {", g.Source))

	if len(before) > 0 {
		lines = append(lines, indent(1)+groupByLine(before))
		if w := g.nullWhereLine(dimNames(before)); w != "" {
			lines = append(lines, indent(1)+w)
		}
	}

	restDims := dimNames(rest)
	nestLabel := nestName(restDims, 0)
	lines = append(lines, indent(1)+fmt.Sprintf("nest: %s is {", nestLabel))
	lines = append(lines, indent(2)+groupByLine(rest))
	if l := limitLine(rest); l != "" {
		lines = append(lines, indent(2)+l)
	}
	for _, ob := range g.orderByLines(rest) {
		lines = append(lines, indent(2)+ob)
	}
	if w := g.nullWhereLine(restDims); w != "" {
		lines = append(lines, indent(2)+w)
	}

	if !limitedIsCol {
		allRowDims := append(append([]string(nil), dimNames(before)...), restDims...)
		lines = append(lines, g.writeColumnVariants(q, allRowDims, 2)...)
	} else {
		rowDims := dimNames(q.RowGroupings)
		rowNest := nestName(rowDims, 0)
		lines = append(lines, indent(2)+fmt.Sprintf("nest: %s is {", rowNest))
		lines = append(lines, indent(3)+groupByLine(q.RowGroupings))
		if w := g.nullWhereLine(rowDims); w != "" {
			lines = append(lines, indent(3)+w)
		}
		for _, ob := range g.orderByLines(q.RowGroupings) {
			lines = append(lines, indent(3)+ob)
		}
		colDims := append(dimNames(before), restDims...)
		for _, a := range g.aggregateLines(q.Aggregates, rowDims, colDims, nil) {
			lines = append(lines, indent(3)+a)
		}
		lines = append(lines, indent(2)+"}")
	}

	lines = append(lines, indent(1)+"}")
	lines = append(lines, "}")

	return &Query{
		ID: q.ID, Malloy: strings.Join(lines, "\n"),
		RowGroupings: q.RowGroupings, ColGroupings: q.ColGroupings,
		Template: "rowRestructured",
	}, nil
}

// generateFlat emits template 1 of spec.md §4.6: a percentage aggregate
// needs cells outside the current nest's scope, so row and column
// dimensions are group_by'd together at a single level with no nesting
// at all.
func (g *Generator) generateFlat(q *queryplan.TaggedQuerySpec) (*Query, error) {
	rowDims := dimNames(q.RowGroupings)
	colDims := dimNames(q.ColGroupings)
	allDims := append(append([]string(nil), rowDims...), colDims...)

	var lines []string
	lines = append(lines, fmt.Sprintf("query: %s -> {", g.Source))
	if len(allDims) > 0 {
		lines = append(lines, indent(1)+"group_by: "+strings.Join(allDims, ", "))
		if w := g.nullWhereLine(allDims); w != "" {
			lines = append(lines, indent(1)+w)
		}
	}
	allGroupings := append(append([]queryplan.GroupingInfo(nil), q.RowGroupings...), q.ColGroupings...)
	for _, ob := range g.orderByLines(allGroupings) {
		lines = append(lines, indent(1)+ob)
	}
	for _, a := range g.aggregateLines(q.Aggregates, rowDims, colDims, allGroupings) {
		lines = append(lines, indent(1)+a)
	}
	lines = append(lines, indent(1)+fmt.Sprintf("limit: %d", flatQuerySafetyLimit))
	lines = append(lines, "}")

	return &Query{
		ID: q.ID, Malloy: strings.Join(lines, "\n"),
		RowGroupings: q.RowGroupings, ColGroupings: q.ColGroupings,
		IsFlatQuery: true, Template: "flat",
	}, nil
}
