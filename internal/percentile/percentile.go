// Package percentile implements spec.md §4.4 (C4): detecting percentile
// aggregations, picking partition-dimension levels, emitting the
// derived-source SQL that pre-computes them as window-function columns,
// and rewriting the affected tree leaves to reference those columns
// through a `.min` aggregation. Grounded on the teacher's
// engine/builders/*/builders.go, which assemble SQL text the same way:
// collect fragments, then fmt.Sprintf them into one statement.
package percentile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jasonphillips/tplm/internal/dialect"
	"github.com/jasonphillips/tplm/internal/tree"
)

// methods is the fixed set of percentile aggregations with no native HQL
// support (spec.md §4.4).
var methods = map[string]float64{
	"p25":    0.25,
	"p50":    0.50,
	"p75":    0.75,
	"p90":    0.90,
	"p95":    0.95,
	"p99":    0.99,
	"median": 0.50,
}

// methodLabels is the display label used when rewriting a bare binding
// (spec.md §4.4 "Rewrite rules": `"<measure> <METHOD_LABEL>"`).
var methodLabels = map[string]string{
	"p25":    "P25",
	"p50":    "P50",
	"p75":    "P75",
	"p90":    "P90",
	"p95":    "P95",
	"p99":    "P99",
	"median": "Median",
}

// IsPercentileMethod reports whether aggregation names a percentile.
func IsPercentileMethod(aggregation string) bool {
	_, ok := methods[strings.ToLower(aggregation)]
	return ok
}

// Plan is the result of the percentile rewrite: the derived-source SQL
// text and enough metadata for C6's outer-aggregate fixup (spec.md §4.4
// "Outer-aggregate fixup for ALL").
type Plan struct {
	DerivedSourceSQL string
	FullLevelDims    []string
	Levels           [][]string // all partition levels, full level first
	columnNames      map[string]map[string]string // level-suffix -> "measure_method" -> column name
	originals        map[string]pair              // full-level column name -> (measure, method)
}

// OriginalFor reverses a full-level derived column name back to the
// (measure, method) pair it was generated from, for C6's ALL
// outer-aggregate fixup (spec.md §4.4): a rewritten leaf only carries the
// full-level column name, so generation needs this to look up the
// matching column at whatever reduced level the leaf is actually emitted
// at.
func (p *Plan) OriginalFor(fullLevelColumn string) (measure, method string, ok bool) {
	if p == nil {
		return "", "", false
	}
	pr, ok := p.originals[fullLevelColumn]
	return pr.measure, pr.method, ok
}

// HasMultipleLevels reports whether the ALL fixup (spec.md §4.4) is
// needed: it only applies when at least two partition levels exist.
func (p *Plan) HasMultipleLevels() bool {
	return p != nil && len(p.Levels) >= 2
}

// ColumnFor returns the derived column name for (measure, method) at the
// given partition level (the dimension set, unsorted is fine).
func (p *Plan) ColumnFor(measure, method string, levelDims []string) string {
	suffix := levelSuffix(levelDims)
	perLevel, ok := p.columnNames[suffix]
	if !ok {
		return ""
	}
	return perLevel[measure+"_"+strings.ToLower(method)]
}

// FullLevelColumn returns the column name at the full (unreduced) level.
func (p *Plan) FullLevelColumn(measure, method string) string {
	return p.ColumnFor(measure, method, p.FullLevelDims)
}

// OuterLevelColumn returns the column name whose level matches
// outerDims exactly, for the ALL outer-aggregate fixup.
func (p *Plan) OuterLevelColumn(measure, method string, outerDims []string) string {
	return p.ColumnFor(measure, method, outerDims)
}

func levelSuffix(dims []string) string {
	if len(dims) == 0 {
		return ""
	}
	sorted := append([]string(nil), dims...)
	sort.Strings(sorted)
	return "__" + strings.Join(sorted, "_")
}

func columnName(measure, method string, dims []string) string {
	suffix := levelSuffix(dims)
	return fmt.Sprintf("__%s_%s%s", measure, strings.ToLower(method), suffix)
}

// pair is one (measure, method) combination found in the statement.
type pair struct {
	measure, method string
}

// Detect collects every percentile (measure, method) pair used across
// both axes.
func Detect(rowAxis, colAxis *tree.Node) []pair {
	seen := make(map[pair]bool)
	var out []pair
	collect := func(n *tree.Node) {
		if n.Kind == tree.KindAggregate && IsPercentileMethod(n.Aggregation) {
			p := pair{n.Measure, strings.ToLower(n.Aggregation)}
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	for _, b := range tree.Branches(rowAxis, nil) {
		collect(b.Leaf)
	}
	for _, b := range tree.Branches(colAxis, nil) {
		collect(b.Leaf)
	}
	return out
}

// dimensionSet returns the deduplicated set of Dimension names under n.
func dimensionSet(n *tree.Node) map[string]bool {
	out := make(map[string]bool)
	var walk func(*tree.Node)
	walk = func(n *tree.Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case tree.KindDimension:
			out[n.Name] = true
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
	return out
}

// collapseGroups finds every Siblings node that mixes a Total branch with
// at least one non-Total branch, and returns the dimension set that
// collapses when that group's ALL branch is taken (spec.md §4.4
// "partition levels"). The shared tail attached identically to every
// sibling (spec.md §4.3) is subtracted out by comparing against the
// Total branch's own subtree, which carries that same tail.
func collapseGroups(n *tree.Node) []map[string]bool {
	var out []map[string]bool
	var walk func(*tree.Node)
	walk = func(n *tree.Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case tree.KindSiblings:
			var totalDims map[string]bool
			var nonTotalDims []map[string]bool
			hasTotal := false
			for _, c := range n.Children {
				if c.Kind == tree.KindTotal {
					hasTotal = true
					totalDims = dimensionSet(c)
				} else {
					nonTotalDims = append(nonTotalDims, dimensionSet(c))
				}
			}
			if hasTotal {
				for _, d := range nonTotalDims {
					collapsed := make(map[string]bool)
					for dim := range d {
						if !totalDims[dim] {
							collapsed[dim] = true
						}
					}
					if len(collapsed) > 0 {
						out = append(out, collapsed)
					}
				}
			}
			for _, c := range n.Children {
				walk(c)
			}
		case tree.KindDimension:
			walk(n.Child)
		case tree.KindTotal:
			walk(n.Child)
		}
	}
	walk(n)
	return out
}

// Levels computes D (full) plus one reduced level per collapse group,
// plus the global ∅ level when D is empty or fully collapsed (spec.md
// §4.4 "Plan").
func Levels(rowAxis, colAxis *tree.Node) [][]string {
	full := dimensionSet(rowAxis)
	for d := range dimensionSet(colAxis) {
		full[d] = true
	}

	fullDims := sortedSet(full)
	levels := [][]string{fullDims}
	seen := map[string]bool{levelSuffix(fullDims): true}

	addLevel := func(dims []string) {
		key := levelSuffix(dims)
		if !seen[key] {
			seen[key] = true
			levels = append(levels, dims)
		}
	}

	var groups []map[string]bool
	groups = append(groups, collapseGroups(rowAxis)...)
	groups = append(groups, collapseGroups(colAxis)...)

	globalNeeded := len(fullDims) == 0
	for _, collapsed := range groups {
		reduced := make(map[string]bool)
		for d := range full {
			if !collapsed[d] {
				reduced[d] = true
			}
		}
		reducedDims := sortedSet(reduced)
		addLevel(reducedDims)
		if len(reducedDims) == 0 {
			globalNeeded = true
		}
	}
	if globalNeeded {
		addLevel(nil)
	}
	return levels
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DimSQLResolver resolves a dimension name to the SQL expression its
// PARTITION BY clause should use (the raw column, or a CASE equivalent
// for a bucketed user dimension, per spec.md §4.2/§4.4).
type DimSQLResolver func(dimension string) string

// Build assembles the derived-source SQL and the rewrite Plan for every
// percentile (measure, method) pair found on either axis, across every
// partition level (spec.md §4.4).
func Build(d dialect.Dialect, source, userWhere string, rowAxis, colAxis *tree.Node, resolve DimSQLResolver) *Plan {
	pairs := Detect(rowAxis, colAxis)
	if len(pairs) == 0 {
		return nil
	}

	levels := Levels(rowAxis, colAxis)
	fullDims := levels[0]

	plan := &Plan{
		FullLevelDims: fullDims, Levels: levels,
		columnNames: make(map[string]map[string]string),
		originals:   make(map[string]pair),
	}

	var cols []string
	for _, level := range levels {
		suffix := levelSuffix(level)
		plan.columnNames[suffix] = make(map[string]string)

		var partitionSQL string
		if len(level) > 0 {
			exprs := make([]string, len(level))
			for i, dim := range level {
				if resolve != nil {
					exprs[i] = resolve(dim)
				} else {
					exprs[i] = dim
				}
			}
			partitionSQL = strings.Join(exprs, ", ")
		}

		for _, p := range pairs {
			col := columnName(p.measure, p.method, level)
			plan.columnNames[suffix][p.measure+"_"+p.method] = col
			windowExpr := dialect.PercentileWindowExpr(d, p.measure, methods[p.method], partitionSQL)
			cols = append(cols, fmt.Sprintf("%s as %s", windowExpr, col))
			if suffix == levelSuffix(fullDims) {
				plan.originals[col] = p
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT *, %s FROM %s", strings.Join(cols, ", "), source)
	if userWhere != "" {
		fmt.Fprintf(&b, " WHERE %s", userWhere)
	}
	plan.DerivedSourceSQL = b.String()

	return plan
}

// Rewrite replaces every percentile Aggregate leaf under n with a
// `.min`-style reference to its full-level derived column, per spec.md
// §4.4 "Rewrite rules": a single binding gets the synthesized
// `"<measure> <METHOD_LABEL>"` label when it had none; a multi-aggregation
// Siblings binding keeps its non-percentile entries untouched.
func Rewrite(n *tree.Node, plan *Plan) {
	if n == nil || plan == nil {
		return
	}
	switch n.Kind {
	case tree.KindAggregate:
		if !IsPercentileMethod(n.Aggregation) {
			return
		}
		method := strings.ToLower(n.Aggregation)
		col := plan.FullLevelColumn(n.Measure, method)
		if col == "" {
			return
		}
		if n.Label == nil {
			label := fmt.Sprintf("%s %s", n.Measure, methodLabels[method])
			n.Label = &label
		}
		n.Measure = col
		n.Aggregation = "min"
	case tree.KindSiblings:
		for _, c := range n.Children {
			Rewrite(c, plan)
		}
	case tree.KindDimension, tree.KindTotal:
		Rewrite(n.Child, plan)
	}
}
