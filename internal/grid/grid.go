package grid

import (
	"fmt"

	"github.com/jasonphillips/tplm/internal/hql"
	"github.com/jasonphillips/tplm/internal/ident"
	"github.com/jasonphillips/tplm/internal/queryplan"
	"github.com/jasonphillips/tplm/internal/tablespec"
	"github.com/jasonphillips/tplm/internal/tree"
)

// CellValue is one rendered grid cell (spec.md §3.5).
type CellValue struct {
	Raw             *float64
	Formatted       string
	Aggregate       string
	PathDescription string
}

// GridSpec is the renderer's sole input (spec.md §3.5): the renderer has
// no dependency on the TableSpec or the generated HQL.
type GridSpec struct {
	RowHeaders []*HeaderNode
	ColHeaders []*HeaderNode
	Aggregates []tablespec.AggregateKey
	HasRowTotal bool
	HasColTotal bool
	Options     tablespec.Options

	UseCornerRowHeaders bool
	CornerRowLabels     []CornerRowLabel
	LeftModeRowLabels   []string

	index   *CellIndex
	formats map[string]ident.FormatPattern
}

// GetCell resolves one cell by its full row/col dimension bindings
// (spec.md §3.5 `getCell(rowValues, colValues, aggregate?)`). aggregate
// defaults to the table's sole aggregate when empty and exactly one is
// declared.
func (g *GridSpec) GetCell(rowValues, colValues map[string]string, aggregate string) (CellValue, error) {
	if aggregate == "" {
		if len(g.Aggregates) != 1 {
			return CellValue{}, fmt.Errorf("grid: aggregate must be specified when the table declares more than one")
		}
		aggregate = g.Aggregates[0].Name()
	}

	dims := make(map[string]string, len(rowValues)+len(colValues))
	for k, v := range rowValues {
		dims[k] = v
	}
	for k, v := range colValues {
		dims[k] = v
	}

	raw, ok := g.index.Get(dims, aggregate)
	if !ok {
		return CellValue{Aggregate: aggregate, Formatted: "", PathDescription: cellKey(dims)}, nil
	}

	formatted := ""
	if raw != nil {
		if fp, ok := g.formats[aggregate]; ok {
			formatted = fp.Format(*raw)
		} else {
			formatted = fmt.Sprintf("%v", *raw)
		}
	}
	return CellValue{Raw: raw, Formatted: formatted, Aggregate: aggregate, PathDescription: cellKey(dims)}, nil
}

// Builder assembles a GridSpec from a compiled query plan and the
// executor's per-query rowsets (spec.md §4.7).
type Builder struct {
	Spec     *tablespec.TableSpec
	Plan     *queryplan.QueryPlan
	Ordering orderingLookup
	Formats  map[string]ident.FormatPattern
}

// Build walks every query's rowset into a CellIndex and then builds the
// row/col header hierarchies and row-header-mode metadata.
func (b *Builder) Build(rowsByQuery map[string][]Row, queries map[string]*hql.Query) (*GridSpec, error) {
	idx := NewCellIndex()
	for _, q := range b.Plan.Queries {
		query, ok := queries[q.ID]
		if !ok {
			return nil, fmt.Errorf("grid: no generated query for id %s", q.ID)
		}
		if err := IndexQuery(idx, q, query, rowsByQuery[q.ID]); err != nil {
			return nil, err
		}
	}

	hasRowTotal, hasColTotal := anyTotals(b.Plan)

	rowHeaders := BuildHeaders(b.Spec.RowAxis, idx, b.Ordering)
	colHeaders := BuildHeaders(b.Spec.ColAxis, idx, b.Ordering)
	if len(rowHeaders) == 0 {
		rowHeaders = synthesizeAggregateRowHeaders(b.Spec.Aggregates)
	}

	gs := &GridSpec{
		RowHeaders: rowHeaders, ColHeaders: colHeaders,
		Aggregates: b.Spec.Aggregates, HasRowTotal: hasRowTotal, HasColTotal: hasColTotal,
		Options: b.Spec.Options, index: idx, formats: b.Formats,
	}
	gs.UseCornerRowHeaders = UseCornerRowHeaders(b.Spec.Options, b.Spec.RowAxis)
	if gs.UseCornerRowHeaders {
		gs.CornerRowLabels = CornerRowLabels(b.Spec.RowAxis)
	} else {
		gs.LeftModeRowLabels = LeftModeRowLabels(b.Spec.RowAxis)
	}
	return gs, nil
}

func anyTotals(plan *queryplan.QueryPlan) (rowTotal, colTotal bool) {
	for _, q := range plan.Queries {
		if q.IsRowTotal {
			rowTotal = true
		}
		if q.HasColTotal {
			colTotal = true
		}
		for _, v := range q.AdditionalColVariants {
			if v.HasColTotal {
				colTotal = true
			}
		}
	}
	return rowTotal, colTotal
}

// synthesizeAggregateRowHeaders implements spec.md §4.7 "Aggregate-only
// row axis": when the row axis has no dimensions, one row header is
// synthesized per aggregate (or a single row when there is exactly one),
// using the label precedence of spec.md §9 "Cell labels in aggregate-only
// row axes": per-aggregation label > binding label > synthesized
// "<measure> <function>" — the first two are already collapsed into
// AggregateKey.Label by tree-build time (tablespec.buildAggregationItem).
func synthesizeAggregateRowHeaders(aggregates []tablespec.AggregateKey) []*HeaderNode {
	out := make([]*HeaderNode, len(aggregates))
	for i, a := range aggregates {
		out[i] = &HeaderNode{
			Type: "dimension", Value: aggregateHeaderLabel(a), Span: 1, Depth: 0,
			Path: tree.Path{{Kind: tree.SegAggregate, Name: a.Name()}},
		}
	}
	return out
}

// aggregateHeaderLabel resolves one synthesized header's display value.
func aggregateHeaderLabel(a tablespec.AggregateKey) string {
	if a.Label != "" {
		return a.Label
	}
	if a.Measure == "" {
		return a.Aggregation
	}
	return a.Measure + " " + a.Aggregation
}
