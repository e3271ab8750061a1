package grid

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jasonphillips/tplm/internal/hql"
	"github.com/jasonphillips/tplm/internal/queryplan"
)

// CellIndex is the axis-independent cell lookup of spec.md §4.7: a
// cellKey joining every bound dimension `(name=value)` pair, regardless
// of which axis the dimension lives on, mapped to its aggregate values.
// It also retains, per distinct cellKey, the dimension bindings and the
// order those bindings were first observed in the rowset — the header
// builder needs both to discover a dimension's observed values under a
// parent context while preserving rowset order (spec.md §4.7 "Header
// hierarchies").
type CellIndex struct {
	cells map[string]map[string]*float64
	dims  map[string]map[string]string
	order []string
}

// NewCellIndex builds an empty index.
func NewCellIndex() *CellIndex {
	return &CellIndex{
		cells: make(map[string]map[string]*float64),
		dims:  make(map[string]map[string]string),
	}
}

// AllBindings returns every distinct dimension-binding map observed, in
// first-seen order.
func (idx *CellIndex) AllBindings() []map[string]string {
	out := make([]map[string]string, len(idx.order))
	for i, k := range idx.order {
		out[i] = idx.dims[k]
	}
	return out
}

// cellKey sorts dims by name and joins `name=value` pairs — which axis a
// dimension lives on never affects the key (spec.md §4.7).
func cellKey(dims map[string]string) string {
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + "=" + dims[n]
	}
	return strings.Join(parts, "|")
}

func (idx *CellIndex) set(dims map[string]string, aggregate string, raw *float64) {
	key := cellKey(dims)
	m, ok := idx.cells[key]
	if !ok {
		m = make(map[string]*float64)
		idx.cells[key] = m
		idx.dims[key] = dims
		idx.order = append(idx.order, key)
	}
	m[aggregate] = raw
}

// Get resolves an aggregate value by dimension bindings regardless of
// axis, returning ok=false when the cell was never populated.
func (idx *CellIndex) Get(dims map[string]string, aggregate string) (*float64, bool) {
	m, ok := idx.cells[cellKey(dims)]
	if !ok {
		return nil, false
	}
	v, ok := m[aggregate]
	return v, ok
}

// IndexQuery walks one query's result rowset into idx (spec.md §4.7
// "Cell index"), dispatching on the template that generated the query.
func IndexQuery(idx *CellIndex, q *queryplan.TaggedQuerySpec, query *hql.Query, rows []Row) error {
	switch query.Template {
	case "flat":
		indexFlat(idx, q, rows)
	case "standard":
		indexStandard(idx, q, rows, nil)
	case "rowRestructured":
		indexRowRestructured(idx, q, rows)
	case "colRestructured":
		indexColRestructured(idx, q, rows)
	default:
		return fmt.Errorf("grid: unknown query template %q", query.Template)
	}
	return nil
}

func dimValues(row Row, groupings []queryplan.GroupingInfo, base map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(groupings))
	for k, v := range base {
		out[k] = v
	}
	for _, g := range groupings {
		out[g.Dimension] = Normalize(row[g.Dimension])
	}
	return out
}

func writeAggregates(idx *CellIndex, q *queryplan.TaggedQuerySpec, row Row, dims map[string]string) {
	for _, a := range q.Aggregates {
		idx.set(dims, a.Name(), NormalizeRaw(row[a.Name()]))
	}
}

// indexFlat handles template 1: every dimension value sits at the row's
// top level alongside the aggregates (spec.md §4.7).
func indexFlat(idx *CellIndex, q *queryplan.TaggedQuerySpec, rows []Row) {
	all := append(append([]queryplan.GroupingInfo(nil), q.RowGroupings...), q.ColGroupings...)
	for _, row := range rows {
		dims := dimValues(row, all, nil)
		writeAggregates(idx, q, row, dims)
	}
}

// indexStandard handles template 4: row dims are bound on the outer row
// object (already folded into base by a caller when nested inside a
// restructured template); each column variant's nest array re-processes
// the same rows under its own by_* key, and a variant with no column
// dims reads its aggregates directly off the outer row (spec.md §4.7
// "For merged queries, re-process the same rowset once per column
// variant").
func indexStandard(idx *CellIndex, q *queryplan.TaggedQuerySpec, rows []Row, base map[string]string) {
	variants := []queryplan.ColVariant{{
		ColPath: q.ColPath, ColGroupings: q.ColGroupings,
		HasColTotal: q.HasColTotal, ColTotalLabel: q.ColTotalLabel,
	}}
	variants = append(variants, q.AdditionalColVariants...)

	nameCounts := make(map[string]int)

	for _, row := range rows {
		rowDims := dimValues(row, q.RowGroupings, base)

		for _, v := range variants {
			colDims := dimNamesOf(v.ColGroupings)
			if len(colDims) == 0 {
				writeAggregates(idx, q, row, rowDims)
				continue
			}
			key := colDims[0]
			suffix := nameCounts[key]
			nameCounts[key] = suffix + 1
			nestKey := nestName(colDims, suffix)

			nested := asRows(row[nestKey])
			for _, nrow := range nested {
				dims := dimValues(nrow, v.ColGroupings, rowDims)
				writeAggregates(idx, q, nrow, dims)
			}
		}
	}
}

// indexRowRestructured handles template 3: row dims before the limited
// one sit on the outer row; the rest nest carries the limited row dims
// plus everything after; column handling below it is identical to
// template 4 (spec.md §4.6 template 3 / §4.7). spec.md §4.6 "ACROSS /
// cross-scope ordering" can also route a query here when the limit
// actually lives on the column axis and crosses into a row dimension
// (indexRowRestructuredInverted mirrors generateRowRestructured's
// matching branch in that case).
func indexRowRestructured(idx *CellIndex, q *queryplan.TaggedQuerySpec, rows []Row) {
	if !anyLimitOf(q.RowGroupings) && anyLimitOf(q.ColGroupings) {
		indexRowRestructuredInverted(idx, q, rows)
		return
	}

	limitIdx := firstLimitIndexOf(q.RowGroupings)
	before := q.RowGroupings[:limitIdx]
	rest := q.RowGroupings[limitIdx:]
	restKey := nestName(dimNamesOf(rest), 0)

	for _, row := range rows {
		base := dimValues(row, before, nil)
		nested := asRows(row[restKey])
		restQuery := &queryplan.TaggedQuerySpec{
			RowGroupings: rest, ColGroupings: q.ColGroupings,
			HasColTotal: q.HasColTotal, ColTotalLabel: q.ColTotalLabel,
			AdditionalColVariants: q.AdditionalColVariants, Aggregates: q.Aggregates,
		}
		indexStandard(idx, restQuery, nested, base)
	}
}

// indexRowRestructuredInverted handles the crossed-limit branch of
// template 3: the column axis (not the row axis) carries the limit, so
// the column dims before it sit on the outer row, the rest nest carries
// the limited column dims, and the row axis nests wholly inside that as
// the innermost level (spec.md:156).
func indexRowRestructuredInverted(idx *CellIndex, q *queryplan.TaggedQuerySpec, rows []Row) {
	limitIdx := firstLimitIndexOf(q.ColGroupings)
	before := q.ColGroupings[:limitIdx]
	rest := q.ColGroupings[limitIdx:]
	restKey := nestName(dimNamesOf(rest), 0)
	rowKey := nestName(dimNamesOf(q.RowGroupings), 0)

	for _, row := range rows {
		colBase := dimValues(row, before, nil)
		restRows := asRows(row[restKey])
		for _, restRow := range restRows {
			colDims := dimValues(restRow, rest, colBase)
			rowRows := asRows(restRow[rowKey])
			for _, rrow := range rowRows {
				dims := dimValues(rrow, q.RowGroupings, colDims)
				writeAggregates(idx, q, rrow, dims)
			}
		}
	}
}

// indexColRestructured handles template 2: col dims before the limited
// one sit on the outer row; the rest nest carries the limited col dims
// plus everything after; the innermost `by_row` nest carries every row
// dimension (spec.md §4.6 template 2 / §4.7 "swap outer<->nested with
// col<->row when axes are inverted"). spec.md §4.6 "ACROSS / cross-scope
// ordering" can also route a query here when the limit actually lives on
// the row axis and crosses into a column dimension: the row axis then
// takes the split/limit role (row dims before the limit on the outer
// row, the limited row nest next) and the column dims are read from the
// `by_<col dims>` nest inside it (spec.md:233's
// state[-5@(births.sum ACROSS name)] COLS name), mirroring
// generateColRestructured's matching branch. The column axis is not read
// from outside the limited nest.
func indexColRestructured(idx *CellIndex, q *queryplan.TaggedQuerySpec, rows []Row) {
	limited, other, otherKey := q.ColGroupings, q.RowGroupings, "by_row"
	if !anyLimitOf(limited) {
		limited, other = q.RowGroupings, q.ColGroupings
		otherKey = nestName(dimNamesOf(other), 0)
	}

	limitIdx := firstLimitIndexOf(limited)
	before := limited[:limitIdx]
	rest := limited[limitIdx:]
	restKey := nestName(dimNamesOf(rest), 0)

	for _, row := range rows {
		base := dimValues(row, before, nil)
		restRows := asRows(row[restKey])
		for _, restRow := range restRows {
			limitedDims := dimValues(restRow, rest, base)
			otherRows := asRows(restRow[otherKey])
			for _, orow := range otherRows {
				dims := dimValues(orow, other, limitedDims)
				writeAggregates(idx, q, orow, dims)
			}
		}
	}
}

func anyLimitOf(groupings []queryplan.GroupingInfo) bool {
	for _, g := range groupings {
		if g.Limit != nil {
			return true
		}
	}
	return false
}

func dimNamesOf(groupings []queryplan.GroupingInfo) []string {
	out := make([]string, len(groupings))
	for i, g := range groupings {
		out[i] = g.Dimension
	}
	return out
}

func firstLimitIndexOf(groupings []queryplan.GroupingInfo) int {
	for i, g := range groupings {
		if g.Limit != nil {
			return i
		}
	}
	return 0
}

// nestName mirrors internal/hql's nest-naming rule (`by_<dim>[_<n>]`) so
// the same deterministic name is derived on both the generation and
// indexing sides without either package depending on the other's
// unexported helpers.
func nestName(dims []string, suffix int) string {
	base := "by_" + strings.Join(dims, "_")
	if suffix == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, suffix)
}

// asRows coerces an executor's nested-array shape (`[]Row`, `[]interface{}`
// of maps, or a single map) into a []Row, tolerating the small shape
// differences between executor SDKs.
func asRows(v interface{}) []Row {
	switch t := v.(type) {
	case []Row:
		return t
	case []map[string]interface{}:
		out := make([]Row, len(t))
		for i, r := range t {
			out[i] = r
		}
		return out
	case []interface{}:
		out := make([]Row, 0, len(t))
		for _, e := range t {
			if r, ok := e.(Row); ok {
				out = append(out, r)
			}
		}
		return out
	default:
		return nil
	}
}
