// Package queryplan implements spec.md §4.5 (C5): enumerating
// (row-branch x col-branch) combinations, deduplicating by structural
// signature, and merging queries that share a row structure into one
// with multiple column variants. Grounded on the teacher's
// engine/reverse/utils.go init()-time derived-table pattern: build the
// full structure once, then collapse it via a handful of SSOT maps.
package queryplan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jasonphillips/tplm/internal/errs"
	"github.com/jasonphillips/tplm/internal/tablespec"
	"github.com/jasonphillips/tplm/internal/tree"
)

// GroupingInfo is one Dimension's contribution to a query (spec.md §3.4).
type GroupingInfo struct {
	Dimension        string
	Label            *string
	SuppressLabel    bool
	Limit            *tree.Limit
	Order            *tree.Order
	AcrossDimensions []string
}

// ColVariant is one column arrangement of a merged query (spec.md §3.4
// "additionalColVariants").
type ColVariant struct {
	ColPath       tree.Path
	ColGroupings  []GroupingInfo
	HasColTotal   bool
	ColTotalLabel *string
}

// TaggedQuerySpec is one entry of a QueryPlan (spec.md §3.4).
type TaggedQuerySpec struct {
	ID                    string
	RowPath               tree.Path
	ColPath               tree.Path
	RowGroupings          []GroupingInfo
	ColGroupings          []GroupingInfo
	Aggregates            []tablespec.AggregateKey
	IsRowTotal            bool
	HasColTotal           bool
	RowTotalLabel         *string
	ColTotalLabel         *string
	RowLeaf               *tree.Node
	ColLeaf               *tree.Node
	Signature             string
	AdditionalColVariants []ColVariant
}

// QueryPlan is the deduplicated, merged IR of spec.md §3.4.
type QueryPlan struct {
	Queries     []*TaggedQuerySpec
	PathToQuery map[string]string // pathKey -> query id
	MergeOrder  []string          // query ids in assignment order
}

// pathKey joins a row path and col path into the dedup/lookup key used
// throughout (spec.md GLOSSARY "Path key").
func pathKey(rowPath, colPath tree.Path) string {
	return rowPath.String() + "||" + colPath.String()
}

type rawQuery struct {
	rowPath, colPath           tree.Path
	rowGroupings, colGroupings []GroupingInfo
	isRowTotal, hasColTotal    bool
	rowTotalLabel, colTotalLabel *string
	rowLeaf, colLeaf           *tree.Node
}

// Build enumerates, deduplicates, and merges the query plan for spec.
func Build(spec *tablespec.TableSpec) (*QueryPlan, error) {
	rowBranches := axisBranches(spec.RowAxis)
	colBranches := axisBranches(spec.ColAxis)

	var raw []rawQuery
	for _, rb := range rowBranches {
		rowGroupings, isRowTotal, rowTotalLabel := extractGroupings(rb)
		for _, cb := range colBranches {
			colGroupings, hasColTotal, colTotalLabel := extractGroupings(cb)
			raw = append(raw, rawQuery{
				rowPath: rb.Path, colPath: cb.Path,
				rowGroupings: rowGroupings, colGroupings: colGroupings,
				isRowTotal: isRowTotal, hasColTotal: hasColTotal,
				rowTotalLabel: rowTotalLabel, colTotalLabel: colTotalLabel,
				rowLeaf: rb.Leaf, colLeaf: cb.Leaf,
			})
		}
	}

	plan, err := dedupe(raw, spec.Aggregates)
	if err != nil {
		return nil, err
	}
	merge(plan)
	return plan, nil
}

// axisBranches returns the root-to-leaf branches of an axis, or a single
// empty branch when the axis is absent (no column axis, or an
// aggregate-only row axis; spec.md §4.7 "Aggregate-only row axis").
func axisBranches(axis *tree.Node) []tree.Branch {
	if axis == nil {
		return []tree.Branch{{}}
	}
	return tree.Branches(axis, nil)
}

// extractGroupings walks a branch's full chain and collapses Totals into
// flags (spec.md §4.5 "Enumerate": "Totals are collapsed — they
// contribute only the isRowTotal/hasColTotal flags plus any label").
func extractGroupings(b tree.Branch) (groupings []GroupingInfo, hasTotal bool, totalLabel *string) {
	for _, n := range b.FullChain() {
		switch n.Kind {
		case tree.KindDimension:
			groupings = append(groupings, GroupingInfo{
				Dimension:        n.Name,
				Label:            n.Label,
				SuppressLabel:    n.SuppressLabel(),
				Limit:            n.DimLimit,
				Order:            n.DimOrder,
				AcrossDimensions: n.AcrossDimensions,
			})
		case tree.KindTotal:
			hasTotal = true
			totalLabel = n.TotalLabel
		}
	}
	return groupings, hasTotal, totalLabel
}

// dedupe computes each raw query's structural signature (spec.md §4.5
// "Deduplicate") and merges queries that share one, remapping every
// path key that resolved to any of them.
func dedupe(raw []rawQuery, aggregates []tablespec.AggregateKey) (*QueryPlan, error) {
	plan := &QueryPlan{PathToQuery: make(map[string]string)}
	sigToID := make(map[string]string)
	nextID := 1

	aggNames := make([]string, len(aggregates))
	for i, a := range aggregates {
		aggNames[i] = a.Name()
	}
	sort.Strings(aggNames)

	for _, rq := range raw {
		sig := signature(rq, aggNames)
		id, ok := sigToID[sig]
		if !ok {
			id = fmt.Sprintf("q%d", nextID)
			nextID++
			sigToID[sig] = id
			plan.Queries = append(plan.Queries, &TaggedQuerySpec{
				ID: id, RowPath: rq.rowPath, ColPath: rq.colPath,
				RowGroupings: rq.rowGroupings, ColGroupings: rq.colGroupings,
				Aggregates: aggregates, IsRowTotal: rq.isRowTotal, HasColTotal: rq.hasColTotal,
				RowTotalLabel: rq.rowTotalLabel, ColTotalLabel: rq.colTotalLabel,
				RowLeaf: rq.rowLeaf, ColLeaf: rq.colLeaf,
				Signature: sig,
			})
			plan.MergeOrder = append(plan.MergeOrder, id)
		}
		plan.PathToQuery[pathKey(rq.rowPath, rq.colPath)] = id
	}
	return plan, nil
}

// signature is the dedup key (spec.md §4.5): row groupings (with
// per-grouping limit summary + across-dim set), col groupings likewise,
// the sorted aggregate name list, and the two total flags.
func signature(rq rawQuery, sortedAggNames []string) string {
	var b strings.Builder
	b.WriteString("row:")
	writeGroupingSignature(&b, rq.rowGroupings)
	b.WriteString("|col:")
	writeGroupingSignature(&b, rq.colGroupings)
	fmt.Fprintf(&b, "|agg:%s", strings.Join(sortedAggNames, ","))
	fmt.Fprintf(&b, "|rowTotal:%v|colTotal:%v", rq.isRowTotal, rq.hasColTotal)
	return b.String()
}

func writeGroupingSignature(b *strings.Builder, groupings []GroupingInfo) {
	for i, g := range groupings {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(b, "%s", g.Dimension)
		if g.Limit != nil {
			fmt.Fprintf(b, "[%d:%s]", g.Limit.Count, g.Limit.Direction)
		}
		if len(g.AcrossDimensions) > 0 {
			across := append([]string(nil), g.AcrossDimensions...)
			sort.Strings(across)
			fmt.Fprintf(b, "^%s", strings.Join(across, ","))
		}
	}
}

// rowSignatureKey is the row-side portion of a query's signature plus
// aggregate set plus isRowTotal/rowTotalLabel (spec.md §4.5 "Merge
// column variants": queries are grouped by this key).
func rowSignatureKey(q *TaggedQuerySpec) string {
	var b strings.Builder
	writeGroupingSignature(&b, q.RowGroupings)
	aggNames := make([]string, len(q.Aggregates))
	for i, a := range q.Aggregates {
		aggNames[i] = a.Name()
	}
	sort.Strings(aggNames)
	fmt.Fprintf(&b, "|agg:%s|rowTotal:%v", strings.Join(aggNames, ","), q.IsRowTotal)
	if q.RowTotalLabel != nil {
		fmt.Fprintf(&b, "|label:%s", *q.RowTotalLabel)
	}
	return b.String()
}

// mergeEligible reports whether q may be merged with siblings sharing
// its row signature (spec.md §4.5): no column grouping may carry a
// limit, and no percentage aggregate may require flat emission — any
// percentage aggregate, whatever its denominator scope, blocks merging
// whenever the column groupings are non-empty.
func mergeEligible(q *TaggedQuerySpec) bool {
	for _, g := range q.ColGroupings {
		if g.Limit != nil {
			return false
		}
	}
	if len(q.ColGroupings) == 0 {
		return true
	}
	for _, a := range q.Aggregates {
		if a.IsPercentage {
			return false
		}
	}
	return true
}

// merge groups dedup'd queries by row signature and, within each group
// of size > 1, keeps one as primary and relocates the rest into
// AdditionalColVariants (spec.md §4.5 "Merge column variants"). Merging
// and limit-restructuring are mutually exclusive (spec.md §9); a query
// ineligible per mergeEligible passes through untouched as a singleton.
func merge(plan *QueryPlan) {
	groups := make(map[string][]*TaggedQuerySpec)
	var groupOrder []string
	for _, q := range plan.Queries {
		if !mergeEligible(q) {
			continue
		}
		key := rowSignatureKey(q)
		if _, seen := groups[key]; !seen {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], q)
	}

	absorbed := make(map[string]bool)
	var merged []*TaggedQuerySpec

	for _, key := range groupOrder {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		primary := members[0]
		for _, other := range members[1:] {
			primary.AdditionalColVariants = append(primary.AdditionalColVariants, ColVariant{
				ColPath: other.ColPath, ColGroupings: other.ColGroupings,
				HasColTotal: other.HasColTotal, ColTotalLabel: other.ColTotalLabel,
			})
			absorbed[other.ID] = true
			remapPaths(plan, other.ID, primary.ID)
		}
		merged = append(merged, primary)
	}

	if len(merged) == 0 {
		return
	}

	var surviving []*TaggedQuerySpec
	for _, q := range plan.Queries {
		if absorbed[q.ID] {
			continue
		}
		surviving = append(surviving, q)
	}
	plan.Queries = surviving
}

// remapPaths repoints every path key that mapped to fromID over to toID
// (spec.md §4.5 "the winning query inherits an id … and every path key
// that resolved to any of them is remapped").
func remapPaths(plan *QueryPlan, fromID, toID string) {
	for k, v := range plan.PathToQuery {
		if v == fromID {
			plan.PathToQuery[k] = toID
		}
	}
}

// Lookup resolves the query owning a given row/col path pair.
func (p *QueryPlan) Lookup(rowPath, colPath tree.Path) (*TaggedQuerySpec, error) {
	id, ok := p.PathToQuery[pathKey(rowPath, colPath)]
	if !ok {
		return nil, errs.NewInternalErrorf("no query for path %s", pathKey(rowPath, colPath))
	}
	for _, q := range p.Queries {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, errs.NewInternalErrorf("path %s maps to missing query id %s", pathKey(rowPath, colPath), id)
}
