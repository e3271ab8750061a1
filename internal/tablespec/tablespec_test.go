package tablespec

import (
	"testing"

	"github.com/jasonphillips/tplm/ast"
	"github.com/jasonphillips/tplm/internal/tree"
)

func dimItem(name string) ast.Item {
	return ast.Item{Kind: ast.ItemDimensionRef, DimensionName: name}
}

func measureItem(measure, agg string) ast.Item {
	return ast.Item{Kind: ast.ItemMeasureBinding, Measure: measure, Aggregations: []string{agg}}
}

func TestBuildSimpleChain(t *testing.T) {
	stmt := &ast.Statement{
		Source:  "orders",
		RowAxis: []ast.Group{{Items: []ast.Item{dimItem("region")}}},
		ColAxis: []ast.Group{{Items: []ast.Item{measureItem("amount", "sum")}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.RowAxis.Kind != tree.KindDimension || spec.RowAxis.Name != "region" {
		t.Fatalf("unexpected row axis: %+v", spec.RowAxis)
	}
	if spec.ColAxis.Kind != tree.KindAggregate || spec.ColAxis.Measure != "amount" {
		t.Fatalf("unexpected col axis: %+v", spec.ColAxis)
	}
	if len(spec.Aggregates) != 1 || spec.Aggregates[0].Name() != "amount_sum" {
		t.Errorf("unexpected aggregates: %+v", spec.Aggregates)
	}
}

func TestBuildDefaultsToCountWhenNoAggregates(t *testing.T) {
	stmt := &ast.Statement{
		Source:  "orders",
		RowAxis: []ast.Group{{Items: []ast.Item{dimItem("region")}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(spec.Aggregates) != 1 || spec.Aggregates[0].Name() != "count" {
		t.Errorf("expected default count aggregate, got %+v", spec.Aggregates)
	}
}

func TestBuildAxisChainsGroupsRightToLeft(t *testing.T) {
	// region * year -> year should be attached under region.
	stmt := &ast.Statement{
		Source: "orders",
		RowAxis: []ast.Group{
			{Items: []ast.Item{dimItem("region")}},
			{Items: []ast.Item{dimItem("year")}},
		},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.RowAxis.Name != "region" {
		t.Fatalf("expected outer dimension 'region', got %q", spec.RowAxis.Name)
	}
	if spec.RowAxis.Child == nil || spec.RowAxis.Child.Name != "year" {
		t.Fatalf("expected 'year' chained under 'region', got %+v", spec.RowAxis.Child)
	}
}

func TestBuildSiblingsShareIndependentTailClones(t *testing.T) {
	stmt := &ast.Statement{
		Source: "orders",
		RowAxis: []ast.Group{
			{Items: []ast.Item{dimItem("region"), dimItem("segment")}},
			{Items: []ast.Item{dimItem("year")}},
		},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.RowAxis.Kind != tree.KindSiblings || len(spec.RowAxis.Children) != 2 {
		t.Fatalf("expected a 2-way Siblings root, got %+v", spec.RowAxis)
	}
	a := spec.RowAxis.Children[0].Child
	b := spec.RowAxis.Children[1].Child
	if a == b {
		t.Errorf("expected independent tail clones per sibling branch")
	}
	a.Name = "mutated"
	if b.Name != "year" {
		t.Errorf("mutating one sibling's tail mutated the other")
	}
}

func TestBuildMultiAggregationBindingProducesSiblings(t *testing.T) {
	stmt := &ast.Statement{
		Source:  "orders",
		ColAxis: []ast.Group{{Items: []ast.Item{{Kind: ast.ItemMeasureBinding, Measure: "amount", Aggregations: []string{"sum", "mean"}}}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.ColAxis.Kind != tree.KindSiblings || len(spec.ColAxis.Children) != 2 {
		t.Fatalf("expected siblings for multi-aggregation binding, got %+v", spec.ColAxis)
	}
	if len(spec.Aggregates) != 2 {
		t.Errorf("expected 2 aggregates, got %+v", spec.Aggregates)
	}
}

func TestBuildPerAggregationOverride(t *testing.T) {
	label := "Average"
	stmt := &ast.Statement{
		Source: "orders",
		ColAxis: []ast.Group{{Items: []ast.Item{{
			Kind: ast.ItemMeasureBinding, Measure: "amount", Format: "$#",
			Aggregations:           []string{"sum", "mean"},
			PerAggregationOverride: []ast.AggregationOverride{{}, {Format: "#.2", Label: &label}},
		}}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sumLeaf := spec.ColAxis.Children[0]
	meanLeaf := spec.ColAxis.Children[1]
	if sumLeaf.Format != "$#" {
		t.Errorf("expected sum leaf to inherit binding-level format, got %q", sumLeaf.Format)
	}
	if meanLeaf.Format != "#.2" {
		t.Errorf("expected mean leaf's override format, got %q", meanLeaf.Format)
	}
	if meanLeaf.Label == nil || *meanLeaf.Label != "Average" {
		t.Errorf("expected mean leaf's override label, got %v", meanLeaf.Label)
	}
}

func TestBuildAnnotatedGroupPropagatesFormatLabel(t *testing.T) {
	label := "Revenue"
	stmt := &ast.Statement{
		Source: "orders",
		ColAxis: []ast.Group{{Items: []ast.Item{{
			Kind: ast.ItemAnnotatedGroup, Format: "$#", Label: &label,
			AnnotatedItems: []ast.Item{measureItem("amount", "sum"), measureItem("amount", "mean")},
		}}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.ColAxis.Kind != tree.KindSiblings {
		t.Fatalf("expected siblings root, got %+v", spec.ColAxis)
	}
	for _, c := range spec.ColAxis.Children {
		if c.Format != "$#" {
			t.Errorf("expected propagated format '$#', got %q", c.Format)
		}
		if c.Label == nil || *c.Label != "Revenue" {
			t.Errorf("expected propagated label 'Revenue', got %v", c.Label)
		}
	}
}

func TestBuildPercentageAggregateDefaults(t *testing.T) {
	stmt := &ast.Statement{
		Source:  "orders",
		ColAxis: []ast.Group{{Items: []ast.Item{{Kind: ast.ItemPercentageAggregate, Measure: "amount"}}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.ColAxis.Kind != tree.KindPercentageAggregate {
		t.Fatalf("expected a PercentageAggregate node, got %+v", spec.ColAxis)
	}
	if spec.ColAxis.Aggregation != "count" {
		t.Errorf("expected default aggregation 'count', got %q", spec.ColAxis.Aggregation)
	}
	if spec.ColAxis.DenominatorScope != "all" {
		t.Errorf("expected default denominator scope 'all', got %q", spec.ColAxis.DenominatorScope)
	}
	if len(spec.Aggregates) != 1 || !spec.Aggregates[0].IsPercentage || spec.Aggregates[0].Name() != "amount_count_pct" {
		t.Errorf("unexpected percentage aggregate: %+v", spec.Aggregates)
	}
}

func TestBuildAllItemProducesTotalNode(t *testing.T) {
	label := "Grand Total"
	stmt := &ast.Statement{
		Source:  "orders",
		RowAxis: []ast.Group{{Items: []ast.Item{{Kind: ast.ItemAll, AllLabel: &label}}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.RowAxis.Kind != tree.KindTotal || spec.RowAxis.TotalLabel == nil || *spec.RowAxis.TotalLabel != "Grand Total" {
		t.Errorf("unexpected total node: %+v", spec.RowAxis)
	}
}

func TestBuildIncludeNullsOmitsFilter(t *testing.T) {
	stmt := &ast.Statement{
		Source:  "orders",
		Options: map[string]string{"includeNulls": "true"},
		RowAxis: []ast.Group{{Items: []ast.Item{dimItem("region")}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.Where != "" {
		t.Errorf("expected no null filter with includeNulls=true, got %q", spec.Where)
	}
	if !spec.Options.IncludeNulls {
		t.Errorf("expected IncludeNulls true")
	}
}

func TestBuildDefaultExcludesNullsWithFilter(t *testing.T) {
	stmt := &ast.Statement{
		Source:  "orders",
		RowAxis: []ast.Group{{Items: []ast.Item{dimItem("region")}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.Where != "region is not null" {
		t.Errorf("expected null filter, got %q", spec.Where)
	}
}

func TestBuildCombinesExistingWhereWithNullFilter(t *testing.T) {
	stmt := &ast.Statement{
		Source:  "orders",
		Where:   "amount > 0",
		RowAxis: []ast.Group{{Items: []ast.Item{dimItem("region")}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := "(amount > 0) and (region is not null)"
	if spec.Where != want {
		t.Errorf("Where = %q, want %q", spec.Where, want)
	}
}

func TestBuildRowHeadersOptionIgnoresUnrecognizedValue(t *testing.T) {
	stmt := &ast.Statement{
		Source:  "orders",
		Options: map[string]string{"rowHeaders": "sideways"},
		RowAxis: []ast.Group{{Items: []ast.Item{dimItem("region")}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.Options.RowHeaders != "above" {
		t.Errorf("expected default 'above' for unrecognized option value, got %q", spec.Options.RowHeaders)
	}
}

func TestBuildSubAxisExpandsInline(t *testing.T) {
	stmt := &ast.Statement{
		Source: "orders",
		RowAxis: []ast.Group{{Items: []ast.Item{{
			Kind: ast.ItemSubAxis,
			SubGroups: []ast.Group{
				{Items: []ast.Item{dimItem("region")}},
				{Items: []ast.Item{dimItem("year")}},
			},
		}}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if spec.RowAxis.Name != "region" || spec.RowAxis.Child == nil || spec.RowAxis.Child.Name != "year" {
		t.Errorf("expected sub-axis expanded inline as region->year, got %+v", spec.RowAxis)
	}
}

func TestRecollectAggregatesPicksUpMutation(t *testing.T) {
	stmt := &ast.Statement{
		Source:  "orders",
		ColAxis: []ast.Group{{Items: []ast.Item{measureItem("amount", "sum")}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	spec.ColAxis.Aggregation = "mean"
	RecollectAggregates(spec)
	if len(spec.Aggregates) != 1 || spec.Aggregates[0].Name() != "amount_mean" {
		t.Errorf("expected RecollectAggregates to reflect mutated leaf, got %+v", spec.Aggregates)
	}
}

func TestBuildCollectsPerAggregationLabelOntoAggregateKey(t *testing.T) {
	label := "Average"
	stmt := &ast.Statement{
		Source: "orders",
		ColAxis: []ast.Group{{Items: []ast.Item{{
			Kind: ast.ItemMeasureBinding, Measure: "amount",
			Aggregations:           []string{"sum", "mean"},
			PerAggregationOverride: []ast.AggregationOverride{{}, {Label: &label}},
		}}}},
	}
	spec, err := Build(stmt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(spec.Aggregates) != 2 {
		t.Fatalf("expected 2 aggregates, got %+v", spec.Aggregates)
	}
	var sum, mean AggregateKey
	for _, a := range spec.Aggregates {
		switch a.Aggregation {
		case "sum":
			sum = a
		case "mean":
			mean = a
		}
	}
	if sum.Label != "" {
		t.Errorf("expected sum aggregate to carry no label, got %q", sum.Label)
	}
	if mean.Label != "Average" {
		t.Errorf("expected mean aggregate's label to be 'Average', got %q", mean.Label)
	}
}

func TestAggregateKeyNameCount(t *testing.T) {
	k := AggregateKey{Aggregation: "count"}
	if k.Name() != "count" {
		t.Errorf("bare count key should name itself 'count', got %q", k.Name())
	}
}
