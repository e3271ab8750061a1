// Package ast defines the strictly-typed AST consumed from the TPL
// front end (spec.md §6). The grammar/lexer that produces this tree is an
// external collaborator (spec.md §1); this package only fixes the
// contract the TableSpec builder (internal/tablespec) walks.
package ast

// Statement is the top-level TABLE statement.
type Statement struct {
	Source    string
	Where     string
	Options   map[string]string
	RowAxis   []Group
	ColAxis   []Group
	FirstAxis FirstAxis
}

// FirstAxis records which of ROWS/COLS appeared first in the source text
// (spec.md §3.2; determines limit priority in spec.md §4.6).
type FirstAxis string

const (
	FirstAxisRow FirstAxis = "row"
	FirstAxisCol FirstAxis = "col"
)

// Group is one comma/star-separated group of Items in an axis (i.e. one
// position in the right-to-left chain the TableSpec builder links,
// spec.md §4.3).
type Group struct {
	Items []Item
}

// ItemKind discriminates Item variants.
type ItemKind int

const (
	ItemDimensionRef ItemKind = iota
	ItemMeasureBinding
	ItemMeasureRef
	ItemStandaloneAggregation
	ItemPercentageAggregate
	ItemAll
	ItemSubAxis
	ItemAnnotatedGroup
)

// Item is one element of a Group.
type Item struct {
	Kind ItemKind

	// ItemDimensionRef
	DimensionName string
	DimensionLimit *ItemLimit
	DimensionOrder *ItemOrder

	// ItemMeasureBinding / ItemMeasureRef / ItemStandaloneAggregation
	Measure      string
	Aggregations []string // one binding can list several: field.(a|b|c)
	Format       string
	Label        *string
	// PerAggregationOverride lets a multi-aggregation binding give one
	// function its own format/label, overriding the binding-level ones
	// (spec.md §4.3). Indexed in parallel with Aggregations; entries may
	// be the zero value.
	PerAggregationOverride []AggregationOverride

	// ItemPercentageAggregate: (agg ACROSS scope)
	PercentageScope      string   // all | rows | cols | explicit
	PercentageScopeDims  []string

	// ItemAll
	AllLabel *string

	// ItemSubAxis: parenthesized sub-axis, e.g. (a|b)
	SubGroups []Group

	// ItemAnnotatedGroup: a group with its own format/label applying to
	// every Aggregate leaf produced within it (spec.md §4.3).
	AnnotatedItems []Item
}

// AggregationOverride is a per-function format/label override within a
// multi-aggregation binding.
type AggregationOverride struct {
	Format string
	Label  *string
}

// ItemLimit mirrors tree.Limit at the AST layer.
type ItemLimit struct {
	Count     int
	Direction string // asc | desc
	OrderBy   *ItemOrderBy
}

// ItemOrder mirrors tree.Order at the AST layer.
type ItemOrder struct {
	Direction string
	OrderBy   *ItemOrderBy
}

// ItemOrderBy is a field name, an aggregate expression, or a ratio.
type ItemOrderBy struct {
	Field               string
	AggregateMeasure    string
	AggregateFunction   string
	UngroupedDimensions []string
	RatioNumerator      *ItemOrderBy
	RatioDenominator    *ItemOrderBy
}
