// Package tplm compiles a TPL table statement into an HQL query set and,
// given an injected Executor, into a rendered GridSpec (spec.md §1, §6).
// Grounded on the teacher's Client: the same translate/execute split,
// reshaped around a single pure Compile plus one impure Query that
// threads a caller-supplied executor instead of owning a live connection
// (spec.md §5 forbids any core component from owning a socket).
package tplm

import (
	"context"
	"fmt"
	"log"

	"github.com/jasonphillips/tplm/ast"
	"github.com/jasonphillips/tplm/internal/dialect"
	"github.com/jasonphillips/tplm/internal/dimension"
	"github.com/jasonphillips/tplm/internal/errs"
	"github.com/jasonphillips/tplm/internal/grid"
	"github.com/jasonphillips/tplm/internal/hql"
	"github.com/jasonphillips/tplm/internal/ident"
	"github.com/jasonphillips/tplm/internal/percentile"
	"github.com/jasonphillips/tplm/internal/queryplan"
	"github.com/jasonphillips/tplm/internal/tablespec"

	"google.golang.org/protobuf/types/known/structpb"
)

// Executor runs one compiled query against the backing HQL engine and
// returns its result rows (spec.md §6 "Output to the executor"). The
// orchestrator concatenates the model preamble with each query's Malloy
// text before handing it to the executor, so Execute never needs to know
// about the preamble itself.
type Executor interface {
	Execute(ctx context.Context, id string, fullQueryText string) ([]grid.Row, error)
}

// Compiler holds configuration that outlives any one compilation: the
// target dialect and the dimension definitions available for percentile
// partitioning. Built once via New with functional options, the same
// shape as the teacher's Client constructors (WrapSQL/WrapMongo plus
// SetTenant/SetContext).
type Compiler struct {
	dialect     dialect.Dialect
	definitions map[string]*dimension.Definition
	legacyOrder map[string]bool
	debug       bool
	logger      *log.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithDialect sets the target HQL dialect (default DuckDB).
func WithDialect(d dialect.Dialect) Option {
	return func(c *Compiler) { c.dialect = d }
}

// WithDimensionDefinitions registers raw TPL dimension-definition texts
// (`name is raw_column` or `name is (label when cond | …)`, spec.md §4.2),
// keyed by dimension name, so C4's percentile partitioning and C6's
// definition-order sorting can resolve a dimension ref to its underlying
// SQL. Definitions that fail to parse are skipped: they are not
// registered, Compile reports no error for them, and the dimension name
// is then used as-is for percentile partitioning.
func WithDimensionDefinitions(defs map[string]string) Option {
	return func(c *Compiler) {
		for name, text := range defs {
			d, err := dimension.Parse(text)
			if err != nil {
				continue // skipped; not reported
			}
			d.Name = name
			c.definitions[name] = d
		}
	}
}

// WithLegacyOrderDimensions marks dimension names (of the form
// `<dim>_order`) that already exist in the caller's schema as ordering
// companions, so C2 prefers them over synthesizing a definition-order
// companion (spec.md §4.2).
func WithLegacyOrderDimensions(names ...string) Option {
	return func(c *Compiler) {
		for _, n := range names {
			c.legacyOrder[n] = true
		}
	}
}

// WithDebug enables tracing to log.Default() from Compile (percentile
// rewrite, query count after dedup/merge, each query's template), off by
// default.
func WithDebug(enabled bool) Option {
	return func(c *Compiler) { c.debug = enabled }
}

// New builds a Compiler. Dialect defaults to DuckDB when unset.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		dialect:     dialect.DuckDB,
		definitions: make(map[string]*dimension.Definition),
		legacyOrder: make(map[string]bool),
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Compiler) logf(format string, args ...any) {
	if c.debug {
		c.logger.Printf(format, args...)
	}
}

// CompiledQuerySet is the pure output of Compile: the generated HQL
// queries, the model preamble they must be concatenated with before
// reaching the executor, and enough of the intermediate state for Build
// to assemble a GridSpec once results come back (spec.md §6).
type CompiledQuerySet struct {
	Spec     *tablespec.TableSpec
	Plan     *queryplan.QueryPlan
	Queries  []*hql.Query
	Preamble string

	ordering   *dimension.OrderingProvider
	percentile *percentile.Plan
}

// Compile translates a parsed TPL statement into a CompiledQuerySet with
// no I/O (spec.md §4.3–§4.6): AST -> TableSpec -> percentile rewrite ->
// QueryPlan -> one HQL Query per plan entry.
func (c *Compiler) Compile(stmt *ast.Statement) (*CompiledQuerySet, error) {
	spec, err := tablespec.Build(stmt)
	if err != nil {
		return nil, fmt.Errorf("build table spec: %w", err)
	}

	defs := make([]*dimension.Definition, 0, len(c.definitions))
	for _, d := range c.definitions {
		defs = append(defs, d)
	}
	ordering := dimension.NewOrderingProvider(defs, c.legacyOrder)

	resolve := func(name string) string {
		d, ok := c.definitions[name]
		if !ok {
			return name
		}
		// Percentile partitioning uses the raw column for an alias and the
		// CASE equivalent for a bucketed definition: the bucketing label is
		// not addressable in the derived source
		// (internal/dimension.PartitionSource).
		return d.ToPartitionSource().SQLExpression
	}

	plan := percentile.Build(c.dialect, spec.Source, spec.Where, spec.RowAxis, spec.ColAxis, resolve)
	source := spec.Source
	preamble := fmt.Sprintf("source: %s is table('%s')", spec.Source, spec.Source)
	if plan != nil {
		c.logf("tplm: percentile rewrite active, %d partition level(s)", len(plan.Levels))
		percentile.Rewrite(spec.RowAxis, plan)
		percentile.Rewrite(spec.ColAxis, plan)
		tablespec.RecollectAggregates(spec)
		source = spec.Source + "_percentiles"
		preamble = fmt.Sprintf("source: %s is %s.sql(\"\"\"%s\"\"\")", source, c.dialect, plan.DerivedSourceSQL)
	}

	qp, err := queryplan.Build(spec)
	if err != nil {
		return nil, fmt.Errorf("build query plan: %w", err)
	}
	c.logf("tplm: query plan has %d quer(y/ies) after dedup/merge", len(qp.Queries))

	gen := &hql.Generator{
		Dialect: c.dialect, Source: source, IncludeNulls: spec.Options.IncludeNulls,
		FirstAxis: spec.FirstAxis, Ordering: ordering, Percentile: plan,
	}

	queries := make([]*hql.Query, 0, len(qp.Queries))
	for _, q := range qp.Queries {
		query, err := gen.Generate(q)
		if err != nil {
			return nil, fmt.Errorf("generate hql for query %s: %w", q.ID, err)
		}
		c.logf("tplm: query %s -> template %s", q.ID, query.Template)
		queries = append(queries, query)
	}

	return &CompiledQuerySet{
		Spec: spec, Plan: qp, Queries: queries, Preamble: preamble,
		ordering: ordering, percentile: plan,
	}, nil
}

// Query compiles stmt and executes every resulting query through exec,
// returning the assembled GridSpec (spec.md §6 "Output to the renderer").
// A per-query executor failure — like a compile failure — aborts the
// whole call; partial grids are never returned (spec.md §7).
func (c *Compiler) Query(ctx context.Context, stmt *ast.Statement, exec Executor) (*grid.GridSpec, error) {
	compiled, err := c.Compile(stmt)
	if err != nil {
		return nil, err
	}

	rowsByQuery := make(map[string][]grid.Row, len(compiled.Queries))
	queriesByID := make(map[string]*hql.Query, len(compiled.Queries))
	for _, q := range compiled.Queries {
		queriesByID[q.ID] = q
		fullText := compiled.Preamble + "\n" + q.Malloy
		rows, err := exec.Execute(ctx, q.ID, fullText)
		if err != nil {
			return nil, errs.NewExecutorError(q.ID, err.Error())
		}
		rowsByQuery[q.ID] = rows
	}

	builder := &grid.Builder{
		Spec: compiled.Spec, Plan: compiled.Plan, Ordering: compiled.ordering,
		Formats: formatsByAggregate(compiled.Spec),
	}
	gs, err := builder.Build(rowsByQuery, queriesByID)
	if err != nil {
		return nil, fmt.Errorf("build grid: %w", err)
	}
	return gs, nil
}

// formatsByAggregate resolves each declared aggregate's display format,
// when the TPL bound one, into a parsed FormatPattern keyed by aggregate
// name (spec.md §4.1, §3.5 CellValue.formatted). Aggregates with no
// bound format fall back to a bare numeric pattern.
func formatsByAggregate(spec *tablespec.TableSpec) map[string]ident.FormatPattern {
	out := make(map[string]ident.FormatPattern, len(spec.Aggregates))
	for _, a := range spec.Aggregates {
		pattern := a.Format
		if pattern == "" {
			pattern = "#"
		}
		out[a.Name()] = ident.ParseFormatPattern(pattern)
	}
	return out
}

// ToStruct converts a GridSpec into a protobuf Struct for the renderer
// boundary (spec.md §6 "Output to the renderer"), mirroring the teacher's
// translate-then-wrap pattern (engine/translator/translator.go wrapping
// every translated query in a UniversalQuery envelope).
func ToStruct(gs *grid.GridSpec) (*structpb.Struct, error) {
	m := map[string]any{
		"rowHeaders":          headersToAny(gs.RowHeaders),
		"colHeaders":          headersToAny(gs.ColHeaders),
		"hasRowTotal":         gs.HasRowTotal,
		"hasColTotal":         gs.HasColTotal,
		"useCornerRowHeaders": gs.UseCornerRowHeaders,
	}
	if len(gs.LeftModeRowLabels) > 0 {
		labels := make([]any, len(gs.LeftModeRowLabels))
		for i, l := range gs.LeftModeRowLabels {
			labels[i] = l
		}
		m["leftModeRowLabels"] = labels
	}
	return structpb.NewStruct(m)
}

func headersToAny(nodes []*grid.HeaderNode) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		entry := map[string]any{
			"type":  n.Type,
			"value": n.Value,
			"span":  float64(n.Span),
			"depth": float64(n.Depth),
		}
		if n.Label != nil {
			entry["label"] = *n.Label
		}
		if len(n.Children) > 0 {
			entry["children"] = headersToAny(n.Children)
		}
		out[i] = entry
	}
	return out
}
