// Package dimension implements spec.md §4.2 (C2): parsing user-authored
// dimension definitions (plain alias or multi-branch labeled bucketing),
// emitting the SQL CASE equivalent needed for percentile partitioning, and
// the definition-order companion-dimension machinery.
package dimension

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jasonphillips/tplm/internal/dialect"
	"github.com/jasonphillips/tplm/internal/errs"
)

// Branch is one `label when condition` arm of a bucketed definition.
type Branch struct {
	Label     string
	Condition string
}

// Definition is a parsed dimension definition (spec.md §4.2).
//
// An alias definition has no Branches and RawColumn is the referenced
// column. A bucketed definition has Branches and an optional ElseLabel;
// RawColumn is the column its conditions reference (best-effort: the
// first identifier-looking token found across all branch conditions).
type Definition struct {
	Name      string
	RawColumn string
	Branches  []Branch
	ElseLabel *string
}

// IsBucketed reports whether the definition has labeled branches.
func (d *Definition) IsBucketed() bool {
	return len(d.Branches) > 0
}

var (
	bucketedPattern = regexp.MustCompile(`(?is)^\s*(\w+)\s+is\s*\((.*)\)\s*$`)
	aliasPattern    = regexp.MustCompile(`(?is)^\s*(\w+)\s+is\s+([\w.]+)\s*$`)
	branchSplitRe   = regexp.MustCompile(`\s*\|\s*`)
	whenSplitRe     = regexp.MustCompile(`(?i)\s+when\s+`)
	identifierRe    = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

// Parse parses a user-authored dimension definition of either form:
//
//	name is raw_column
//	name is (label1 when cond1 | label2 when cond2 | … | else default)
func Parse(text string) (*Definition, error) {
	if m := bucketedPattern.FindStringSubmatch(text); m != nil {
		name, body := m[1], m[2]
		parts := branchSplitRe.Split(body, -1)
		if len(parts) == 0 {
			return nil, errs.NewDimensionError(name, "bucketed dimension has no branches")
		}

		def := &Definition{Name: name}
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if strings.HasPrefix(strings.ToLower(part), "else") {
				rest := strings.TrimSpace(part[len("else"):])
				label := rest
				def.ElseLabel = &label
				continue
			}
			whenParts := whenSplitRe.Split(part, 2)
			if len(whenParts) != 2 {
				return nil, errs.NewDimensionError(name, fmt.Sprintf("branch %q is missing a WHEN condition", part))
			}
			def.Branches = append(def.Branches, Branch{
				Label:     strings.TrimSpace(whenParts[0]),
				Condition: strings.TrimSpace(whenParts[1]),
			})
		}
		if len(def.Branches) == 0 {
			return nil, errs.NewDimensionError(name, "bucketed dimension produced no usable branches")
		}
		def.RawColumn = firstIdentifier(def.Branches)
		return def, nil
	}

	if m := aliasPattern.FindStringSubmatch(text); m != nil {
		return &Definition{Name: m[1], RawColumn: m[2]}, nil
	}

	return nil, errs.NewDimensionError("", fmt.Sprintf("could not parse dimension definition %q", text))
}

func firstIdentifier(branches []Branch) string {
	for _, b := range branches {
		if loc := identifierRe.FindString(b.Condition); loc != "" {
			return loc
		}
	}
	return ""
}

var connectorRe = regexp.MustCompile(`(?i)\b(and|or|not)\b`)

// translateCondition uppercases logical connectors and swaps the TPL
// host identifier quote (backtick) for SQL's double-quote, leaving
// string and numeric literals untouched (spec.md §4.2).
func translateCondition(condition string) string {
	// Even-indexed parts lie outside single-quoted literals.
	parts := strings.Split(condition, "'")
	for i := 0; i < len(parts); i += 2 {
		parts[i] = connectorRe.ReplaceAllStringFunc(parts[i], strings.ToUpper)
		parts[i] = strings.ReplaceAll(parts[i], "`", `"`)
	}
	return strings.Join(parts, "'")
}

// SQLExpression emits the SQL CASE-WHEN equivalent of a bucketed
// definition, or the raw column reference for an alias (spec.md §4.2). If
// no ELSE branch is present the CASE has no ELSE clause.
func (d *Definition) SQLExpression() string {
	if !d.IsBucketed() {
		return d.RawColumn
	}
	var b strings.Builder
	b.WriteString("CASE")
	for _, branch := range d.Branches {
		fmt.Fprintf(&b, " WHEN %s THEN '%s'", translateCondition(branch.Condition), escapeSQLLiteral(branch.Label))
	}
	if d.ElseLabel != nil {
		fmt.Fprintf(&b, " ELSE '%s'", escapeSQLLiteral(*d.ElseLabel))
	}
	b.WriteString(" END")
	return b.String()
}

func escapeSQLLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// PartitionSource is the {rawColumn, sqlExpression} pair percentile
// partitioning needs (spec.md §4.2): partition by the raw column (or its
// CASE equivalent) because the bucketing label is not addressable in the
// derived source.
type PartitionSource struct {
	RawColumn     string
	SQLExpression string
}

// ToPartitionSource resolves the definition to its partitioning shape.
func (d *Definition) ToPartitionSource() PartitionSource {
	return PartitionSource{RawColumn: d.RawColumn, SQLExpression: d.SQLExpression()}
}

// ---------------------------------------------------------------------
// Definition-order sorting (spec.md §4.2)
// ---------------------------------------------------------------------

// AutoOrderDimension is a synthesized `<name>_def_order` ordinal
// bucketing over the same conditions as its source dimension: first
// branch -> 1, …, else -> n+1.
type AutoOrderDimension struct {
	Name       string // "<name>_def_order"
	SourceName string
	Definition *Definition // ordinal CASE expression, same branch conditions
}

// SQLExpression for an AutoOrderDimension emits an ordinal CASE rather
// than a labeled one.
func (a *AutoOrderDimension) SQLExpression() string {
	var b strings.Builder
	b.WriteString("CASE")
	for i, branch := range a.Definition.Branches {
		fmt.Fprintf(&b, " WHEN %s THEN %d", translateCondition(branch.Condition), i+1)
	}
	if a.Definition.ElseLabel != nil {
		fmt.Fprintf(&b, " ELSE %d", len(a.Definition.Branches)+1)
	}
	b.WriteString(" END")
	return b.String()
}

// OrderingProvider exposes the definition-order lookups C6 needs
// (spec.md §4.2). The zero value has no definitions registered.
type OrderingProvider struct {
	definitions    map[string]*Definition
	legacyCompanion map[string]string // name -> user-supplied "<name>_order"
	autoCompanions  map[string]*AutoOrderDimension
}

// NewOrderingProvider builds a provider from the dimension definitions
// parsed for one compilation and the set of legacy `<name>_order`
// companion dimensions the caller's schema already defines.
func NewOrderingProvider(definitions []*Definition, legacyOrderDimensions map[string]bool) *OrderingProvider {
	p := &OrderingProvider{
		definitions:     make(map[string]*Definition, len(definitions)),
		legacyCompanion: make(map[string]string),
		autoCompanions:  make(map[string]*AutoOrderDimension),
	}
	for _, d := range definitions {
		p.definitions[d.Name] = d
		legacyName := d.Name + "_order"
		if legacyOrderDimensions[legacyName] {
			p.legacyCompanion[d.Name] = legacyName
			continue
		}
		if d.IsBucketed() {
			p.autoCompanions[d.Name] = &AutoOrderDimension{
				Name:       d.Name + "_def_order",
				SourceName: d.Name,
				Definition: d,
			}
		}
	}
	return p
}

// HasDefinitionOrder reports whether name has either an auto-synthesized
// or a legacy companion ordering dimension.
func (p *OrderingProvider) HasDefinitionOrder(name string) bool {
	if p == nil {
		return false
	}
	if _, ok := p.autoCompanions[name]; ok {
		return true
	}
	_, ok := p.legacyCompanion[name]
	return ok
}

// GetOrderDimensionName returns the companion dimension's name, preferring
// the auto-synthesized one over a legacy user-supplied one.
func (p *OrderingProvider) GetOrderDimensionName(name string) string {
	if p == nil {
		return ""
	}
	if auto, ok := p.autoCompanions[name]; ok {
		return auto.Name
	}
	return p.legacyCompanion[name]
}

// GetAutoOrderDimensions returns the synthesized definitions to inject
// into the model.
func (p *OrderingProvider) GetAutoOrderDimensions() []*AutoOrderDimension {
	if p == nil {
		return nil
	}
	out := make([]*AutoOrderDimension, 0, len(p.autoCompanions))
	for _, a := range p.autoCompanions {
		out = append(out, a)
	}
	return out
}

// ---------------------------------------------------------------------
// Validation against real SQL grammars (spec.md §7 ValidationError)
// ---------------------------------------------------------------------

// ValidateConditionSQL checks that a branch condition parses as a SQL
// boolean expression for the given dialect, wrapping it as `SELECT 1
// WHERE <expr>` the same way the teacher's per-database validators
// pre-flight a fragment before it is embedded (engine/validator). DuckDB
// uses the Postgres-flavored grammar; BigQuery falls back to a
// best-effort ANSI-leaning parse since no GoogleSQL grammar is in the
// example pack (see SPEC_FULL.md §2).
func ValidateConditionSQL(d dialect.Dialect, condition string) error {
	wrapped := fmt.Sprintf("SELECT 1 WHERE %s", translateCondition(condition))
	if err := validateSQLFragment(d, wrapped); err != nil {
		return errs.NewValidationErrorToken("dimension condition is not valid SQL", condition)
	}
	return nil
}
