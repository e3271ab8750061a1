// Package ident implements the utility contracts of spec.md §4.1 (C1):
// identifier escaping, aggregate-expression and percentage-expression
// builders, and the format-pattern parser. These are consumed throughout
// the compiler, the same "small, shared, stateless helpers" role the
// teacher gives to mapping.OperatorMap and mapping.TypeMap.
package ident

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jasonphillips/tplm/internal/dialect"
)

// functionAliases maps a user-facing aggregation name to the HQL function
// name it compiles to, when they differ.
var functionAliases = map[string]string{
	"mean":  "avg",
	"stdev": "stddev",
}

// Escape wraps name in the dialect's quote character when it collides
// with the reserved-word set; otherwise it is passed through unchanged.
func Escape(d dialect.Dialect, name string) string {
	if dialect.IsReserved(d, name) {
		q := dialect.QuoteChar(d)
		return q + name + q
	}
	return name
}

// AggregateExpr builds the HQL expression for (measure, function).
//
// Rules (spec.md §4.1):
//   - "count"/"n" without a measure -> count() (row count)
//   - "count" with a measure -> count(<measure>) — DISTINCT count, a
//     semantic departure from HQL's own count(field) that TPL makes
//     explicit so `field.aggregation` always means the same thing.
//   - known aliases (mean->avg, stdev->stddev) are applied
//   - otherwise: <measure>.<function>()
func AggregateExpr(measure, function string) string {
	fn := strings.ToLower(function)
	if fn == "count" || fn == "n" {
		if measure == "" {
			return "count()"
		}
		return fmt.Sprintf("count(%s)", measure)
	}
	if alias, ok := functionAliases[fn]; ok {
		fn = alias
	}
	return fmt.Sprintf("%s.%s()", measure, fn)
}

// PercentageScope identifies what the percentage's denominator is summed
// over (spec.md §3.1).
type PercentageScope string

const (
	ScopeAll   PercentageScope = "all"
	ScopeRows  PercentageScope = "rows"
	ScopeCols  PercentageScope = "cols"
	ScopeExplicit PercentageScope = "explicit"
)

// PercentageExpr builds `100.0 * <agg> / all(<agg>, <scope-dims>)`.
//
// Scope resolution (spec.md §4.1):
//   - all      -> no scope dims
//   - rows     -> col dims
//   - cols     -> row dims
//   - explicit -> the given list, verbatim
//
// Dimension references inside all(...) use the *output* name: the alias
// if the dimension was given one, nameAliasMap[dim] otherwise dim itself.
func PercentageExpr(measure, function string, scope PercentageScope, rowDims, colDims, explicitDims []string, nameAliasMap map[string]string) (string, error) {
	agg := AggregateExpr(measure, function)

	var scopeDims []string
	switch scope {
	case ScopeAll:
		scopeDims = nil
	case ScopeRows:
		scopeDims = colDims
	case ScopeCols:
		scopeDims = rowDims
	case ScopeExplicit:
		for _, d := range explicitDims {
			if !contains(rowDims, d) && !contains(colDims, d) {
				return "", fmt.Errorf("denominator scope dimension %q does not appear in either axis", d)
			}
		}
		scopeDims = explicitDims
	default:
		return "", fmt.Errorf("unknown percentage denominator scope %q", scope)
	}

	outputNames := make([]string, len(scopeDims))
	for i, d := range scopeDims {
		if alias, ok := nameAliasMap[d]; ok && alias != "" {
			outputNames[i] = alias
		} else {
			outputNames[i] = d
		}
	}

	if len(outputNames) == 0 {
		return fmt.Sprintf("100.0 * %s / all(%s)", agg, agg), nil
	}
	return fmt.Sprintf("100.0 * %s / all(%s, %s)", agg, agg, strings.Join(outputNames, ", ")), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FormatPattern is the parsed form of a user pattern like '$#.2' or '#%'.
// A ',' after '#' is not read as a grouping separator; it becomes part
// of the suffix.
type FormatPattern struct {
	Prefix    string
	Suffix    string
	Precision *int
	HasHash   bool
}

// ParseFormatPattern parses '<prefix>#[.<precision>]<suffix>'. If '#' is
// absent the whole string becomes the suffix (spec.md §4.1).
func ParseFormatPattern(pattern string) FormatPattern {
	hashIdx := strings.IndexByte(pattern, '#')
	if hashIdx < 0 {
		return FormatPattern{Suffix: pattern}
	}

	prefix := pattern[:hashIdx]
	rest := pattern[hashIdx+1:]

	fp := FormatPattern{Prefix: prefix, HasHash: true}

	if strings.HasPrefix(rest, ".") {
		rest = rest[1:]
		digits := 0
		for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
			digits++
		}
		if digits > 0 {
			precision := 0
			for _, c := range rest[:digits] {
				precision = precision*10 + int(c-'0')
			}
			fp.Precision = &precision
			rest = rest[digits:]
		}
	}

	fp.Suffix = rest
	return fp
}

// Format renders a numeric value through the parsed pattern.
func (fp FormatPattern) Format(value float64) string {
	precision := 0
	hasPrecision := fp.Precision != nil
	if hasPrecision {
		precision = *fp.Precision
	}
	var body string
	if hasPrecision {
		body = strconvFormatFloat(value, precision)
	} else {
		body = strconvFormatFloat(value, -1)
	}
	return fp.Prefix + body + fp.Suffix
}

func strconvFormatFloat(v float64, precision int) string {
	if precision < 0 {
		return trimTrailingZeros(fmt.Sprintf("%f", v))
	}
	return fmt.Sprintf("%.*f", precision, v)
}

func trimTrailingZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}

// SortedKeys returns the keys of a string set in sorted order, for
// building a stable, order-independent join (spec.md §3.3, §4.5, §4.7).
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
