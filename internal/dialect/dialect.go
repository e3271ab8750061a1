// Package dialect holds the per-backend switch tables the rest of the
// compiler keys off of, the same shape as the teacher's mapping.OperatorMap
// and mapping.TypeMap: one map-of-maps per concern, built once, looked up
// everywhere.
package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies the columnar engine backing the HQL. Kept open for
// more than two members — spec.md §1 lists DuckDB/BigQuery with "…".
type Dialect string

const (
	DuckDB   Dialect = "duckdb"
	BigQuery Dialect = "bigquery"
)

// reservedWords is the per-dialect HQL reserved-word set consulted by
// internal/ident's identifier escaper.
var reservedWords = map[Dialect]map[string]bool{
	DuckDB: setOf(
		"select", "from", "where", "group", "order", "by", "limit", "all",
		"table", "nest", "aggregate", "having", "join", "union", "case",
		"when", "then", "else", "end", "and", "or", "not", "null", "as",
		"is", "in", "exists", "with", "over", "partition", "rows", "cols",
		"count", "sum", "avg", "min", "max",
	),
	BigQuery: setOf(
		"select", "from", "where", "group", "order", "by", "limit", "all",
		"table", "nest", "aggregate", "having", "join", "union", "case",
		"when", "then", "else", "end", "and", "or", "not", "null", "as",
		"is", "in", "exists", "with", "over", "partition", "rows", "cols",
		"qualify", "count", "sum", "avg", "min", "max",
	),
}

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// IsReserved reports whether name collides (case-insensitively) with the
// dialect's reserved-word set.
func IsReserved(d Dialect, name string) bool {
	words, ok := reservedWords[d]
	if !ok {
		return false
	}
	return words[strings.ToLower(name)]
}

// QuoteChar returns the identifier-quoting character for the dialect.
func QuoteChar(d Dialect) string {
	return "`"
}

// PercentileWindowExpr returns the window-function SQL that computes the
// given quantile over the derived-source percentile rewrite (spec.md §4.4).
// quantile is in [0, 1] (e.g. 0.5 for the median).
func PercentileWindowExpr(d Dialect, measure string, quantile float64, partitionBySQL string) string {
	q := strconv.FormatFloat(quantile, 'g', -1, 64)
	partition := "()"
	if partitionBySQL != "" {
		partition = fmt.Sprintf("(PARTITION BY %s)", partitionBySQL)
	}
	switch d {
	case BigQuery:
		return fmt.Sprintf("PERCENTILE_CONT(%s, %s) OVER %s", measure, q, partition)
	default: // DuckDB
		return fmt.Sprintf("quantile_cont(%s, %s) OVER %s", measure, q, partition)
	}
}
