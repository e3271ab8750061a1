package ident

import (
	"testing"

	"github.com/jasonphillips/tplm/internal/dialect"
)

func TestEscapeReservedWord(t *testing.T) {
	if got := Escape(dialect.DuckDB, "select"); got != "`select`" {
		t.Errorf("Escape() = %q, want backtick-quoted", got)
	}
	if got := Escape(dialect.DuckDB, "region"); got != "region" {
		t.Errorf("Escape() = %q, want unchanged", got)
	}
}

func TestAggregateExprCountNoMeasure(t *testing.T) {
	if got := AggregateExpr("", "count"); got != "count()" {
		t.Errorf("AggregateExpr() = %q, want count()", got)
	}
}

func TestAggregateExprCountWithMeasure(t *testing.T) {
	if got := AggregateExpr("customer_id", "n"); got != "count(customer_id)" {
		t.Errorf("AggregateExpr() = %q, want count(customer_id)", got)
	}
}

func TestAggregateExprAlias(t *testing.T) {
	if got := AggregateExpr("amount", "mean"); got != "amount.avg()" {
		t.Errorf("AggregateExpr() = %q, want amount.avg()", got)
	}
	if got := AggregateExpr("amount", "stdev"); got != "amount.stddev()" {
		t.Errorf("AggregateExpr() = %q, want amount.stddev()", got)
	}
}

func TestAggregateExprPlain(t *testing.T) {
	if got := AggregateExpr("amount", "sum"); got != "amount.sum()" {
		t.Errorf("AggregateExpr() = %q, want amount.sum()", got)
	}
}

func TestPercentageExprAllScope(t *testing.T) {
	got, err := PercentageExpr("amount", "sum", ScopeAll, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("PercentageExpr: %v", err)
	}
	want := "100.0 * amount.sum() / all(amount.sum())"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPercentageExprRowsScopeUsesColDims(t *testing.T) {
	got, err := PercentageExpr("amount", "sum", ScopeRows, []string{"region"}, []string{"year"}, nil, nil)
	if err != nil {
		t.Fatalf("PercentageExpr: %v", err)
	}
	want := "100.0 * amount.sum() / all(amount.sum(), year)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPercentageExprColsScopeUsesRowDims(t *testing.T) {
	got, err := PercentageExpr("amount", "sum", ScopeCols, []string{"region"}, []string{"year"}, nil, nil)
	if err != nil {
		t.Fatalf("PercentageExpr: %v", err)
	}
	want := "100.0 * amount.sum() / all(amount.sum(), region)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPercentageExprExplicitUsesAlias(t *testing.T) {
	got, err := PercentageExpr("amount", "sum", ScopeExplicit, []string{"region"}, nil, []string{"region"}, map[string]string{"region": "Region Name"})
	if err != nil {
		t.Fatalf("PercentageExpr: %v", err)
	}
	want := "100.0 * amount.sum() / all(amount.sum(), Region Name)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPercentageExprExplicitRejectsDimensionAbsentFromBothAxes(t *testing.T) {
	_, err := PercentageExpr("amount", "sum", ScopeExplicit, []string{"region"}, []string{"year"}, []string{"segment"}, nil)
	if err == nil {
		t.Errorf("expected error for a scope dimension absent from both axes")
	}
}

func TestPercentageExprUnknownScope(t *testing.T) {
	_, err := PercentageExpr("amount", "sum", PercentageScope("bogus"), nil, nil, nil, nil)
	if err == nil {
		t.Errorf("expected error for an unknown scope")
	}
}

func TestParseFormatPatternNoHash(t *testing.T) {
	fp := ParseFormatPattern("%")
	if fp.HasHash {
		t.Errorf("expected HasHash false when no '#' present")
	}
	if fp.Suffix != "%" {
		t.Errorf("expected whole pattern as suffix, got %q", fp.Suffix)
	}
}

func TestParseFormatPatternPrefixSuffix(t *testing.T) {
	fp := ParseFormatPattern("$#")
	if fp.Prefix != "$" || !fp.HasHash || fp.Suffix != "" {
		t.Errorf("unexpected pattern: %+v", fp)
	}
}

func TestParseFormatPatternPrecision(t *testing.T) {
	fp := ParseFormatPattern("$#.2")
	if fp.Precision == nil || *fp.Precision != 2 {
		t.Fatalf("expected precision 2, got %v", fp.Precision)
	}
	if fp.Prefix != "$" {
		t.Errorf("expected prefix '$', got %q", fp.Prefix)
	}
}

func TestParseFormatPatternSuffixAfterPrecision(t *testing.T) {
	fp := ParseFormatPattern("#.2%")
	if fp.Precision == nil || *fp.Precision != 2 {
		t.Fatalf("expected precision 2, got %v", fp.Precision)
	}
	if fp.Suffix != "%" {
		t.Errorf("expected suffix '%%', got %q", fp.Suffix)
	}
}

func TestFormatPatternFormatWithPrecision(t *testing.T) {
	fp := ParseFormatPattern("$#.2")
	if got := fp.Format(1234.5); got != "$1234.50" {
		t.Errorf("Format() = %q, want $1234.50", got)
	}
}

func TestFormatPatternFormatNoPrecisionTrimsTrailingZeros(t *testing.T) {
	fp := ParseFormatPattern("#")
	if got := fp.Format(3.0); got != "3" {
		t.Errorf("Format() = %q, want 3", got)
	}
	if got := fp.Format(3.25); got != "3.25" {
		t.Errorf("Format() = %q, want 3.25", got)
	}
}

func TestSortedKeys(t *testing.T) {
	m := map[string]string{"b": "2", "a": "1", "c": "3"}
	got := SortedKeys(m)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
