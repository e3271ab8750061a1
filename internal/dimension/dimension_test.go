package dimension

import (
	"strings"
	"testing"

	"github.com/jasonphillips/tplm/internal/dialect"
)

func TestParseAlias(t *testing.T) {
	d, err := Parse("region is customer.region_code")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.Name != "region" || d.RawColumn != "customer.region_code" {
		t.Errorf("unexpected alias definition: %+v", d)
	}
	if d.IsBucketed() {
		t.Errorf("alias definition should not be bucketed")
	}
}

func TestParseBucketed(t *testing.T) {
	text := "tier is (Gold when amount >= 1000 | Silver when amount >= 500 | else Bronze)"
	d, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.Name != "tier" {
		t.Errorf("expected name 'tier', got %q", d.Name)
	}
	if len(d.Branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(d.Branches))
	}
	if d.Branches[0].Label != "Gold" || d.Branches[0].Condition != "amount >= 1000" {
		t.Errorf("unexpected first branch: %+v", d.Branches[0])
	}
	if d.ElseLabel == nil || *d.ElseLabel != "Bronze" {
		t.Errorf("expected else label 'Bronze', got %v", d.ElseLabel)
	}
	if d.RawColumn != "amount" {
		t.Errorf("expected inferred raw column 'amount', got %q", d.RawColumn)
	}
	if !d.IsBucketed() {
		t.Errorf("expected bucketed definition")
	}
}

func TestParseBucketedNoElse(t *testing.T) {
	text := "tier is (Gold when amount >= 1000)"
	d, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.ElseLabel != nil {
		t.Errorf("expected no else label, got %v", *d.ElseLabel)
	}
}

func TestParseBucketedMissingWhen(t *testing.T) {
	_, err := Parse("tier is (Gold)")
	if err == nil {
		t.Errorf("expected error for branch missing WHEN")
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("this is not a dimension definition at all!!")
	if err == nil {
		t.Errorf("expected error for malformed definition text")
	}
}

func TestSQLExpressionAlias(t *testing.T) {
	d := &Definition{Name: "region", RawColumn: "customer.region_code"}
	if got := d.SQLExpression(); got != "customer.region_code" {
		t.Errorf("SQLExpression() = %q, want raw column passthrough", got)
	}
}

func TestSQLExpressionBucketedWithElse(t *testing.T) {
	d := &Definition{
		Name: "tier",
		Branches: []Branch{
			{Label: "Gold", Condition: "amount >= 1000"},
			{Label: "Silver", Condition: "amount >= 500"},
		},
		ElseLabel: strPtr("Bronze"),
	}
	got := d.SQLExpression()
	want := "CASE WHEN amount >= 1000 THEN 'Gold' WHEN amount >= 500 THEN 'Silver' ELSE 'Bronze' END"
	if got != want {
		t.Errorf("SQLExpression() = %q, want %q", got, want)
	}
}

func TestSQLExpressionBucketedNoElse(t *testing.T) {
	d := &Definition{
		Name:     "tier",
		Branches: []Branch{{Label: "Gold", Condition: "amount >= 1000"}},
	}
	got := d.SQLExpression()
	if strings.Contains(got, "ELSE") {
		t.Errorf("SQLExpression() with no ElseLabel should omit ELSE: %q", got)
	}
}

func TestEscapeSQLLiteral(t *testing.T) {
	if got := escapeSQLLiteral("O'Brien"); got != "O''Brien" {
		t.Errorf("escapeSQLLiteral() = %q, want O''Brien", got)
	}
}

func TestTranslateCondition(t *testing.T) {
	got := translateCondition("amount > 10 and `region` = 'EU' or not flag")
	want := "amount > 10 AND \"region\" = 'EU' OR NOT flag"
	if got != want {
		t.Errorf("translateCondition() = %q, want %q", got, want)
	}
}

func TestToPartitionSource(t *testing.T) {
	d := &Definition{
		Name:     "tier",
		Branches: []Branch{{Label: "Gold", Condition: "amount >= 1000"}},
	}
	ps := d.ToPartitionSource()
	if ps.RawColumn != "amount" {
		t.Errorf("expected RawColumn 'amount', got %q", ps.RawColumn)
	}
	if !strings.HasPrefix(ps.SQLExpression, "CASE") {
		t.Errorf("expected CASE expression, got %q", ps.SQLExpression)
	}
}

func TestOrderingProviderLegacyCompanionPreferred(t *testing.T) {
	d := &Definition{
		Name:     "tier",
		Branches: []Branch{{Label: "Gold", Condition: "amount >= 1000"}},
	}
	legacy := map[string]bool{"tier_order": true}
	p := NewOrderingProvider([]*Definition{d}, legacy)

	if !p.HasDefinitionOrder("tier") {
		t.Fatalf("expected HasDefinitionOrder true for tier")
	}
	if got := p.GetOrderDimensionName("tier"); got != "tier_order" {
		t.Errorf("expected legacy companion 'tier_order', got %q", got)
	}
	if len(p.GetAutoOrderDimensions()) != 0 {
		t.Errorf("expected no auto-synthesized companion when a legacy one exists")
	}
}

func TestOrderingProviderAutoSynthesized(t *testing.T) {
	d := &Definition{
		Name: "tier",
		Branches: []Branch{
			{Label: "Gold", Condition: "amount >= 1000"},
			{Label: "Silver", Condition: "amount >= 500"},
		},
		ElseLabel: strPtr("Bronze"),
	}
	p := NewOrderingProvider([]*Definition{d}, nil)

	if !p.HasDefinitionOrder("tier") {
		t.Fatalf("expected HasDefinitionOrder true for tier")
	}
	if got := p.GetOrderDimensionName("tier"); got != "tier_def_order" {
		t.Errorf("expected auto companion 'tier_def_order', got %q", got)
	}
	autos := p.GetAutoOrderDimensions()
	if len(autos) != 1 {
		t.Fatalf("expected 1 auto-synthesized companion, got %d", len(autos))
	}
	got := autos[0].SQLExpression()
	want := "CASE WHEN amount >= 1000 THEN 1 WHEN amount >= 500 THEN 2 ELSE 3 END"
	if got != want {
		t.Errorf("AutoOrderDimension.SQLExpression() = %q, want %q", got, want)
	}
}

func TestOrderingProviderNoOrderForAlias(t *testing.T) {
	d := &Definition{Name: "region", RawColumn: "customer.region_code"}
	p := NewOrderingProvider([]*Definition{d}, nil)
	if p.HasDefinitionOrder("region") {
		t.Errorf("an alias (non-bucketed) definition should get no definition-order companion")
	}
}

func TestOrderingProviderNilReceiverIsSafe(t *testing.T) {
	var p *OrderingProvider
	if p.HasDefinitionOrder("anything") {
		t.Errorf("nil provider should report false")
	}
	if got := p.GetOrderDimensionName("anything"); got != "" {
		t.Errorf("nil provider should return empty string, got %q", got)
	}
	if got := p.GetAutoOrderDimensions(); got != nil {
		t.Errorf("nil provider should return nil, got %v", got)
	}
}

func TestValidateConditionSQLDuckDB(t *testing.T) {
	if err := ValidateConditionSQL(dialect.DuckDB, "amount >= 1000"); err != nil {
		t.Errorf("expected valid condition to pass DuckDB validation: %v", err)
	}
}

func TestValidateConditionSQLRejectsGarbage(t *testing.T) {
	if err := ValidateConditionSQL(dialect.DuckDB, "not sql at !!! all"); err == nil {
		t.Errorf("expected invalid SQL fragment to fail validation")
	}
}

func strPtr(s string) *string { return &s }
