package errs

import (
	"errors"
	"testing"
)

func TestSyntaxErrorWithAndWithoutSpan(t *testing.T) {
	withSpan := NewSyntaxError("line 3", "unexpected token")
	if got := withSpan.Error(); got != "syntax error at line 3: unexpected token" {
		t.Errorf("got %q", got)
	}
	withoutSpan := NewSyntaxError("", "unexpected token")
	if got := withoutSpan.Error(); got != "syntax error: unexpected token" {
		t.Errorf("got %q", got)
	}
}

func TestStructureErrorWithAndWithoutPath(t *testing.T) {
	withPath := NewStructureError("Dimension{region}", "child on aggregate leaf")
	if got := withPath.Error(); got != "structure error at Dimension{region}: child on aggregate leaf" {
		t.Errorf("got %q", got)
	}
	withoutPath := NewStructureError("", "child on aggregate leaf")
	if got := withoutPath.Error(); got != "structure error: child on aggregate leaf" {
		t.Errorf("got %q", got)
	}
}

func TestDimensionError(t *testing.T) {
	err := NewDimensionError("tier", "no usable branches")
	if got := err.Error(); got != `dimension "tier": no usable branches` {
		t.Errorf("got %q", got)
	}
}

func TestValidationErrorWithAndWithoutToken(t *testing.T) {
	withToken := NewValidationErrorToken("not valid SQL", "1; DROP TABLE x")
	if got := withToken.Error(); got != `validation error: not valid SQL (near "1; DROP TABLE x")` {
		t.Errorf("got %q", got)
	}
	withoutToken := NewValidationError("scope dimension unresolved")
	if got := withoutToken.Error(); got != "validation error: scope dimension unresolved" {
		t.Errorf("got %q", got)
	}
}

func TestExecutorError(t *testing.T) {
	err := NewExecutorError("q1", "connection reset")
	if got := err.Error(); got != "executor error for query q1: connection reset" {
		t.Errorf("got %q", got)
	}
}

func TestInternalErrorAndInternalErrorf(t *testing.T) {
	err := NewInternalError("no query for path")
	if got := err.Error(); got != "internal error: no query for path" {
		t.Errorf("got %q", got)
	}
	errf := NewInternalErrorf("unknown node kind %d", 7)
	if got := errf.Error(); got != "internal error: unknown node kind 7" {
		t.Errorf("got %q", got)
	}
}

func TestErrorsAsMatchesTypedError(t *testing.T) {
	var target *DimensionError
	var direct error = NewDimensionError("tier", "bad")
	if !errors.As(direct, &target) {
		t.Errorf("expected errors.As to match *DimensionError")
	}
	if target.Dimension != "tier" {
		t.Errorf("expected matched error to carry Dimension 'tier', got %q", target.Dimension)
	}
}
