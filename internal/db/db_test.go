package db

import (
	"strings"
	"testing"
)

// The five named strategies project different columns; anything else falls
// back to the Year-OS projection. Integration tests exercise the queries
// against a live database; here we pin the closed mapping itself.
func TestGroupExprClosedMapping(t *testing.T) {
	tests := []struct {
		strategy string
		wantExpr string
		wantCond string
	}{
		{"OS", "os_version", "os_version IS NOT NULL"},
		{"Year", "year::text", "year IS NOT NULL"},
		{"ProductFamily", "product_family", "product_family IS NOT NULL"},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			expr, cond := groupExpr(tt.strategy)
			if expr != tt.wantExpr {
				t.Errorf("expr = %q, want %q", expr, tt.wantExpr)
			}
			if cond != tt.wantCond {
				t.Errorf("cond = %q, want %q", cond, tt.wantCond)
			}
		})
	}
}

func TestGroupExprCompositeStrategies(t *testing.T) {
	expr, cond := groupExpr("Year-Month")
	if !strings.Contains(expr, "lpad(month::text, 2, '0')") {
		t.Errorf("Year-Month expr %q should zero-pad the month", expr)
	}
	if !strings.Contains(cond, "month IS NOT NULL") {
		t.Errorf("Year-Month cond %q should exclude null months", cond)
	}

	yearOS, yearOSCond := groupExpr("Year-OS")
	if !strings.Contains(yearOS, "os_version") || !strings.Contains(yearOS, "year::text") {
		t.Errorf("Year-OS expr %q should combine year and os_version", yearOS)
	}
	if !strings.Contains(yearOSCond, "year IS NOT NULL AND os_version IS NOT NULL") {
		t.Errorf("Year-OS cond %q should exclude nulls in either field", yearOSCond)
	}
}

func TestGroupExprUnknownFallsBackToYearOS(t *testing.T) {
	wantExpr, wantCond := groupExpr("Year-OS")
	for _, strategy := range []string{"", "Severity", "year-os", "anything"} {
		expr, cond := groupExpr(strategy)
		if expr != wantExpr || cond != wantCond {
			t.Errorf("groupExpr(%q) = (%q, %q), want Year-OS projection", strategy, expr, cond)
		}
	}
}
