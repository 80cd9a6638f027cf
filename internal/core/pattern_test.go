package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func pcts(vals ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = dec(v)
	}
	return out
}

func TestAnalyzeSeries(t *testing.T) {
	threshold := dec("5") // flag when worse than -5%

	tests := []struct {
		name        string
		series      []decimal.Decimal
		wantFlagged bool
		wantTrend   Trend
	}{
		{
			name:        "three straight bad sessions",
			series:      pcts("-8", "-9", "-11"),
			wantFlagged: true,
			wantTrend:   TrendWorsening,
		},
		{
			name:        "too few sessions never flags",
			series:      pcts("-20", "-25"),
			wantFlagged: false,
			wantTrend:   TrendStable,
		},
		{
			name:        "one good session breaks the run",
			series:      pcts("-8", "-2", "-11"),
			wantFlagged: false,
			wantTrend:   TrendWorsening,
		},
		{
			name:        "bad history but recent recovery",
			series:      pcts("-12", "-10", "-8", "-4", "-1"),
			wantFlagged: false,
			wantTrend:   TrendImproving,
		},
		{
			name:        "within threshold stays quiet",
			series:      pcts("-4", "-4.5", "-3"),
			wantFlagged: false,
			wantTrend:   TrendStable,
		},
		{
			name:        "boundary value does not flag",
			series:      pcts("-5", "-5", "-5"),
			wantFlagged: false,
			wantTrend:   TrendStable,
		},
		{
			name:        "long flat series",
			series:      pcts("-6", "-6.1", "-5.9", "-6", "-6.2"),
			wantFlagged: true,
			wantTrend:   TrendStable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flagged, trend := analyzeSeries(tt.series, 3, 3, threshold)
			if flagged != tt.wantFlagged {
				t.Errorf("flagged = %v, want %v", flagged, tt.wantFlagged)
			}
			if trend != tt.wantTrend {
				t.Errorf("trend = %s, want %s", trend, tt.wantTrend)
			}
		})
	}
}

func TestClassifyTrendEpsilonBand(t *testing.T) {
	// Slope of exactly 0.4 per session sits inside the 0.5 band.
	if got := classifyTrend(pcts("-10", "-9.6", "-9.2")); got != TrendStable {
		t.Errorf("slope 0.4 = %s, want stable", got)
	}
	// Slope of 2 per session is clearly improving.
	if got := classifyTrend(pcts("-10", "-8", "-6")); got != TrendImproving {
		t.Errorf("slope 2 = %s, want improving", got)
	}
	if got := classifyTrend(pcts("-2", "-6", "-10")); got != TrendWorsening {
		t.Errorf("slope -4 = %s, want worsening", got)
	}
	if got := classifyTrend(pcts("-5")); got != TrendStable {
		t.Errorf("single point = %s, want stable", got)
	}
}
