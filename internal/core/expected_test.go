package core

import (
	"testing"
	"time"
)

func TestScoreConfidence(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	daysAgo := func(d int) *time.Time {
		ts := now.AddDate(0, 0, -d)
		return &ts
	}

	tests := []struct {
		name string
		row  snapshotRow
		want ConfidenceScore
	}{
		{
			name: "fresh count with live depletion",
			row:  snapshotRow{expected: dec("500"), lastCountTS: daysAgo(2), lastDepletionTS: daysAgo(1)},
			want: ScoreHigh,
		},
		{
			name: "fresh count but no depletion since",
			row:  snapshotRow{expected: dec("500"), lastCountTS: daysAgo(2), lastDepletionTS: daysAgo(5)},
			want: ScoreMedium,
		},
		{
			name: "week-old count",
			row:  snapshotRow{expected: dec("500"), lastCountTS: daysAgo(6)},
			want: ScoreMedium,
		},
		{
			name: "two-week-old count rescued by receiving",
			row:  snapshotRow{expected: dec("500"), lastCountTS: daysAgo(12), lastReceivingTS: daysAgo(3)},
			want: ScoreMedium,
		},
		{
			name: "two-week-old count without receiving",
			row:  snapshotRow{expected: dec("500"), lastCountTS: daysAgo(12)},
			want: ScoreLow,
		},
		{
			name: "stale count",
			row:  snapshotRow{expected: dec("500"), lastCountTS: daysAgo(30), lastReceivingTS: daysAgo(1)},
			want: ScoreLow,
		},
		{
			name: "never counted",
			row:  snapshotRow{expected: dec("500")},
			want: ScoreLow,
		},
		{
			name: "negative expectation is always low",
			row:  snapshotRow{expected: dec("-10"), lastCountTS: daysAgo(1), lastDepletionTS: daysAgo(0)},
			want: ScoreLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scoreConfidence(&tt.row, now); got != tt.want {
				t.Errorf("scoreConfidence() = %s, want %s", got, tt.want)
			}
		})
	}
}
