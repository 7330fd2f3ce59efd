package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindow(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "always open", expr: "* * * * *"},
		{name: "empty defaults to always open", expr: ""},
		{name: "business hours", expr: "* 9-17 * * *"},
		{name: "weekdays only", expr: "* * * * 1-5"},
		{name: "six fields rejected", expr: "* * * * * *", wantErr: true},
		{name: "garbage rejected", expr: "not-a-cron", wantErr: true},
		{name: "out of range hour", expr: "* 25 * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWindow(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWindowContains(t *testing.T) {
	// 2026-03-04 is a Wednesday.
	tests := []struct {
		name string
		expr string
		now  time.Time
		want bool
	}{
		{
			name: "always open",
			expr: "* * * * *",
			now:  time.Date(2026, 3, 4, 3, 27, 45, 0, time.UTC),
			want: true,
		},
		{
			name: "inside business hours",
			expr: "* 9-17 * * *",
			now:  time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "start boundary inclusive",
			expr: "* 9-17 * * *",
			now:  time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "end boundary last minute",
			expr: "* 9-17 * * *",
			now:  time.Date(2026, 3, 4, 17, 59, 59, 0, time.UTC),
			want: true,
		},
		{
			name: "before window opens",
			expr: "* 9-17 * * *",
			now:  time.Date(2026, 3, 4, 8, 59, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "after window closes",
			expr: "* 9-17 * * *",
			now:  time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "weekday window on wednesday",
			expr: "* * * * 1-5",
			now:  time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "weekday window on sunday",
			expr: "* * * * 1-5",
			now:  time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWindow(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.Contains(tt.now))
		})
	}
}
