package config

import (
	"testing"
	"time"
)

func TestParsePeriodVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		source PeriodSource
		every  time.Duration
	}{
		{name: "zero", raw: "0", source: PeriodEveryPass},
		{name: "every pass", raw: "every-pass", source: PeriodEveryPass},
		{name: "zero duration", raw: "0s", source: PeriodEveryPass},
		{name: "millis", raw: "500ms", source: PeriodDuration, every: 500 * time.Millisecond},
		{name: "micros", raw: "250us", source: PeriodDuration, every: 250 * time.Microsecond},
		{name: "hhmm", raw: "01:30", source: PeriodHHMM, every: 90 * time.Minute},
		{name: "every", raw: "@every 5s", source: PeriodCron, every: 5 * time.Second},
		{name: "prefixed every", raw: "cron:@every 1m", source: PeriodCron, every: time.Minute},
		{name: "every rounds to seconds", raw: "@every 1500ms", source: PeriodCron, every: time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePeriod(tt.raw)
			if err != nil {
				t.Fatalf("ParsePeriod(%q) error: %v", tt.raw, err)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParsePeriodInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "soon", "-5ms", "@hourly", "*/5 * * * *", "cron:", "00:75", "00:00"} {
		if _, err := ParsePeriod(raw); err == nil {
			t.Fatalf("ParsePeriod(%q): expected error", raw)
		}
	}
}
