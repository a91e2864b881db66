package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// PeriodSource describes which syntax a period string used.
type PeriodSource string

const (
	PeriodEveryPass PeriodSource = "every_pass"
	PeriodDuration  PeriodSource = "duration"
	PeriodHHMM      PeriodSource = "hhmm"
	PeriodCron      PeriodSource = "cron"
)

// ParsedPeriod is a normalized task period.
type ParsedPeriod struct {
	Every  time.Duration // 0 means every poll pass
	Source PeriodSource
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Only descriptors are accepted from cron syntax, and of those only
// constant-delay ones ("@every"): a task has one fixed period.
var periodParser = cron.NewParser(cron.Descriptor)

// ParsePeriod parses a task period.
//
// Supported forms:
//   - "0", "every-pass": run on every poll pass
//   - Go duration: "500ms", "250us", "2h30m"
//   - HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - cron descriptor: "@every 5s" (robfig/cron semantics: whole seconds, at
//     least 1s), "@hourly" is not constant-delay and is rejected
//
// The optional "cron:" prefix forces cron parsing.
func ParsePeriod(raw string) (ParsedPeriod, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedPeriod{}, fmt.Errorf("period required")
	}
	low := strings.ToLower(s)

	switch low {
	case "0", "every-pass", "every_pass":
		return ParsedPeriod{Every: 0, Source: PeriodEveryPass}, nil
	}

	if strings.HasPrefix(low, "cron:") {
		return parseCronPeriod(strings.TrimSpace(s[len("cron:"):]), raw)
	}
	if strings.HasPrefix(s, "@") {
		return parseCronPeriod(s, raw)
	}

	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return ParsedPeriod{}, err
		}
		return ParsedPeriod{Every: d, Source: PeriodHHMM}, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		if d < 0 {
			return ParsedPeriod{}, fmt.Errorf("period must be >= 0")
		}
		if d == 0 {
			return ParsedPeriod{Every: 0, Source: PeriodEveryPass}, nil
		}
		return ParsedPeriod{Every: d, Source: PeriodDuration}, nil
	}

	return ParsedPeriod{}, fmt.Errorf(
		"invalid period %q (use a duration like '500ms', HH:MM like '00:30', '@every 5s', or '0' for every pass)",
		raw,
	)
}

func parseCronPeriod(expr, raw string) (ParsedPeriod, error) {
	if expr == "" {
		return ParsedPeriod{}, fmt.Errorf("cron period required after 'cron:'")
	}
	sched, err := periodParser.Parse(expr)
	if err != nil {
		return ParsedPeriod{}, fmt.Errorf("invalid cron period %q: %w", raw, err)
	}
	cd, ok := sched.(cron.ConstantDelaySchedule)
	if !ok {
		return ParsedPeriod{}, fmt.Errorf("cron period %q is not a fixed interval (use '@every <duration>')", raw)
	}
	return ParsedPeriod{Every: cd.Delay, Source: PeriodCron}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	// safe parse: hours up to 999, minutes 0..59
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("period must be > 0")
	}
	return d, nil
}
