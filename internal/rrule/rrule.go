// Package rrule renders recurring-rule cadences as RFC 5545 RRULE strings
// and expands them with rrule-go.
package rrule

import (
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/teambition/rrule-go"
)

var freqNames = map[rrule.Frequency]string{
	rrule.DAILY:   "DAILY",
	rrule.WEEKLY:  "WEEKLY",
	rrule.MONTHLY: "MONTHLY",
	rrule.YEARLY:  "YEARLY",
}

// Builder creates an RRULE string from components.
type Builder struct {
	Freq     rrule.Frequency
	Interval int
	Count    int
	Until    *time.Time
}

// FromFrequency maps a rule's frequency and interval onto a Builder.
func FromFrequency(freq models.Frequency, interval int) (*Builder, error) {
	const op = "rrule.FromFrequency"
	if interval < 1 {
		return nil, errs.Validation(op, "interval must be at least 1, got %d", interval)
	}
	b := &Builder{Interval: interval}
	switch freq {
	case models.FrequencyDaily:
		b.Freq = rrule.DAILY
	case models.FrequencyWeekly:
		b.Freq = rrule.WEEKLY
	case models.FrequencyMonthly:
		b.Freq = rrule.MONTHLY
	case models.FrequencyYearly:
		b.Freq = rrule.YEARLY
	default:
		return nil, errs.Validation(op, "unknown frequency: %q", freq)
	}
	return b, nil
}

func (b *Builder) Build(dtstart time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Freq:     b.Freq,
		Interval: b.Interval,
		Dtstart:  dtstart,
	}
	if b.Count > 0 {
		opt.Count = b.Count
	}
	if b.Until != nil {
		opt.Until = *b.Until
	}
	return rrule.NewRRule(opt)
}

func (b *Builder) String() string {
	parts := []string{"FREQ=" + freqNames[b.Freq]}
	if b.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", b.Interval))
	}
	if b.Count > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", b.Count))
	}
	if b.Until != nil {
		parts = append(parts, "UNTIL="+b.Until.UTC().Format("20060102T150405Z"))
	}
	return strings.Join(parts, ";")
}

// Parse parses an RRULE string, with or without the "RRULE:" prefix,
// anchored at dtstart.
func Parse(ruleStr string, dtstart time.Time) (*rrule.RRule, error) {
	opt, err := rrule.StrToROption(strings.TrimPrefix(ruleStr, "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE: %w", err)
	}
	opt.Dtstart = dtstart
	return rrule.NewRRule(*opt)
}

// Occurrences returns the first count occurrences of ruleStr, dtstart
// included.
func Occurrences(ruleStr string, dtstart time.Time, count int) ([]time.Time, error) {
	rule, err := Parse(ruleStr, dtstart)
	if err != nil {
		return nil, err
	}

	next := rule.Iterator()
	var results []time.Time
	for len(results) < count {
		t, ok := next()
		if !ok {
			break
		}
		results = append(results, t)
	}
	return results, nil
}

// Describe returns an English description of an RRULE string. Unparseable
// input is returned unchanged.
func Describe(ruleStr string) string {
	ruleStr = strings.TrimPrefix(ruleStr, "RRULE:")

	info := make(map[string]string)
	for _, p := range strings.Split(ruleStr, ";") {
		if kv := strings.SplitN(p, "=", 2); len(kv) == 2 {
			info[kv[0]] = kv[1]
		}
	}

	units := map[string]string{"DAILY": "day", "WEEKLY": "week", "MONTHLY": "month", "YEARLY": "year"}
	unit, ok := units[info["FREQ"]]
	if !ok {
		return ruleStr
	}

	var result strings.Builder
	if interval := info["INTERVAL"]; interval == "" || interval == "1" {
		result.WriteString("every " + unit)
	} else {
		fmt.Fprintf(&result, "every %s %ss", interval, unit)
	}
	if count := info["COUNT"]; count != "" {
		fmt.Fprintf(&result, ", %s times", count)
	}
	if until := info["UNTIL"]; until != "" {
		if t, err := time.Parse("20060102T150405Z", until); err == nil {
			result.WriteString(", until " + t.Format("2006-01-02"))
		}
	}
	return result.String()
}
