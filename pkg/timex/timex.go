// Package timex provides the UTC clock, relative-time shifting, and the
// date layout dialect used by mutation operators and query macros.
package timex

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// StampLayout is the canonical timestamp format for persisted documents:
// ISO-8601 in UTC with an explicit offset.
const StampLayout = "2006-01-02T15:04:05Z07:00"

// Clock supplies the current time. Injected so that operator and macro
// output is reproducible in tests.
type Clock interface {
	Now() time.Time
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// UTC returns the real wall clock, normalized to UTC.
func UTC() Clock { return utcClock{} }

// Fixed returns a clock frozen at t.
func Fixed(t time.Time) Clock { return fixedClock{t: t.UTC()} }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// Stamp formats a time in the canonical persisted layout.
func Stamp(t time.Time) string {
	return t.UTC().Format(StampLayout)
}

var shiftToken = regexp.MustCompile(`^([+-]?\d+)([A-Za-z]+)$`)

// Shift applies a human-readable relative-time expression to t.
//
// The expression is whitespace-separated tokens of the form
// [+|-]<digits><unit>, with unit one of seconds, minutes, hours, days,
// weeks, months, years (case-insensitive, trailing "s" optional):
//
//	+1Days
//	-3Hours 6Minutes
//	1year 2months +3days
//
// Unknown tokens are ignored; an expression with no recognized token
// returns t unchanged.
func Shift(t time.Time, stmt string) time.Time {
	var (
		years, months, days int
		dur                 time.Duration
		matched             bool
	)

	for _, tok := range strings.Fields(stmt) {
		m := shiftToken.FindStringSubmatch(tok)
		if m == nil {
			continue
		}

		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		unit := strings.ToLower(strings.TrimSuffix(strings.ToLower(m[2]), "s")) + "s"

		switch unit {
		case "seconds":
			dur += time.Duration(n) * time.Second
		case "minutes":
			dur += time.Duration(n) * time.Minute
		case "hours":
			dur += time.Duration(n) * time.Hour
		case "days":
			days += n
		case "weeks":
			days += n * 7
		case "months":
			months += n
		case "years":
			years += n
		default:
			continue
		}

		matched = true
	}

	if !matched {
		return t
	}

	return t.AddDate(years, months, days).Add(dur)
}

var layoutTokens = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
	"ZZ", "Z07:00",
	"Z", "-0700",
)

// Layout translates a date format written in the documented token dialect
// (YYYY, MM, DD, HH, mm, ss, ZZ) into a Go time layout.
func Layout(tokens string) string {
	return layoutTokens.Replace(tokens)
}

// Format renders t using a token-dialect format. The special format
// "ISODATE" yields the canonical stamp.
func Format(t time.Time, tokens string) string {
	if strings.EqualFold(tokens, "ISODATE") {
		return Stamp(t)
	}

	return t.UTC().Format(Layout(tokens))
}
