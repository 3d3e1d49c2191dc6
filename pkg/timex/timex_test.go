package timex_test

import (
	"testing"
	"time"

	"github.com/arangodoc/arangodoc/pkg/timex"
)

var base = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func Test_Shift_Applies_Signed_Tokens(t *testing.T) {
	t.Parallel()

	cases := []struct {
		stmt string
		want time.Time
	}{
		{"+2days", base.AddDate(0, 0, 2)},
		{"-3hours", base.Add(-3 * time.Hour)},
		{"+1Days 2Hours 3Minutes", base.AddDate(0, 0, 1).Add(2*time.Hour + 3*time.Minute)},
		{"1year 2months", base.AddDate(1, 2, 0)},
		{"5weeks", base.AddDate(0, 0, 35)},
		{"30seconds", base.Add(30 * time.Second)},
		{"-1minute", base.Add(-time.Minute)},
	}

	for _, tc := range cases {
		if got := timex.Shift(base, tc.stmt); !got.Equal(tc.want) {
			t.Fatalf("Shift(%q) = %v, want %v", tc.stmt, got, tc.want)
		}
	}
}

func Test_Shift_Accepts_Singular_And_MixedCase_Units(t *testing.T) {
	t.Parallel()

	if got := timex.Shift(base, "+1Day"); !got.Equal(base.AddDate(0, 0, 1)) {
		t.Fatalf("Shift(+1Day) = %v", got)
	}

	if got := timex.Shift(base, "2HOURS"); !got.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("Shift(2HOURS) = %v", got)
	}
}

func Test_Shift_Ignores_Unknown_Tokens(t *testing.T) {
	t.Parallel()

	// Unknown unit mixed with a valid one: only the valid token applies.
	if got := timex.Shift(base, "3fortnights +1day"); !got.Equal(base.AddDate(0, 0, 1)) {
		t.Fatalf("Shift mixed = %v", got)
	}

	// Nothing recognized: unshifted.
	if got := timex.Shift(base, "gibberish and more"); !got.Equal(base) {
		t.Fatalf("Shift gibberish = %v, want base", got)
	}

	if got := timex.Shift(base, ""); !got.Equal(base) {
		t.Fatalf("Shift empty = %v, want base", got)
	}
}

func Test_Stamp_Formats_UTC_With_Offset(t *testing.T) {
	t.Parallel()

	if got := timex.Stamp(base); got != "2024-06-15T12:00:00Z" {
		t.Fatalf("Stamp = %q", got)
	}

	eastern := time.FixedZone("EST", -5*60*60)
	local := time.Date(2024, 6, 15, 7, 0, 0, 0, eastern)

	// Stamps always normalize to UTC first.
	if got := timex.Stamp(local); got != "2024-06-15T12:00:00Z" {
		t.Fatalf("Stamp local = %q", got)
	}
}

func Test_Layout_Translates_Token_Dialect(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"YYYY-MM-DD":          "2006-01-02",
		"YYYY-MM-DD HH:mm:ss": "2006-01-02 15:04:05",
		"DD/MM/YY":            "02/01/06",
	}

	for tokens, want := range cases {
		if got := timex.Layout(tokens); got != want {
			t.Fatalf("Layout(%q) = %q, want %q", tokens, got, want)
		}
	}
}

func Test_Format_Renders_Tokens_And_ISODATE(t *testing.T) {
	t.Parallel()

	if got := timex.Format(base, "YYYY-MM-DD"); got != "2024-06-15" {
		t.Fatalf("Format = %q", got)
	}

	if got := timex.Format(base, "ISODATE"); got != "2024-06-15T12:00:00Z" {
		t.Fatalf("Format ISODATE = %q", got)
	}
}

func Test_Fixed_Clock_Freezes_Time(t *testing.T) {
	t.Parallel()

	clock := timex.Fixed(base)

	if got := clock.Now(); !got.Equal(base) {
		t.Fatalf("Now = %v, want %v", got, base)
	}
}

func Test_UTC_Clock_Returns_UTC(t *testing.T) {
	t.Parallel()

	if loc := timex.UTC().Now().Location(); loc != time.UTC {
		t.Fatalf("location = %v, want UTC", loc)
	}
}
