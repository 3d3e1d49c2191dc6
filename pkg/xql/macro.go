package xql

import (
	"regexp"
	"strings"

	"github.com/arangodoc/arangodoc/pkg/timex"
)

// Macro rewrites literal filter values at compile time. A string value
// matching Pattern is replaced by the result of Func; list values are
// scanned element by element.
type Macro struct {
	Name    string
	Pattern *regexp.Regexp
	Func    func(clock timex.Clock, match []string) any
}

// MacroSet is the registry of macros applied to filter values before they
// are emitted into bind variables.
type MacroSet struct {
	clock  timex.Clock
	macros []Macro
}

// NewMacroSet returns a registry holding the built-in macros.
func NewMacroSet(clock timex.Clock) *MacroSet {
	if clock == nil {
		clock = timex.UTC()
	}

	return &MacroSet{
		clock:  clock,
		macros: []Macro{nowMacro()},
	}
}

// Register appends a macro to the registry.
func (s *MacroSet) Register(m Macro) {
	s.macros = append(s.macros, m)
}

// Eval expands macros in a filter value. Non-matching values pass through
// unchanged.
func (s *MacroSet) Eval(value any) any {
	for _, m := range s.macros {
		switch tv := value.(type) {
		case string:
			if match := m.Pattern.FindStringSubmatch(tv); match != nil {
				return m.Func(s.clock, match)
			}
		case []any:
			out := make([]any, len(tv))
			hit := false

			for i, v := range tv {
				sv, ok := v.(string)
				if !ok {
					out[i] = v

					continue
				}

				if match := m.Pattern.FindStringSubmatch(sv); match != nil {
					out[i] = m.Func(s.clock, match)
					hit = true
				} else {
					out[i] = v
				}
			}

			if hit {
				return out
			}
		}
	}

	return value
}

// nowMacro renders the current timestamp, optionally shifted and formatted:
//
//	[[@MACRO:NOW]]
//	[[@MACRO:NOW, -5days]]
//	[[@MACRO:NOW, +2weeks, YYYY-MM-DD HH:mm:ss]]
//
// The default format is YYYY-MM-DD.
func nowMacro() Macro {
	return Macro{
		Name:    "NOW",
		Pattern: regexp.MustCompile(`(?i)^\[\[@MACRO:NOW\s*,?\s*(.*)]]$`),
		Func: func(clock timex.Clock, match []string) any {
			shifter := ""
			format := "YYYY-MM-DD"

			arg := strings.TrimSpace(match[1])
			if arg != "" {
				parts := strings.SplitN(arg, ",", 2)
				shifter = strings.TrimSpace(parts[0])

				if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
					format = strings.TrimSpace(parts[1])
				}
			}

			now := clock.Now()
			if shifter != "" {
				now = timex.Shift(now, shifter)
			}

			return timex.Format(now, format)
		},
	}
}
