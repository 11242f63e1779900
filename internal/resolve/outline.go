package resolve

import (
	"regexp"
	"strings"

	"yarals/internal/document"
)

var (
	// ruleDecl accepts the private/global modifiers that FindEnclosingRule
	// ignores; the outline lists every declaration.
	ruleDecl = regexp.MustCompile(`^((?:private|global)\s+)*rule\s+([A-Za-z_][A-Za-z0-9_]*)`)

	// stringDecl is a named pattern definition leading its line, optionally
	// after the strings: label. "==" is a comparison, not a definition.
	stringDecl = regexp.MustCompile(`^\s*(?:strings\s*:\s*)?\$([A-Za-z0-9_]+)\s*=(?:[^=]|$)`)
)

// StringDef is a named pattern defined inside a rule.
type StringDef struct {
	Name     string            `json:"name"`
	Position document.Position `json:"position"`
}

// Rule is one rule declaration with its body span and pattern definitions.
type Rule struct {
	Name     string            `json:"name"`
	Position document.Position `json:"position"`
	Span     RuleRange         `json:"span"`
	Strings  []StringDef       `json:"strings,omitempty"`
}

// Outline lists the rules of a document in declaration order.
func Outline(lines []string) []Rule {
	var rules []Rule
	for n := 0; n < len(lines); n++ {
		m := ruleDecl.FindStringSubmatchIndex(lines[n])
		if m == nil {
			continue
		}
		rule := Rule{
			Name:     lines[n][m[4]:m[5]],
			Position: document.Position{Line: n, Character: document.CharOffset(lines[n], m[4])},
			Span:     RuleRange{Start: n, End: len(lines)},
		}

		for body := n + 1; body < len(lines); body++ {
			if strings.HasPrefix(lines[body], ruleEndPrefix) {
				rule.Span.End = body
				break
			}
			if ruleDecl.MatchString(lines[body]) {
				// unterminated rule; the next declaration ends it
				rule.Span.End = body
				break
			}
			if sm := stringDecl.FindStringSubmatchIndex(lines[body]); sm != nil {
				rule.Strings = append(rule.Strings, StringDef{
					Name: lines[body][sm[2]:sm[3]],
					Position: document.Position{
						Line:      body,
						Character: document.CharOffset(lines[body], sm[2]-1),
					},
				})
			}
		}

		rules = append(rules, rule)
		if rule.Span.End > n {
			n = rule.Span.End - 1
		}
	}
	return rules
}
