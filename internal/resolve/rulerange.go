package resolve

import (
	"fmt"
	"strings"

	"yarals/internal/document"
	"yarals/internal/errors"
)

// ruleStartPrefix opens a rule body. Modifiers (private, global) are not
// recognised here.
const ruleStartPrefix = "rule "

// ruleEndPrefix closes a rule body.
const ruleEndPrefix = "}"

// RuleRange is the [Start, End) line span of a rule: Start is the rule
// declaration line, End the closing brace line.
type RuleRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether line lies strictly inside the rule body.
func (rr RuleRange) Contains(line int) bool {
	return line > rr.Start && line < rr.End
}

// FindEnclosingRule returns the rule body that encloses pos. The start is
// the nearest declaration above the cursor line, the end the first closing
// brace at or after it. A rule without a closing brace runs to the end of the
// document.
func FindEnclosingRule(lines []string, pos document.Position) (RuleRange, error) {
	start := -1
	limit := pos.Line
	if limit > len(lines) {
		limit = len(lines)
	}
	for n := 0; n < limit; n++ {
		if strings.HasPrefix(lines[n], ruleStartPrefix) {
			start = n
		}
	}
	if start < 0 {
		return RuleRange{}, errors.NewError(
			errors.NoEnclosingRule,
			fmt.Sprintf("no rule declaration above line %d", pos.Line+1),
			nil,
		)
	}

	end := len(lines)
	for n := start; n < len(lines); n++ {
		if strings.HasPrefix(lines[n], ruleEndPrefix) {
			end = n
			break
		}
	}

	rr := RuleRange{Start: start, End: end}
	if !rr.Contains(pos.Line) {
		return RuleRange{}, errors.NewError(
			errors.NoEnclosingRule,
			fmt.Sprintf("line %d is outside the rule declared on line %d", pos.Line+1, start+1),
			nil,
		).WithDetails(rr)
	}
	return rr, nil
}
