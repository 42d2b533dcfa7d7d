package job

import (
	"fmt"
	"regexp"
	"strings"
)

// defaultDenyPatterns match a small set of known-destructive invocations.
// The list is intentionally narrow; see the package doc for why it must not
// be treated as a security boundary.
var defaultDenyPatterns = []string{
	`(?i)^(sudo\s+)?rm\s+(-[a-z]*f[a-z]*\s+)?/\s*$`,
	`(?i)^(sudo\s+)?ls\s+(-[a-z]*r[a-z]*)`,
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Gate checks command strings against an ordered deny-list before execution.
// It has no state beyond its compiled patterns and is safe for concurrent use.
type Gate struct {
	patterns []*regexp.Regexp
}

// NewGate builds a gate from the default deny-list plus any extra
// operator-supplied patterns, which are checked after the defaults.
func NewGate(extraPatterns ...string) (*Gate, error) {
	raw := make([]string, 0, len(defaultDenyPatterns)+len(extraPatterns))
	raw = append(raw, defaultDenyPatterns...)
	raw = append(raw, extraPatterns...)

	g := &Gate{}
	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compiling deny pattern %q: %w", p, err)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

// Check returns a human-readable rejection reason naming the first matching
// deny pattern, or the empty string if the command is allowed. The command is
// whitespace-normalized before matching so that padding doesn't dodge the
// patterns.
func (g *Gate) Check(command string) string {
	cmd := whitespaceRun.ReplaceAllString(strings.TrimSpace(command), " ")
	for _, p := range g.patterns {
		if p.MatchString(cmd) {
			return fmt.Sprintf("command matches dangerous pattern (%s)", p)
		}
	}
	return ""
}
