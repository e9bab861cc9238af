package privilege

import (
	"regexp"
	"strings"
)

// Level is one named authorization state of a device CLI.
//
// Escalate moves from EscalatePriv into this level; Deescalate moves from this
// level to DeescalatePriv. PreviousPriv is the parent in the level tree and is
// empty only for the root.
type Level struct {
	Name           string `json:"name" yaml:"name"`
	Pattern        string `json:"pattern" yaml:"pattern"`
	PreviousPriv   string `json:"previous_priv" yaml:"previous_priv"`
	DeescalatePriv string `json:"deescalate_priv" yaml:"deescalate_priv"`
	Deescalate     string `json:"deescalate" yaml:"deescalate"`
	EscalatePriv   string `json:"escalate_priv" yaml:"escalate_priv"`
	Escalate       string `json:"escalate" yaml:"escalate"`
	EscalateAuth   bool   `json:"escalate_auth" yaml:"escalate_auth"`
	EscalatePrompt string `json:"escalate_prompt" yaml:"escalate_prompt"`

	re         *regexp.Regexp
	escalateRe *regexp.Regexp
}

// CompilePattern compiles a prompt pattern the way every level pattern is
// compiled: case-insensitive, with ^ and $ anchoring to line boundaries.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?im)" + pattern)
}

func (l *Level) compile() error {
	re, err := CompilePattern(l.Pattern)
	if err != nil {
		return err
	}
	l.re = re
	if l.EscalatePrompt != "" {
		er, err := CompilePattern(l.EscalatePrompt)
		if err != nil {
			return err
		}
		l.escalateRe = er
	}
	return nil
}

// Regexp returns the compiled prompt pattern.
func (l *Level) Regexp() *regexp.Regexp {
	return l.re
}

// EscalateRegexp returns the compiled secondary-auth prompt pattern, or nil.
func (l *Level) EscalateRegexp() *regexp.Regexp {
	return l.escalateRe
}

// Matches reports whether prompt (a single trailing line) is this level's prompt.
func (l *Level) Matches(prompt string) bool {
	if l.re == nil {
		return false
	}
	return l.re.MatchString(strings.TrimRight(prompt, "\r\n"))
}
