package parser

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var builtinPatterns []byte

// RuleType is what a matched numeric phrase controls.
type RuleType string

const (
	RuleForward RuleType = "forward"
	RuleRewind  RuleType = "rewind"
	RuleSpeed   RuleType = "speed"
)

// Rule is one numeric phrasing. Regex must have exactly one capture group
// holding the number.
type Rule struct {
	Type  RuleType `yaml:"type"`
	Regex string   `yaml:"regex"`
	// Unit multiplies the captured value. Zero means 1.
	Unit float64 `yaml:"unit"`

	re *regexp.Regexp
}

// Patterns maps a base language code to its ordered rule list.
type Patterns map[string][]Rule

// LoadPatterns decodes and compiles a YAML rule table. Patterns are matched
// case-insensitively.
func LoadPatterns(data []byte) (Patterns, error) {
	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parser: decode patterns: %w", err)
	}
	for lang, rules := range p {
		for i := range rules {
			r := &rules[i]
			switch r.Type {
			case RuleForward, RuleRewind, RuleSpeed:
			default:
				return nil, fmt.Errorf("parser: patterns %s[%d]: unknown type %q", lang, i, r.Type)
			}
			re, err := regexp.Compile("(?i)" + r.Regex)
			if err != nil {
				return nil, fmt.Errorf("parser: patterns %s[%d]: %w", lang, i, err)
			}
			if re.NumSubexp() != 1 {
				return nil, fmt.Errorf("parser: patterns %s[%d]: want 1 capture group, got %d", lang, i, re.NumSubexp())
			}
			if r.Unit == 0 {
				r.Unit = 1
			}
			r.re = re
		}
	}
	return p, nil
}

var defaultPatterns = sync.OnceValue(func() Patterns {
	p, err := LoadPatterns(builtinPatterns)
	if err != nil {
		panic(err.Error())
	}
	return p
})

// DefaultPatterns returns the embedded rule tables.
func DefaultPatterns() Patterns { return defaultPatterns() }

// normalizeDigits rewrites Arabic-Indic, extended Arabic-Indic and
// full-width digits to ASCII so one \d class covers every table.
func normalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		case r >= '０' && r <= '９':
			return '0' + (r - '０')
		case r == '٫', r == '．':
			return '.'
		}
		return r
	}, s)
}
