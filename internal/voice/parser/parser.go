// Package parser turns a transcript into a structured player command.
//
// Parsing runs three stages and the first one that matches wins:
//
//  1. Exact: the trimmed, lower-cased text equals a grammar utterance
//     (confidence 1.0).
//  2. Regex: a language-specific numeric phrase such as "forward 30 seconds"
//     or "speed 1,5" (confidence 0.9).
//  3. Fuzzy: the closest grammar utterance by [Similarity], accepted when it
//     reaches the confidence threshold (0.6 by default).
//
// A [Parser] only reads its grammar and rule tables, so one instance can
// serve any number of concurrent transcripts.
package parser

import (
	"context"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/language"

	"github.com/MrWong99/voxreel/internal/observe"
	"github.com/MrWong99/voxreel/internal/voice/grammar"
)

const (
	// DefaultConfidenceThreshold is the minimum fuzzy score for a match.
	DefaultConfidenceThreshold = 0.6

	exactConfidence = 1.0
	regexConfidence = 0.9
)

// Stage names the parsing stage that produced a command.
type Stage string

const (
	StageExact Stage = "exact"
	StageRegex Stage = "regex"
	StageFuzzy Stage = "fuzzy"
)

// ParsedCommand is the parser's output.
type ParsedCommand struct {
	Intent       string         `json:"intent"`
	Action       string         `json:"action,omitempty"`
	Slot         map[string]any `json:"slot,omitempty"`
	Confidence   float64        `json:"confidence"`
	OriginalText string         `json:"original_text"`
	Stage        Stage          `json:"stage"`
}

// Option configures a [Parser].
type Option func(*Parser)

// WithConfidenceThreshold sets the minimum fuzzy similarity for a match.
func WithConfidenceThreshold(t float64) Option {
	return func(p *Parser) { p.threshold = t }
}

// WithGrammar replaces the embedded command table.
func WithGrammar(t *grammar.Table) Option {
	return func(p *Parser) { p.table = t }
}

// WithPatterns replaces the embedded numeric rule tables.
func WithPatterns(pt Patterns) Option {
	return func(p *Parser) { p.patterns = pt }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Parser) { p.metrics = m }
}

// entry is a grammar command with its utterances pre-normalised.
type entry struct {
	cmd        grammar.VoiceCommand
	utterances map[string][]string
}

// Parser matches transcripts against a command grammar.
type Parser struct {
	mu        sync.RWMutex
	table     *grammar.Table
	entries   []entry
	known     map[string]bool
	patterns  Patterns
	threshold float64
	metrics   *observe.Metrics
}

// New returns a Parser over the embedded grammar and rule tables unless
// overridden by options.
func New(opts ...Option) *Parser {
	p := &Parser{threshold: DefaultConfidenceThreshold}
	for _, o := range opts {
		o(p)
	}
	if p.table == nil {
		p.table = grammar.Default()
	}
	if p.patterns == nil {
		p.patterns = DefaultPatterns()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.index(p.table)
	return p
}

// UpdateCommands swaps the grammar. Parses in flight finish against the old
// table.
func (p *Parser) UpdateCommands(t *grammar.Table) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.table = t
	p.index(t)
}

// SetConfidenceThreshold changes the fuzzy acceptance threshold.
func (p *Parser) SetConfidenceThreshold(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threshold = t
}

// ConfidenceThreshold returns the fuzzy acceptance threshold.
func (p *Parser) ConfidenceThreshold() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// index must be called with mu held (or before p is shared).
func (p *Parser) index(t *grammar.Table) {
	cmds := t.Commands()
	p.entries = make([]entry, len(cmds))
	p.known = make(map[string]bool)
	for i, cmd := range cmds {
		e := entry{cmd: cmd, utterances: make(map[string][]string, len(cmd.Utterances))}
		for lang, list := range cmd.Utterances {
			norm := make([]string, 0, len(list))
			for _, u := range list {
				if u = normalize(u); u != "" {
					norm = append(norm, u)
				}
			}
			e.utterances[lang] = norm
			p.known[lang] = true
		}
		p.entries[i] = e
	}
	for lang := range p.patterns {
		p.known[lang] = true
	}
}

// Parse matches text in the given language (a BCP-47 tag; only the base
// language is used). It returns nil when no stage matches.
func (p *Parser) Parse(text, lang string) *ParsedCommand {
	norm := normalize(text)
	if norm == "" {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	base := p.baseLanguage(lang)
	cmd := p.exact(norm, base)
	if cmd == nil {
		cmd = p.regex(norm, base)
	}
	if cmd == nil {
		cmd = p.fuzzy(norm, base)
	}

	stage := "none"
	if cmd != nil {
		cmd.OriginalText = text
		stage = string(cmd.Stage)
		slog.Debug("parser: matched", "text", text, "language", base, "stage", stage,
			"intent", cmd.Intent, "action", cmd.Action, "confidence", cmd.Confidence)
	} else {
		slog.Debug("parser: no match", "text", text, "language", base)
	}
	p.metrics.RecordParse(context.Background(), stage, base)
	return cmd
}

// baseLanguage reduces lang to a base subtag the parser has data for,
// falling back to English.
func (p *Parser) baseLanguage(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return grammar.FallbackLanguage
	}
	base, conf := tag.Base()
	if conf == language.No || !p.known[base.String()] {
		return grammar.FallbackLanguage
	}
	return base.String()
}

func (e entry) utterancesFor(lang string) []string {
	if list := e.utterances[lang]; len(list) > 0 {
		return list
	}
	return e.utterances[grammar.FallbackLanguage]
}

func (p *Parser) exact(norm, lang string) *ParsedCommand {
	for _, e := range p.entries {
		for _, u := range e.utterancesFor(lang) {
			if u == norm {
				return fromEntry(e, exactConfidence, StageExact)
			}
		}
	}
	return nil
}

func (p *Parser) regex(norm, lang string) *ParsedCommand {
	rules, ok := p.patterns[lang]
	if !ok {
		rules = p.patterns[grammar.FallbackLanguage]
	}
	s := normalizeDigits(norm)
	for _, r := range rules {
		m := r.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil {
			continue
		}
		v *= r.Unit
		if r.Type == RuleSpeed {
			return &ParsedCommand{
				Intent:     "speed_control",
				Slot:       map[string]any{"speed": v},
				Confidence: regexConfidence,
				Stage:      StageRegex,
			}
		}
		return &ParsedCommand{
			Intent:     "seek_control",
			Action:     string(r.Type),
			Slot:       map[string]any{"seconds": v},
			Confidence: regexConfidence,
			Stage:      StageRegex,
		}
	}
	return nil
}

// fuzzy never resolves a spoken number to a preset with a different value:
// when the text carries digits, commands with a numeric slot only compete
// through utterances that carry the same digits.
func (p *Parser) fuzzy(norm, lang string) *ParsedCommand {
	var (
		best      *entry
		bestScore float64
	)
	digits := digitsOf(normalizeDigits(norm))
	for i := range p.entries {
		e := &p.entries[i]
		numeric := digits != "" && hasNumericSlot(e.cmd)
		for _, u := range e.utterancesFor(lang) {
			if numeric && digitsOf(normalizeDigits(u)) != digits {
				continue
			}
			if s := Similarity(norm, u); s > bestScore {
				best, bestScore = e, s
			}
		}
	}
	if best == nil || bestScore < p.threshold {
		return nil
	}
	return fromEntry(*best, bestScore, StageFuzzy)
}

func hasNumericSlot(cmd grammar.VoiceCommand) bool {
	for _, k := range []string{"speed", "seconds"} {
		if _, ok := cmd.Slot[k]; ok {
			return true
		}
	}
	return false
}

func digitsOf(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func fromEntry(e entry, confidence float64, stage Stage) *ParsedCommand {
	return &ParsedCommand{
		Intent:     e.cmd.Intent,
		Action:     e.cmd.Action,
		Slot:       maps.Clone(e.cmd.Slot),
		Confidence: confidence,
		Stage:      stage,
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Similarity scores two strings in [0, 1] as the larger of the containment
// ratio (shorter/longer length when one contains the other) and the
// Levenshtein ratio ((longer - distance)/longer). Lengths are in runes.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}
	longer, shorter := a, b
	ll, ls := la, lb
	if lb > la {
		longer, shorter = b, a
		ll, ls = lb, la
	}

	var containment float64
	if strings.Contains(longer, shorter) {
		containment = float64(ls) / float64(ll)
	}
	lev := float64(ll-matchr.Levenshtein(a, b)) / float64(ll)
	return max(containment, lev, 0)
}
