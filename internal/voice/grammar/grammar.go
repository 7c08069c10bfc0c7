// Package grammar holds the voice command table: which spoken phrases map to
// which player intent, per language.
//
// The built-in table is embedded from commands.json and covers playback,
// seek, volume, speed and fullscreen commands in twelve languages. Entries
// are immutable once loaded; several entries may share an intent and differ
// only by action or slot.
package grammar

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// FallbackLanguage is used when an entry has no utterances for the requested
// language.
const FallbackLanguage = "en"

//go:embed commands.json
var builtin []byte

// VoiceCommand is one grammar entry.
type VoiceCommand struct {
	// Intent is the command family, e.g. "playback_control".
	Intent string

	// Action is the verb within the family, e.g. "pause". Empty when the
	// slot alone determines the effect (speed and absolute volume entries).
	Action string

	// Slot carries fixed parameters such as {"seconds": 10} or {"speed": 1.5}.
	Slot map[string]any

	// Utterances maps language codes to the phrases that trigger this entry.
	Utterances map[string][]string
}

// Table is a parsed, read-only command grammar.
type Table struct {
	commands  []VoiceCommand
	languages []string
}

type rawCommand struct {
	Intent     string                     `json:"intent"`
	Action     string                     `json:"action,omitempty"`
	Slot       map[string]any             `json:"slot,omitempty"`
	Utterances map[string]json.RawMessage `json:"utterances"`
}

// Parse decodes a JSON command table. A language whose utterance list is not
// an array of strings is skipped for that entry.
func Parse(data []byte) (*Table, error) {
	var raw []rawCommand
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("grammar: decode: %w", err)
	}

	var errs []error
	t := &Table{commands: make([]VoiceCommand, 0, len(raw))}
	seen := make(map[string]bool)
	for i, rc := range raw {
		if rc.Intent == "" {
			errs = append(errs, fmt.Errorf("grammar: entry %d: intent is required", i))
			continue
		}
		cmd := VoiceCommand{
			Intent:     rc.Intent,
			Action:     rc.Action,
			Slot:       rc.Slot,
			Utterances: make(map[string][]string, len(rc.Utterances)),
		}
		for lang, msg := range rc.Utterances {
			var list []string
			if err := json.Unmarshal(msg, &list); err != nil {
				slog.Debug("grammar: skipping utterance list", "intent", rc.Intent, "action", rc.Action, "language", lang, "err", err)
				continue
			}
			cmd.Utterances[lang] = list
			if !seen[lang] {
				seen[lang] = true
				t.languages = append(t.languages, lang)
			}
		}
		t.commands = append(t.commands, cmd)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	slices.Sort(t.languages)
	return t, nil
}

var defaultTable = sync.OnceValue(func() *Table {
	t, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("grammar: embedded table is invalid: %v", err))
	}
	return t
})

// Default returns the embedded command table. It is parsed once.
func Default() *Table { return defaultTable() }

// Commands returns the entries in table order. The slice is a copy; the
// entries themselves must not be modified.
func (t *Table) Commands() []VoiceCommand {
	return slices.Clone(t.commands)
}

// Utterances returns the phrases of cmd for lang, falling back to
// [FallbackLanguage] when cmd has none for lang.
func (t *Table) Utterances(cmd VoiceCommand, lang string) []string {
	if list, ok := cmd.Utterances[lang]; ok && len(list) > 0 {
		return list
	}
	return cmd.Utterances[FallbackLanguage]
}

// Languages returns the sorted set of languages with at least one utterance
// list.
func (t *Table) Languages() []string {
	return slices.Clone(t.languages)
}

// Len reports the number of entries.
func (t *Table) Len() int { return len(t.commands) }
