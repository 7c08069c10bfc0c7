package grammar_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxreel/internal/voice/grammar"
)

var supported = []string{"ar", "de", "en", "es", "fr", "it", "ja", "ko", "nl", "pt", "ru", "zh"}

func TestDefault_CoversAllLanguages(t *testing.T) {
	t.Parallel()

	tbl := grammar.Default()
	if got := tbl.Languages(); !slices.Equal(got, supported) {
		t.Fatalf("Languages() = %v, want %v", got, supported)
	}
	for _, cmd := range tbl.Commands() {
		for _, lang := range supported {
			if len(cmd.Utterances[lang]) == 0 {
				t.Errorf("%s/%s has no %s utterances", cmd.Intent, cmd.Action, lang)
			}
		}
	}
}

func TestDefault_IntentCoverage(t *testing.T) {
	t.Parallel()

	want := map[string][]string{
		"playback_control":   {"play", "pause", "stop", "restart", "next", "previous"},
		"seek_control":       {"forward", "rewind"},
		"volume_control":     {"volume_up", "volume_down", "mute", "unmute"},
		"fullscreen_control": {"enter", "exit", "toggle"},
	}
	got := make(map[string][]string)
	var speeds []float64
	var hasMax bool
	for _, cmd := range grammar.Default().Commands() {
		if cmd.Action != "" {
			got[cmd.Intent] = append(got[cmd.Intent], cmd.Action)
		}
		if s, ok := cmd.Slot["speed"].(float64); ok {
			speeds = append(speeds, s)
		}
		if cmd.Slot["level"] == "max" {
			hasMax = true
		}
		if cmd.Intent == "seek_control" && cmd.Slot["seconds"] != float64(10) {
			t.Errorf("seek %s: seconds = %v, want 10", cmd.Action, cmd.Slot["seconds"])
		}
	}
	for intent, actions := range want {
		for _, a := range actions {
			if !slices.Contains(got[intent], a) {
				t.Errorf("missing %s/%s", intent, a)
			}
		}
	}
	if !slices.Equal(speeds, []float64{0.5, 1.0, 1.5, 2.0}) {
		t.Errorf("speeds = %v", speeds)
	}
	if !hasMax {
		t.Error("missing max volume entry")
	}
}

func TestDefault_UtterancesUniquePerLanguage(t *testing.T) {
	t.Parallel()

	cmds := grammar.Default().Commands()
	for _, lang := range supported {
		owner := make(map[string]int)
		for i, cmd := range cmds {
			for _, u := range cmd.Utterances[lang] {
				key := strings.ToLower(strings.TrimSpace(u))
				if j, ok := owner[key]; ok && j != i {
					t.Errorf("%s: %q used by entries %d and %d", lang, u, j, i)
				}
				owner[key] = i
			}
		}
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		wantErr bool
		wantLen int
		check   func(t *testing.T, tbl *grammar.Table)
	}{
		{
			name:    "invalid json",
			data:    `{`,
			wantErr: true,
		},
		{
			name:    "missing intent",
			data:    `[{"action":"play","utterances":{"en":["play"]}}]`,
			wantErr: true,
		},
		{
			name:    "non-array list skipped",
			data:    `[{"intent":"playback_control","action":"play","utterances":{"en":["play"],"de":"abspielen","fr":[1,2]}}]`,
			wantLen: 1,
			check: func(t *testing.T, tbl *grammar.Table) {
				if got := tbl.Languages(); !slices.Equal(got, []string{"en"}) {
					t.Errorf("Languages() = %v, want [en]", got)
				}
				cmd := tbl.Commands()[0]
				if _, ok := cmd.Utterances["de"]; ok {
					t.Error("de list should be skipped")
				}
			},
		},
		{
			name:    "english fallback",
			data:    `[{"intent":"playback_control","action":"pause","utterances":{"en":["pause"],"es":[]}}]`,
			wantLen: 1,
			check: func(t *testing.T, tbl *grammar.Table) {
				cmd := tbl.Commands()[0]
				for _, lang := range []string{"es", "xx"} {
					if got := tbl.Utterances(cmd, lang); !slices.Equal(got, []string{"pause"}) {
						t.Errorf("Utterances(%s) = %v, want [pause]", lang, got)
					}
				}
			},
		},
		{
			name:    "slot preserved",
			data:    `[{"intent":"speed_control","slot":{"speed":1.5},"utterances":{"en":["faster"]}}]`,
			wantLen: 1,
			check: func(t *testing.T, tbl *grammar.Table) {
				cmd := tbl.Commands()[0]
				if cmd.Action != "" || cmd.Slot["speed"] != 1.5 {
					t.Errorf("cmd = %+v", cmd)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tbl, err := grammar.Parse([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tbl.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", tbl.Len(), tt.wantLen)
			}
			if tt.check != nil {
				tt.check(t, tbl)
			}
		})
	}
}
