package parser_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxreel/internal/observe"
	"github.com/MrWong99/voxreel/internal/voice/grammar"
	"github.com/MrWong99/voxreel/internal/voice/parser"
)

func TestParse_EveryExactUtterance(t *testing.T) {
	t.Parallel()

	p := parser.New()
	tbl := grammar.Default()
	for _, cmd := range tbl.Commands() {
		for _, lang := range tbl.Languages() {
			for _, u := range tbl.Utterances(cmd, lang) {
				got := p.Parse(u, lang)
				if got == nil {
					t.Errorf("%s %q: no match", lang, u)
					continue
				}
				if got.Intent != cmd.Intent || got.Action != cmd.Action {
					t.Errorf("%s %q: got %s/%s, want %s/%s", lang, u, got.Intent, got.Action, cmd.Intent, cmd.Action)
				}
				if got.Confidence != 1.0 || got.Stage != parser.StageExact {
					t.Errorf("%s %q: confidence %v stage %s, want 1.0 exact", lang, u, got.Confidence, got.Stage)
				}
			}
		}
	}
}

func TestParse_ExactIsCaseAndSpaceInsensitive(t *testing.T) {
	t.Parallel()

	got := parser.New().Parse("  PLAY \n", "en")
	if got == nil || got.Action != "play" || got.Confidence != 1.0 {
		t.Fatalf("got %+v, want exact play", got)
	}
	if got.OriginalText != "  PLAY \n" {
		t.Errorf("OriginalText = %q", got.OriginalText)
	}
}

func TestParse_SlotsAreCopies(t *testing.T) {
	t.Parallel()

	p := parser.New()
	first := p.Parse("faster", "en")
	first.Slot["speed"] = 99.0
	second := p.Parse("faster", "en")
	if second.Slot["speed"] != 1.5 {
		t.Errorf("slot mutated through a previous result: %v", second.Slot)
	}
}

func TestParse_Regex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lang, text string
		intent     string
		action     string
		slotKey    string
		slotVal    float64
	}{
		{"en", "forward 30 seconds", "seek_control", "forward", "seconds", 30},
		{"en", "skip ahead 2 minutes", "seek_control", "forward", "seconds", 120},
		{"en", "30 seconds back", "seek_control", "rewind", "seconds", 30},
		{"en", "go back 15", "seek_control", "rewind", "seconds", 15},
		{"en", "set speed to 1.25", "speed_control", "", "speed", 1.25},
		{"en", "1.75x", "speed_control", "", "speed", 1.75},
		{"de", "30 sekunden vorspulen", "seek_control", "forward", "seconds", 30},
		{"de", "zurück um 2,5 minuten", "seek_control", "rewind", "seconds", 150},
		{"de", "geschwindigkeit auf 1,5", "speed_control", "", "speed", 1.5},
		{"de", "1,5x Geschwindigkeit", "speed_control", "", "speed", 1.5},
		{"de", "2x Geschwindigkeit", "speed_control", "", "speed", 2},
		{"de", "1,5 fache geschwindigkeit", "speed_control", "", "speed", 1.5},
		{"de", "1,25fach", "speed_control", "", "speed", 1.25},
		{"es", "1,5x velocidad", "speed_control", "", "speed", 1.5},
		{"fr", "1,5x vitesse", "speed_control", "", "speed", 1.5},
		{"it", "0,75x velocità", "speed_control", "", "speed", 0.75},
		{"pt", "1,5x velocidade", "speed_control", "", "speed", 1.5},
		{"nl", "1,5x snelheid", "speed_control", "", "speed", 1.5},
		{"fr", "avance de 20 secondes", "seek_control", "forward", "seconds", 20},
		{"fr", "vitesse à 0,75", "speed_control", "", "speed", 0.75},
		{"es", "retroceder 10 segundos", "seek_control", "rewind", "seconds", 10},
		{"it", "torna indietro di 1 minuto", "seek_control", "rewind", "seconds", 60},
		{"pt", "avançar 45 segundos", "seek_control", "forward", "seconds", 45},
		{"nl", "20 seconden terug", "seek_control", "rewind", "seconds", 20},
		{"ru", "вперёд на 30 секунд", "seek_control", "forward", "seconds", 30},
		{"ja", "30秒早送り", "seek_control", "forward", "seconds", 30},
		{"ja", "1.5倍速", "speed_control", "", "speed", 1.5},
		{"ko", "10초 뒤로", "seek_control", "rewind", "seconds", 10},
		{"zh", "快进30秒", "seek_control", "forward", "seconds", 30},
		{"zh", "快进３０秒", "seek_control", "forward", "seconds", 30},
		{"ar", "تقديم ٣٠ ثانية", "seek_control", "forward", "seconds", 30},
		{"ar", "سرعة 2", "speed_control", "", "speed", 2},
	}
	p := parser.New()
	for _, tt := range tests {
		t.Run(tt.lang+"/"+tt.text, func(t *testing.T) {
			t.Parallel()
			got := p.Parse(tt.text, tt.lang)
			if got == nil {
				t.Fatal("no match")
			}
			if got.Stage != parser.StageRegex || got.Confidence != 0.9 {
				t.Errorf("stage %s confidence %v, want regex 0.9", got.Stage, got.Confidence)
			}
			if got.Intent != tt.intent || got.Action != tt.action {
				t.Errorf("got %s/%s, want %s/%s", got.Intent, got.Action, tt.intent, tt.action)
			}
			if v, ok := got.Slot[tt.slotKey].(float64); !ok || v != tt.slotVal {
				t.Errorf("slot %s = %v, want %v", tt.slotKey, got.Slot[tt.slotKey], tt.slotVal)
			}
		})
	}
}

func TestParse_Fuzzy(t *testing.T) {
	t.Parallel()

	p := parser.New()
	tests := []struct {
		lang, text, action string
	}{
		{"en", "paus", "pause"},
		{"en", "pley", "play"},
		{"en", "volume upp", "volume_up"},
		{"de", "leiserr", "volume_down"},
	}
	for _, tt := range tests {
		got := p.Parse(tt.text, tt.lang)
		if got == nil {
			t.Errorf("%q: no match", tt.text)
			continue
		}
		if got.Action != tt.action || got.Stage != parser.StageFuzzy {
			t.Errorf("%q: got %s via %s, want %s via fuzzy", tt.text, got.Action, got.Stage, tt.action)
		}
		if got.Confidence < 0.6 || got.Confidence >= 1 {
			t.Errorf("%q: confidence %v outside [0.6, 1)", tt.text, got.Confidence)
		}
	}
}

func TestParse_NumbersNeverBecomeOtherPresets(t *testing.T) {
	t.Parallel()

	p := parser.New()
	tests := []struct {
		lang, text string
	}{
		{"de", "3,5x geschwindigkeit bitte"},
		{"de", "7 halbe geschwindigkeit"},
		{"es", "3x velocidad por favor"},
		{"fr", "3x vitesse svp"},
		{"en", "9 slower"},
	}
	for _, tt := range tests {
		got := p.Parse(tt.text, tt.lang)
		if got == nil || got.Stage != parser.StageFuzzy {
			continue
		}
		if _, ok := got.Slot["speed"]; ok {
			t.Errorf("%s %q: fuzzy speed preset %v", tt.lang, tt.text, got.Slot)
		}
		if _, ok := got.Slot["seconds"]; ok {
			t.Errorf("%s %q: fuzzy seek preset %v", tt.lang, tt.text, got.Slot)
		}
	}

}

func TestParse_FuzzyNumericPresetNeedsSameDigits(t *testing.T) {
	t.Parallel()

	tbl, err := grammar.Parse([]byte(`[
		{"intent":"speed_control","slot":{"speed":2.0},"utterances":{"en":["2x speed please"]}},
		{"intent":"speed_control","slot":{"speed":0.5},"utterances":{"en":["half speed please"]}}
	]`))
	if err != nil {
		t.Fatalf("grammar.Parse: %v", err)
	}
	p := parser.New(parser.WithGrammar(tbl), parser.WithPatterns(parser.Patterns{}))

	if got := p.Parse("2x speed pleas", "en"); got == nil || got.Slot["speed"] != 2.0 {
		t.Errorf("same digits: got %+v, want speed 2", got)
	}
	if got := p.Parse("3x speed please", "en"); got != nil {
		t.Errorf("different digits: got %+v, want nil", got)
	}
	if got := p.Parse("half speed pleas", "en"); got == nil || got.Slot["speed"] != 0.5 {
		t.Errorf("no digits: got %+v, want speed 0.5", got)
	}
}

func TestParse_NoMatch(t *testing.T) {
	t.Parallel()

	p := parser.New()
	for _, lang := range grammar.Default().Languages() {
		if got := p.Parse("xyzzy nonsense", lang); got != nil {
			t.Errorf("%s: got %+v, want nil", lang, got)
		}
	}
	for _, text := range []string{"", "   ", "\t\n"} {
		if got := p.Parse(text, "en"); got != nil {
			t.Errorf("%q: got %+v, want nil", text, got)
		}
	}
}

func TestParse_ConfidenceThreshold(t *testing.T) {
	t.Parallel()

	strict := parser.New(parser.WithConfidenceThreshold(0.95))
	if got := strict.Parse("paus", "en"); got != nil {
		t.Errorf("strict parser matched %+v", got)
	}
	if got := strict.Parse("pause", "en"); got == nil {
		t.Error("exact match must ignore the fuzzy threshold")
	}

	strict.SetConfidenceThreshold(0.5)
	if got := strict.Parse("paus", "en"); got == nil {
		t.Error("lowered threshold should accept the fuzzy match")
	}
}

func TestParse_LanguageNormalisation(t *testing.T) {
	t.Parallel()

	p := parser.New()
	tests := []struct {
		lang, text, action string
	}{
		{"de-DE", "pause", "pause"},
		{"de-AT", "lauter", "volume_up"},
		{"zh-TW", "暂停", "pause"},
		{"pt-BR", "tela cheia", "enter"},
		{"xx-unknown", "play", "play"},
		{"", "mute", "mute"},
	}
	for _, tt := range tests {
		got := p.Parse(tt.text, tt.lang)
		if got == nil || got.Action != tt.action {
			t.Errorf("Parse(%q, %q) = %+v, want action %s", tt.text, tt.lang, got, tt.action)
		}
	}
}

func TestParse_EnglishFallbackPerEntry(t *testing.T) {
	t.Parallel()

	tbl, err := grammar.Parse([]byte(`[
		{"intent":"playback_control","action":"play","utterances":{"en":["play"],"de":["abspielen"]}},
		{"intent":"playback_control","action":"pause","utterances":{"en":["pause"]}}
	]`))
	if err != nil {
		t.Fatalf("grammar.Parse: %v", err)
	}
	p := parser.New(parser.WithGrammar(tbl))
	if got := p.Parse("pause", "de"); got == nil || got.Action != "pause" || got.Stage != parser.StageExact {
		t.Errorf("got %+v, want exact pause via en fallback", got)
	}
	if got := p.Parse("play", "de"); got != nil && got.Stage == parser.StageExact {
		t.Errorf("de has its own list, play should not match exactly: %+v", got)
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want float64
	}{
		{"play", "play", 1},
		{"", "play", 0},
		{"play", "", 0},
		{"pause", "paus", 0.8},
		{"next", "next video", 0.4},
		{"abc", "xyz", 0},
		{"暂停", "暂停播放", 0.5},
	}
	for _, tt := range tests {
		got := parser.Similarity(tt.a, tt.b)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		if rev := parser.Similarity(tt.b, tt.a); rev != got {
			t.Errorf("Similarity not symmetric for %q/%q: %v vs %v", tt.a, tt.b, got, rev)
		}
	}
}

func TestParse_ConfidenceAlwaysInRange(t *testing.T) {
	t.Parallel()

	p := parser.New(parser.WithConfidenceThreshold(0))
	inputs := []string{"p", "pl", "stop it now", "speed 9", "forward 1000 minutes", "volume", "ｘ", "skip"}
	for _, in := range inputs {
		if got := p.Parse(in, "en"); got != nil && (got.Confidence < 0 || got.Confidence > 1) {
			t.Errorf("%q: confidence %v out of range", in, got.Confidence)
		}
	}
}

func TestLoadPatterns_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"bad yaml":      "en: [",
		"unknown type":  "en:\n  - {type: jump, regex: '(\\d+)'}",
		"no group":      "en:\n  - {type: speed, regex: 'speed'}",
		"two groups":    "en:\n  - {type: speed, regex: '(\\d+) (\\d+)'}",
		"invalid regex": "en:\n  - {type: speed, regex: '(\\d+'}",
	}
	for name, data := range tests {
		if _, err := parser.LoadPatterns([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestUpdateCommands_Concurrent(t *testing.T) {
	t.Parallel()

	p := parser.New()
	alt, err := grammar.Parse([]byte(`[{"intent":"playback_control","action":"play","utterances":{"en":["go go go"]}}]`))
	if err != nil {
		t.Fatalf("grammar.Parse: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			for j := range 50 {
				p.Parse(fmt.Sprintf("forward %d", i*j), "en")
				p.Parse("pause", "en")
			}
		})
	}
	wg.Go(func() { p.UpdateCommands(alt) })
	wg.Wait()

	if got := p.Parse("go go go", "en"); got == nil || got.Action != "play" {
		t.Errorf("after update got %+v", got)
	}
}

func TestParse_RecordsStageMetric(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := parser.New(parser.WithMetrics(m))
	p.Parse("play", "en")
	p.Parse("forward 5", "en")
	p.Parse("xyzzy nonsense", "en")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	stages := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "voxreel.parse.results" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value("stage")
				stages[v.AsString()] += dp.Value
			}
		}
	}
	for _, s := range []string{"exact", "regex", "none"} {
		if stages[s] != 1 {
			t.Errorf("stage %s = %d, want 1 (all: %v)", s, stages[s], stages)
		}
	}
}
