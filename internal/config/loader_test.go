package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxreel/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantErr: "log_level",
		},
		{
			name:    "empty listen addr",
			yaml:    "server:\n  listen_addr: \"\"\n",
			wantErr: "listen_addr",
		},
		{
			name:    "half tls",
			yaml:    "server:\n  tls:\n    cert_file: a.pem\n",
			wantErr: "tls",
		},
		{
			name:    "bad language",
			yaml:    "voice:\n  language: \"!!\"\n",
			wantErr: "voice.language",
		},
		{
			name:    "unknown mode",
			yaml:    "voice:\n  mode: telepathy\n",
			wantErr: "voice.mode",
		},
		{
			name:    "recording too short",
			yaml:    "voice:\n  recording_duration: 100ms\n",
			wantErr: "recording_duration",
		},
		{
			name:    "threshold out of range",
			yaml:    "voice:\n  fuzzy_threshold: 1.5\n",
			wantErr: "fuzzy_threshold",
		},
		{
			name:    "floor above band",
			yaml:    "voice:\n  execution_floor: 0.8\n  confirmation_band: 0.5\n",
			wantErr: "exceeds",
		},
		{
			name:    "recorder needs transcriber",
			yaml:    "voice:\n  mode: recorder\n",
			wantErr: "requires providers.transcriber",
		},
		{
			name:    "segment needs transcriber",
			yaml:    "providers:\n  stt:\n    name: segment\n  audio:\n    name: portaudio\n",
			wantErr: "segment requires providers.transcriber",
		},
		{
			name:    "segment needs pcm device",
			yaml:    "providers:\n  stt:\n    name: segment\n  transcriber:\n    name: whisper\n",
			wantErr: "PCM audio device",
		},
		{
			name:    "fallback without primary",
			yaml:    "providers:\n  transcriber_fallbacks:\n    - name: remote\n",
			wantErr: "without providers.transcriber",
		},
		{
			name:    "unnamed fallback",
			yaml:    "providers:\n  transcriber:\n    name: openai\n  transcriber_fallbacks:\n    - model: x\n",
			wantErr: "transcriber_fallbacks[0].name",
		},
		{
			name:    "volume step",
			yaml:    "player:\n  volume_step: 0\n",
			wantErr: "volume_step",
		},
		{
			name:    "poll interval",
			yaml:    "player:\n  poll_interval: 1ms\n",
			wantErr: "poll_interval",
		},
		{
			name:    "unknown platform",
			yaml:    "background:\n  platform: symbian\n",
			wantErr: "background.platform",
		},
		{
			name:    "wake word without words",
			yaml:    "background:\n  enable_wake_word: true\n  wake_words: []\n",
			wantErr: "wake word",
		},
		{
			name:    "keep-alive too fast",
			yaml:    "background:\n  keep_alive_interval: 10ms\n",
			wantErr: "below 100ms",
		},
		{
			name:    "unknown settings backend",
			yaml:    "settings:\n  backend: etcd\n",
			wantErr: "settings.backend",
		},
		{
			name:    "postgres needs dsn",
			yaml:    "settings:\n  backend: postgres\n",
			wantErr: "postgres_dsn",
		},
		{
			name:    "redis needs addr",
			yaml:    "settings:\n  backend: redis\n",
			wantErr: "redis.addr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
voice:
  mode: psychic
settings:
  backend: etcd
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "voice.mode", "settings.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderNameIsWarningOnly(t *testing.T) {
	t.Parallel()
	yaml := `
voice:
  mode: recorder
providers:
  transcriber:
    name: my-custom-asr
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should only warn, got: %v", err)
	}
}

func TestValidate_ShellCaptureIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
voice:
  mode: engine
providers:
  stt:
    name: webview
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
