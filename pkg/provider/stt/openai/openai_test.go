package openai_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
	"github.com/MrWong99/voxreel/pkg/provider/stt/openai"
)

func newTestTranscriber(t *testing.T, handler http.HandlerFunc) *openai.Transcriber {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tr, err := openai.New("test-key", "", openai.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := openai.New("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestTranscribe_Success(t *testing.T) {
	var (
		gotPath, gotModel, gotLang, gotFile string
	)
	tr := newTestTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		if fh := r.MultipartForm.File["file"]; len(fh) > 0 {
			gotFile = fh[0].Filename
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"  skip forward 30 seconds "}`)
	})

	clip := audio.Clip{Data: audio.EncodeWAV(make([]byte, 320), audio.SpeechFormat), Container: audio.ContainerWAV}
	text, err := tr.Transcribe(context.Background(), clip, "en-US")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "skip forward 30 seconds" {
		t.Errorf("text = %q", text)
	}
	if gotPath != "/audio/transcriptions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotModel != "whisper-1" {
		t.Errorf("model = %q", gotModel)
	}
	if gotLang != "en" {
		t.Errorf("language = %q, want en", gotLang)
	}
	if gotFile != "audio.wav" {
		t.Errorf("filename = %q", gotFile)
	}
}

func TestTranscribe_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   stt.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, stt.KindPermission},
		{"bad request", http.StatusBadRequest, stt.KindNotSupported},
		{"server error", http.StatusInternalServerError, stt.KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"x","type":"y"}}`)
			})
			_, err := tr.Transcribe(context.Background(), audio.Clip{Data: []byte("x"), Container: audio.ContainerWebM}, "")
			var se *stt.Error
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *stt.Error", err)
			}
			if se.Kind != tt.want {
				t.Errorf("kind = %q, want %q", se.Kind, tt.want)
			}
		})
	}
}
