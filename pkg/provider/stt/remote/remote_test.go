package remote_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
	"github.com/MrWong99/voxreel/pkg/provider/stt/remote"
)

// ---- helpers ----------------------------------------------------------------

type received struct {
	field    string
	filename string
	mime     string
	data     []byte
	language string
	auth     string
}

// newServer answers every POST with status and body, recording what it got.
func newServer(t *testing.T, status int, body string, got *received) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if got != nil {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("ParseMultipartForm: %v", err)
			}
			got.auth = r.Header.Get("Authorization")
			got.language = r.FormValue("language")
			for name, files := range r.MultipartForm.File {
				got.field = name
				got.filename = files[0].Filename
				got.mime = files[0].Header.Get("Content-Type")
				f, _ := files[0].Open()
				got.data, _ = io.ReadAll(f)
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func webmClip() audio.Clip {
	return audio.Clip{Data: []byte("fake-webm-bytes"), Container: audio.ContainerWebM}
}

func kindOf(t *testing.T, err error) stt.Kind {
	t.Helper()
	var se *stt.Error
	if !errors.As(err, &se) {
		t.Fatalf("err = %v (%T), want *stt.Error", err, err)
	}
	return se.Kind
}

// ---- tests ------------------------------------------------------------------

func TestNew_EmptyEndpoint_ReturnsError(t *testing.T) {
	if _, err := remote.New(""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestTranscribe_SendsMultipartAndReturnsText(t *testing.T) {
	var got received
	srv := newServer(t, http.StatusOK, `{"text":"pause the video"}`, &got)

	tr, _ := remote.New(srv.URL, remote.WithAPIKey("secret"))
	text, err := tr.Transcribe(context.Background(), webmClip(), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "pause the video" {
		t.Errorf("text = %q", text)
	}
	if got.field != "audio" {
		t.Errorf("field = %q, want audio", got.field)
	}
	if got.filename != "audio.webm" || got.mime != "audio/webm" {
		t.Errorf("file = %q (%q)", got.filename, got.mime)
	}
	if string(got.data) != "fake-webm-bytes" {
		t.Errorf("data = %q", got.data)
	}
	if got.language != "en" {
		t.Errorf("language = %q", got.language)
	}
	if got.auth != "Bearer secret" {
		t.Errorf("auth = %q", got.auth)
	}
}

func TestTranscribe_OmitsEmptyLanguage(t *testing.T) {
	var got received
	srv := newServer(t, http.StatusOK, `{"text":"x"}`, &got)

	tr, _ := remote.New(srv.URL)
	if _, err := tr.Transcribe(context.Background(), webmClip(), ""); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.language != "" {
		t.Errorf("language = %q, want empty", got.language)
	}
}

func TestTranscribe_EmptyTextIsNotAnError(t *testing.T) {
	for _, body := range []string{`{"text":""}`, `{}`, ``} {
		srv := newServer(t, http.StatusOK, body, nil)
		tr, _ := remote.New(srv.URL)
		text, err := tr.Transcribe(context.Background(), webmClip(), "en")
		if err != nil || text != "" {
			t.Errorf("body %q: got (%q, %v), want empty text and nil error", body, text, err)
		}
	}
}

func TestTranscribe_ServerErrorIsNetwork(t *testing.T) {
	srv := newServer(t, http.StatusBadGateway, `upstream down`, nil)
	tr, _ := remote.New(srv.URL)
	_, err := tr.Transcribe(context.Background(), webmClip(), "en")
	if k := kindOf(t, err); k != stt.KindNetwork {
		t.Errorf("kind = %q, want network", k)
	}
}

func TestTranscribe_UnauthorizedIsPermission(t *testing.T) {
	srv := newServer(t, http.StatusUnauthorized, `nope`, nil)
	tr, _ := remote.New(srv.URL)
	_, err := tr.Transcribe(context.Background(), webmClip(), "en")
	if k := kindOf(t, err); k != stt.KindPermission {
		t.Errorf("kind = %q, want permission", k)
	}
}

func TestTranscribe_UnreachableIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, _ := remote.New(url)
	_, err := tr.Transcribe(context.Background(), webmClip(), "en")
	if k := kindOf(t, err); k != stt.KindNetwork {
		t.Errorf("kind = %q, want network", k)
	}
}

func TestTranscribe_MalformedJSONIsNetwork(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"text":`, nil)
	tr, _ := remote.New(srv.URL)
	_, err := tr.Transcribe(context.Background(), webmClip(), "en")
	if k := kindOf(t, err); k != stt.KindNetwork {
		t.Errorf("kind = %q, want network", k)
	}
}
