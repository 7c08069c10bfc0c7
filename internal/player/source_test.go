package player_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxreel/internal/player"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url    string
		typ    player.SourceType
		id     string
		failed bool
	}{
		{url: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", typ: player.SourceYouTube, id: "dQw4w9WgXcQ"},
		{url: "https://m.youtube.com/watch?v=dQw4w9WgXcQ&t=42", typ: player.SourceYouTube, id: "dQw4w9WgXcQ"},
		{url: "https://youtu.be/dQw4w9WgXcQ?si=abc", typ: player.SourceYouTube, id: "dQw4w9WgXcQ"},
		{url: "https://www.youtube.com/shorts/dQw4w9WgXcQ", typ: player.SourceYouTube, id: "dQw4w9WgXcQ"},
		{url: "https://www.youtube.com/embed/dQw4w9WgXcQ", typ: player.SourceYouTube, id: "dQw4w9WgXcQ"},
		{url: "  https://youtube.com/live/dQw4w9WgXcQ  ", typ: player.SourceYouTube, id: "dQw4w9WgXcQ"},
		{url: "https://vimeo.com/76979871", typ: player.SourceVimeo, id: "76979871"},
		{url: "https://vimeo.com/channels/staffpicks/76979871", typ: player.SourceVimeo, id: "76979871"},
		{url: "https://player.vimeo.com/video/76979871?h=abc", typ: player.SourceVimeo, id: "76979871"},
		{url: "https://cdn.example.com/media/clip.MP4", typ: player.SourceDirect},
		{url: "https://cdn.example.com/live/index.m3u8?token=x", typ: player.SourceDirect},
		{url: "file:///sdcard/Movies/holiday.webm", typ: player.SourceDirect},
		{url: "https://videos.example.org/watch/123", typ: player.SourceWeb},

		{url: "", failed: true},
		{url: "not a url", failed: true},
		{url: "ftp://example.com/video.mp4", failed: true},
		{url: "https:///no-host", failed: true},
		{url: "https://www.youtube.com/watch?v=short", failed: true},
		{url: "https://www.youtube.com/feed/trending", failed: true},
		{url: "https://youtu.be/", failed: true},
		{url: "https://vimeo.com/about", failed: true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			src, err := player.Detect(tt.url)
			if tt.failed {
				if !errors.Is(err, player.ErrUnsupportedSource) {
					t.Fatalf("Detect(%q) err = %v, want ErrUnsupportedSource", tt.url, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect(%q): %v", tt.url, err)
			}
			if src.Type != tt.typ || src.ID != tt.id {
				t.Errorf("Detect(%q) = %+v, want type %s id %q", tt.url, src, tt.typ, tt.id)
			}
		})
	}
}

func TestSource_EmbedURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src  player.Source
		want string
	}{
		{
			src:  player.Source{Type: player.SourceYouTube, ID: "dQw4w9WgXcQ"},
			want: "https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1&controls=1&rel=0&modestbranding=1&enablejsapi=1",
		},
		{
			src:  player.Source{Type: player.SourceVimeo, ID: "76979871"},
			want: "https://player.vimeo.com/video/76979871?autoplay=1",
		},
		{
			src:  player.Source{Type: player.SourceDirect, URL: "https://cdn.example.com/a.mp4"},
			want: "https://cdn.example.com/a.mp4",
		},
	}
	for _, tt := range tests {
		if got := tt.src.EmbedURL(); got != tt.want {
			t.Errorf("EmbedURL(%+v) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		got  float64
		want float64
	}{
		{"volume below", player.ClampVolume(-0.5), 0},
		{"volume above", player.ClampVolume(1.7), 1},
		{"volume inside", player.ClampVolume(0.4), 0.4},
		{"rate below", player.ClampRate(0.1), 0.25},
		{"rate above", player.ClampRate(3), 2},
		{"rate inside", player.ClampRate(1.5), 1.5},
		{"time negative", player.ClampTime(-4, 100), 0},
		{"time past end", player.ClampTime(140, 100), 100},
		{"time unknown duration", player.ClampTime(140, 0), 140},
	} {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}
