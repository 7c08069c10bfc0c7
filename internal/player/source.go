package player

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// SourceType routes a URL to an adapter variant.
type SourceType string

const (
	SourceYouTube SourceType = "youtube"
	SourceVimeo   SourceType = "vimeo"
	SourceDirect  SourceType = "direct"
	SourceWeb     SourceType = "web"
)

// Source is a detected playable URL.
type Source struct {
	Type SourceType `json:"type"`

	// ID is the provider video ID for YouTube and Vimeo sources.
	ID string `json:"id,omitempty"`

	// URL is the URL as given, trimmed.
	URL string `json:"url"`
}

// EmbedURL returns the URL an adapter loads. YouTube and Vimeo sources get a
// constructed embed URL, everything else loads as given.
func (s Source) EmbedURL() string {
	switch s.Type {
	case SourceYouTube:
		return "https://www.youtube.com/embed/" + s.ID + "?autoplay=1&controls=1&rel=0&modestbranding=1&enablejsapi=1"
	case SourceVimeo:
		return "https://player.vimeo.com/video/" + s.ID + "?autoplay=1"
	default:
		return s.URL
	}
}

var (
	youTubeID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	vimeoID   = regexp.MustCompile(`^[0-9]{6,12}$`)
)

// directExts are file extensions served as plain media.
var directExts = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true, ".webm": true,
	".ogv": true, ".ogg": true, ".mkv": true, ".m3u8": true, ".mpd": true,
}

// Detect classifies raw. YouTube and Vimeo links must carry a well-formed
// video ID. http(s) URLs pointing at media files are direct, other http(s)
// pages are web sources, and file URLs are direct. Anything else is
// [ErrUnsupportedSource].
func Detect(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return Source{}, fmt.Errorf("%w: %q", ErrUnsupportedSource, raw)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "file" && u.Path != "" {
		return Source{Type: SourceDirect, URL: raw}, nil
	}
	if (scheme != "http" && scheme != "https") || u.Hostname() == "" {
		return Source{}, fmt.Errorf("%w: %q", ErrUnsupportedSource, raw)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtube.com", "youtube-nocookie.com", "music.youtube.com":
		return youTube(raw, youTubePathID(u))
	case "youtu.be":
		return youTube(raw, firstSegment(u.Path))
	case "vimeo.com", "player.vimeo.com":
		return vimeo(raw, u)
	}

	if directExts[strings.ToLower(path.Ext(u.Path))] {
		return Source{Type: SourceDirect, URL: raw}, nil
	}
	return Source{Type: SourceWeb, URL: raw}, nil
}

func youTube(raw, id string) (Source, error) {
	if !youTubeID.MatchString(id) {
		return Source{}, fmt.Errorf("%w: no youtube video id in %q", ErrUnsupportedSource, raw)
	}
	return Source{Type: SourceYouTube, ID: id, URL: raw}, nil
}

// youTubePathID extracts the ID from watch, embed, shorts, live and v URLs.
func youTubePathID(u *url.URL) string {
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 2 {
		switch parts[0] {
		case "embed", "shorts", "live", "v":
			return parts[1]
		}
	}
	return ""
}

// vimeo takes the last numeric path segment, which covers plain, channel,
// group and player URLs.
func vimeo(raw string, u *url.URL) (Source, error) {
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if vimeoID.MatchString(parts[i]) {
			return Source{Type: SourceVimeo, ID: parts[i], URL: raw}, nil
		}
	}
	return Source{}, fmt.Errorf("%w: no vimeo video id in %q", ErrUnsupportedSource, raw)
}

func firstSegment(p string) string {
	p = strings.Trim(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
