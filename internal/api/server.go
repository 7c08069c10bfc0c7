// Package api exposes the voice pipeline and the player over HTTP.
//
// Routes:
//
//	POST   /v1/voice/transcript      run text through the voice pipeline
//	GET    /v1/voice/listen          listening state
//	POST   /v1/voice/listen          start listening
//	DELETE /v1/voice/listen          stop listening
//	PUT    /v1/voice/always-listening
//	GET    /v1/settings/voice        persisted voice preferences
//	PUT    /v1/settings/voice
//	POST   /v1/player/load           load one video
//	POST   /v1/player/playlist       replace the playlist
//	POST   /v1/player/next
//	POST   /v1/player/previous
//	POST   /v1/player/command        run a parsed command directly
//	GET    /v1/player/state
//	GET    /v1/bridge                app shell WebSocket
//	GET    /healthz, /readyz, /metrics
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/voxreel/internal/dispatch"
	"github.com/MrWong99/voxreel/internal/health"
	"github.com/MrWong99/voxreel/internal/observe"
	"github.com/MrWong99/voxreel/internal/settings"
	"github.com/MrWong99/voxreel/internal/voice"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Voice is the pipeline side of the API. [*voice.Controller] implements it.
type Voice interface {
	HandleTranscriptIn(ctx context.Context, t stt.Transcript, lang string) voice.Feedback
	AlwaysListening() bool
	SetAlwaysListening(ctx context.Context, on bool) error
}

// Listener starts and stops capture. [*capture.Capture] implements it.
type Listener interface {
	StartListening(ctx context.Context) error
	StopListening() error
	IsListening() bool
	Language() string
}

// Player is the dispatch side of the API. [*dispatch.Manager] implements it.
type Player interface {
	LoadVideo(ctx context.Context, url string) bool
	SetPlaylist(ctx context.Context, urls []string, startIndex int) bool
	PlayNext(ctx context.Context) bool
	PlayPrevious(ctx context.Context) bool
	ExecuteVoiceCommand(ctx context.Context, cmd dispatch.Command) bool
	State() dispatch.State
}

// Preferences reads and applies persisted voice settings.
type Preferences interface {
	VoiceSettings(ctx context.Context) settings.VoiceSettings
	ApplyVoiceSettings(ctx context.Context, s settings.VoiceSettings) error
}

// Config holds the collaborators of a [Server]. Nil optional fields disable
// their routes.
type Config struct {
	Voice       Voice
	Listener    Listener
	Player      Player
	Preferences Preferences

	// Bridge serves /v1/bridge.
	Bridge http.Handler

	// Health serves /healthz and /readyz.
	Health *health.Handler

	// Metrics serves /metrics.
	Metrics http.Handler

	// Telemetry records request metrics. Defaults to [observe.DefaultMetrics].
	Telemetry *observe.Metrics
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	cfg     Config
	handler http.Handler
}

// New builds the route table.
func New(cfg Config) *Server {
	if cfg.Telemetry == nil {
		cfg.Telemetry = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	if cfg.Voice != nil {
		mux.HandleFunc("POST /v1/voice/transcript", s.handleTranscript)
		mux.HandleFunc("PUT /v1/voice/always-listening", s.handleAlwaysListening)
	}
	if cfg.Listener != nil {
		mux.HandleFunc("GET /v1/voice/listen", s.handleListenState)
		mux.HandleFunc("POST /v1/voice/listen", s.handleListenStart)
		mux.HandleFunc("DELETE /v1/voice/listen", s.handleListenStop)
	}
	if cfg.Preferences != nil {
		mux.HandleFunc("GET /v1/settings/voice", s.handleGetSettings)
		mux.HandleFunc("PUT /v1/settings/voice", s.handlePutSettings)
	}
	if cfg.Player != nil {
		mux.HandleFunc("POST /v1/player/load", s.handleLoad)
		mux.HandleFunc("POST /v1/player/playlist", s.handlePlaylist)
		mux.HandleFunc("POST /v1/player/next", s.handleNext)
		mux.HandleFunc("POST /v1/player/previous", s.handlePrevious)
		mux.HandleFunc("POST /v1/player/command", s.handleCommand)
		mux.HandleFunc("GET /v1/player/state", s.handleState)
	}
	if cfg.Bridge != nil {
		mux.Handle("GET /v1/bridge", cfg.Bridge)
	}
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	s.handler = observe.Middleware(cfg.Telemetry)(mux)
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ─── voice ────────────────────────────────────────────────────────────────────

type transcriptRequest struct {
	Text       string   `json:"text"`
	Language   string   `json:"language"`
	Confidence *float64 `json:"confidence"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	conf := 1.0
	if req.Confidence != nil {
		if *req.Confidence < 0 || *req.Confidence > 1 {
			writeError(w, http.StatusBadRequest, "confidence must be within [0, 1]")
			return
		}
		conf = *req.Confidence
	}
	fb := s.cfg.Voice.HandleTranscriptIn(r.Context(), stt.Transcript{Text: req.Text, IsFinal: true, Confidence: conf}, req.Language)
	writeJSON(w, http.StatusOK, fb)
}

type listenState struct {
	Listening       bool   `json:"listening"`
	AlwaysListening bool   `json:"always_listening"`
	Language        string `json:"language"`
}

func (s *Server) listenState() listenState {
	st := listenState{Listening: s.cfg.Listener.IsListening(), Language: s.cfg.Listener.Language()}
	if s.cfg.Voice != nil {
		st.AlwaysListening = s.cfg.Voice.AlwaysListening()
	}
	return st
}

func (s *Server) handleListenState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.listenState())
}

func (s *Server) handleListenStart(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Listener.StartListening(r.Context()); err != nil {
		slog.Warn("api: start listening failed", "err", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.listenState())
}

func (s *Server) handleListenStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.cfg.Listener.StopListening(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.listenState())
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleAlwaysListening(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := s.cfg.Voice.SetAlwaysListening(r.Context(), *req.Enabled); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"always_listening": s.cfg.Voice.AlwaysListening()})
}

// ─── settings ─────────────────────────────────────────────────────────────────

type voiceSettingsBody struct {
	Language        string          `json:"language"`
	AlwaysListening bool            `json:"always_listening"`
	Background      json.RawMessage `json:"background"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	vs := s.cfg.Preferences.VoiceSettings(r.Context())
	bg, err := settings.EncodeBackgroundConfig(vs.Background)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, voiceSettingsBody{Language: vs.Language, AlwaysListening: vs.AlwaysListening, Background: bg})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var body voiceSettingsBody
	if !decode(w, r, &body) {
		return
	}
	vs := s.cfg.Preferences.VoiceSettings(r.Context())
	if body.Language != "" {
		vs.Language = body.Language
	}
	vs.AlwaysListening = body.AlwaysListening
	if len(body.Background) > 0 {
		bg, err := settings.DecodeBackgroundConfig(body.Background)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		vs.Background = bg
	}
	if err := s.cfg.Preferences.ApplyVoiceSettings(r.Context(), vs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.handleGetSettings(w, r)
}

// ─── player ───────────────────────────────────────────────────────────────────

type loadRequest struct {
	URL string `json:"url"`
}

type playlistRequest struct {
	URLs       []string `json:"urls"`
	StartIndex int      `json:"start_index"`
}

type commandResponse struct {
	OK    bool           `json:"ok"`
	State dispatch.State `json:"state"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if !decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	s.respond(w, s.cfg.Player.LoadVideo(r.Context(), req.URL))
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls must not be empty")
		return
	}
	s.respond(w, s.cfg.Player.SetPlaylist(r.Context(), req.URLs, req.StartIndex))
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.cfg.Player.PlayNext(r.Context()))
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.cfg.Player.PlayPrevious(r.Context()))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd dispatch.Command
	if !decode(w, r, &cmd) {
		return
	}
	if cmd.Intent == "" {
		writeError(w, http.StatusBadRequest, "intent is required")
		return
	}
	s.respond(w, s.cfg.Player.ExecuteVoiceCommand(r.Context(), cmd))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Player.State())
}

// respond reports a player outcome. A rejected operation is a 422 carrying
// the current state.
func (s *Server) respond(w http.ResponseWriter, ok bool) {
	status := http.StatusOK
	if !ok {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, commandResponse{OK: ok, State: s.cfg.Player.State()})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is empty")
		default:
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}
