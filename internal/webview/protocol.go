package webview

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the frame exchanged with the shell in both directions.
//
// Requests carry an ID and expect exactly one [TypeResponse] envelope with
// the same ID. Events carry no ID and expect no reply.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Error is set on failed responses.
	Error *RemoteError `json:"error,omitempty"`
}

// RemoteError is a failure reported by the shell.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return "webview: remote: " + e.Message
	}
	return fmt.Sprintf("webview: remote %s: %s", e.Code, e.Message)
}

// TypeResponse marks a reply to a request.
const TypeResponse = "response"

// Requests sent to the shell.
const (
	MethodLoad          = "webview.load"
	MethodInject        = "webview.inject"
	MethodFramePost     = "frame.post"
	MethodFrameFull     = "frame.fullscreen"
	MethodMediaOpen     = "media.open"
	MethodMediaCall     = "media.call"
	MethodMediaState    = "media.state"
	MethodMediaClose    = "media.close"
	MethodSpeechStart   = "speech.start"
	MethodSpeechStop    = "speech.stop"
	MethodRecord        = "recorder.record"
	MethodNotifyPerm    = "notify.permission"
	MethodNotifyShow    = "notify.show"
	MethodNotifyDismiss = "notify.dismiss"
)

// Events sent by the shell.
const (
	EventHello        = "hello"
	EventSpeechResult = "speech.result"
	EventSpeechError  = "speech.error"
	EventSpeechEnd    = "speech.end"
	EventFrameMessage = "frame.message"
	EventAppState     = "app.state"
	EventVisibility   = "visibility"
)

// Events sent to the shell.
const (
	EventPlayerState   = "player.state"
	EventVoiceFeedback = "voice.feedback"
)

// Hello is the first event a shell sends after connecting.
type Hello struct {
	Platform string `json:"platform"`
	Version  string `json:"version,omitempty"`
}

type loadParams struct {
	URL string `json:"url"`
}

type injectParams struct {
	Script string `json:"script"`
}

type framePostParams struct {
	Message any `json:"message"`
}

type fullscreenParams struct {
	On bool `json:"on"`
}

type mediaOpenResult struct {
	ElementID string `json:"element_id"`
}

type mediaCallParams struct {
	ElementID string `json:"element_id"`
	Method    string `json:"method"`
	Value     any    `json:"value"`
}

type mediaRef struct {
	ElementID string `json:"element_id"`
}

type speechStartParams struct {
	Session    string `json:"session"`
	Language   string `json:"language"`
	Continuous bool   `json:"continuous"`
	Interim    bool   `json:"interim"`
}

type speechRef struct {
	Session string `json:"session"`
}

// speechResult is the payload of [EventSpeechResult].
type speechResult struct {
	Session    string  `json:"session"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

// speechError is the payload of [EventSpeechError]. Kind uses the
// recognition error kinds (no-speech, permission, network, ...).
type speechError struct {
	Session string `json:"session"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type recordParams struct {
	DurationMS int64 `json:"duration_ms"`
}

// recordResult carries the clip. Data is base64 in JSON.
type recordResult struct {
	Data       []byte `json:"data"`
	Container  string `json:"container"`
	DurationMS int64  `json:"duration_ms"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

type permissionResult struct {
	Granted bool `json:"granted"`
}

type notifyShowResult struct {
	ID string `json:"id"`
}

type notifyDismissParams struct {
	ID string `json:"id"`
}

type appStateEvent struct {
	State string `json:"state"`
}

type visibilityEvent struct {
	Visible bool `json:"visible"`
}

func asRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	ok := errors.As(err, &re)
	return re, ok
}
