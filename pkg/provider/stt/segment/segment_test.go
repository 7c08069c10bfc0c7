package segment_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
	"github.com/MrWong99/voxreel/pkg/provider/stt/mock"
	"github.com/MrWong99/voxreel/pkg/provider/stt/segment"
)

// ---- helpers ----------------------------------------------------------------

// makeSpeechPCM generates a 440 Hz sine at 16 kHz with RMS far above the
// silence threshold.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func makeSilencePCM(samples int) []byte { return make([]byte, samples*2) }

func startSession(t *testing.T, tr stt.Transcriber, cfg stt.StreamConfig, opts ...segment.Option) stt.SessionHandle {
	t.Helper()
	p, err := segment.New(tr, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := p.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// sendUtterance sends 200 ms of speech followed by 600 ms of silence.
func sendUtterance(t *testing.T, h stt.SessionHandle) {
	t.Helper()
	for range 10 {
		if err := h.SendAudio(makeSpeechPCM(320)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	// One-shot sessions end mid-silence, so later chunks may be rejected.
	for range 30 {
		_ = h.SendAudio(makeSilencePCM(320))
	}
}

func waitFinal(t *testing.T, h stt.SessionHandle) (stt.Transcript, bool) {
	t.Helper()
	select {
	case tr, ok := <-h.Finals():
		return tr, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for final transcript")
	}
	return stt.Transcript{}, false
}

// ---- tests ------------------------------------------------------------------

func TestNew_NilTranscriber(t *testing.T) {
	if _, err := segment.New(nil); err == nil {
		t.Fatal("expected error for nil transcriber")
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	p, _ := segment.New(&mock.Transcriber{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSession_SilenceFlushEmitsFinal(t *testing.T) {
	tr := &mock.Transcriber{Results: []string{"next video"}}
	h := startSession(t, tr, stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en", Continuous: true})

	sendUtterance(t, h)

	got, ok := waitFinal(t, h)
	if !ok {
		t.Fatal("finals closed unexpectedly")
	}
	if got.Text != "next video" || !got.IsFinal {
		t.Errorf("final = %+v", got)
	}
	if got.Confidence != stt.DefaultServerConfidence {
		t.Errorf("confidence = %v, want %v", got.Confidence, stt.DefaultServerConfidence)
	}

	if tr.CallCount() != 1 {
		t.Fatalf("transcriber calls = %d, want 1", tr.CallCount())
	}
	call := tr.Calls[0]
	if call.Language != "en" {
		t.Errorf("language = %q", call.Language)
	}
	if call.Clip.Container != audio.ContainerWAV {
		t.Errorf("container = %q, want wav", call.Clip.Container)
	}
	if _, f, ok := call.Clip.PCM(); !ok || f != audio.SpeechFormat {
		t.Errorf("clip not decodable as speech WAV: ok=%v format=%+v", ok, f)
	}
}

func TestSession_LeadingSilenceIsIgnored(t *testing.T) {
	tr := &mock.Transcriber{Results: []string{"x"}}
	h := startSession(t, tr, stt.StreamConfig{SampleRate: 16000, Channels: 1, Continuous: true})

	for range 50 {
		_ = h.SendAudio(makeSilencePCM(320))
	}
	_ = h.Close()

	if tr.CallCount() != 0 {
		t.Errorf("transcriber calls = %d, want 0", tr.CallCount())
	}
}

func TestSession_OneShotEndsAfterFirstFinal(t *testing.T) {
	tr := &mock.Transcriber{Results: []string{"pause"}}
	h := startSession(t, tr, stt.StreamConfig{SampleRate: 16000, Channels: 1})

	sendUtterance(t, h)
	if _, ok := waitFinal(t, h); !ok {
		t.Fatal("expected a final before close")
	}
	if _, ok := waitFinal(t, h); ok {
		t.Fatal("expected Finals to be closed after one-shot result")
	}
	if h.Err() != nil {
		t.Errorf("Err = %v, want nil", h.Err())
	}
}

func TestSession_TranscriberFailureEndsSession(t *testing.T) {
	tr := &mock.Transcriber{Errs: []error{stt.NewError(stt.KindNetwork, "down", nil)}}
	h := startSession(t, tr, stt.StreamConfig{SampleRate: 16000, Channels: 1, Continuous: true})

	sendUtterance(t, h)
	if _, ok := waitFinal(t, h); ok {
		t.Fatal("expected Finals to close on transcriber failure")
	}

	var se *stt.Error
	if !errors.As(h.Err(), &se) || se.Kind != stt.KindNetwork {
		t.Fatalf("Err = %v, want network stt.Error", h.Err())
	}
	if err := h.SendAudio(makeSpeechPCM(10)); err == nil {
		t.Error("SendAudio after failure should return an error")
	}
}

func TestSession_CloseFlushesPendingSpeech(t *testing.T) {
	tr := &mock.Transcriber{Results: []string{"stop"}}
	h := startSession(t, tr, stt.StreamConfig{SampleRate: 16000, Channels: 1, Continuous: true})

	for range 5 {
		_ = h.SendAudio(makeSpeechPCM(320))
	}
	_ = h.Close()

	got, ok := <-h.Finals()
	if !ok || got.Text != "stop" {
		t.Fatalf("final after close = %+v (ok=%v)", got, ok)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	h := startSession(t, &mock.Transcriber{}, stt.StreamConfig{})
	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
