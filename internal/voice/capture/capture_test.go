package capture_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxreel/internal/voice/capture"
	"github.com/MrWong99/voxreel/pkg/audio"
	audiomock "github.com/MrWong99/voxreel/pkg/audio/mock"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxreel/pkg/provider/stt/mock"
	"github.com/MrWong99/voxreel/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxreel/pkg/provider/vad/mock"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

type collector struct {
	ch chan capture.Event
}

func collect(t *testing.T, c *capture.Capture) *collector {
	t.Helper()
	col := &collector{ch: make(chan capture.Event, 256)}
	// Drop on overflow so tight continuous loops never block the session.
	unsub := c.Subscribe(func(ev capture.Event) {
		select {
		case col.ch <- ev:
		default:
		}
	})
	t.Cleanup(unsub)
	return col
}

// next returns the next event or fails after a timeout.
func (col *collector) next(t *testing.T) capture.Event {
	t.Helper()
	select {
	case ev := <-col.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for capture event")
		return capture.Event{}
	}
}

// until skips events until one of type typ arrives.
func (col *collector) until(t *testing.T, typ capture.EventType) capture.Event {
	t.Helper()
	for {
		if ev := col.next(t); ev.Type == typ {
			return ev
		}
	}
}

func (col *collector) expect(t *testing.T, types ...capture.EventType) []capture.Event {
	t.Helper()
	evs := make([]capture.Event, 0, len(types))
	for i, want := range types {
		ev := col.next(t)
		if ev.Type != want {
			t.Fatalf("event %d: got %s, want %s (%+v)", i, ev.Type, want, ev)
		}
		evs = append(evs, ev)
	}
	return evs
}

type netErr struct{}

func (netErr) Error() string   { return "connection reset" }
func (netErr) Timeout() bool   { return false }
func (netErr) Temporary() bool { return false }

var _ net.Error = netErr{}

func speechClip(t *testing.T) audio.Clip {
	t.Helper()
	return audio.Clip{
		Data:      audio.EncodeWAV(make([]byte, 16000*2), audio.SpeechFormat),
		Container: audio.ContainerWAV,
		Format:    audio.SpeechFormat,
		Duration:  time.Second,
	}
}

// ─── engine strategy ──────────────────────────────────────────────────────────

func TestEngine_OneShotInterimThenFinal(t *testing.T) {
	sess := sttmock.NewSession()
	prov := &sttmock.Provider{Session: sess}
	c := capture.New(capture.NewEngineStrategy(prov), capture.WithLanguage("de-DE"))
	col := collect(t, c)

	if err := c.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	start := col.expect(t, capture.EventStart)[0]
	if start.SessionID == "" {
		t.Error("missing session ID")
	}

	sess.EmitPartial("pau")
	partial := col.expect(t, capture.EventResult)[0]
	if partial.Transcript.IsFinal || partial.Transcript.Text != "pau" {
		t.Errorf("partial = %+v", partial.Transcript)
	}

	sess.EmitFinal("pause", 0.92)
	evs := col.expect(t, capture.EventResult, capture.EventEnd)
	final := evs[0].Transcript
	if !final.IsFinal || final.Text != "pause" || final.Confidence != 0.92 {
		t.Errorf("final = %+v", final)
	}
	if evs[1].SessionID != start.SessionID {
		t.Errorf("end session %q, want %q", evs[1].SessionID, start.SessionID)
	}

	if c.IsListening() {
		t.Error("one-shot capture still listening after final")
	}
	if !sess.Closed() {
		t.Error("engine session not closed")
	}
	cfg := prov.StartStreamCalls[0].Cfg
	if cfg.Language != "de-DE" || cfg.Continuous || !cfg.Interim {
		t.Errorf("stream config = %+v", cfg)
	}
}

func TestEngine_MissingConfidenceFallsBack(t *testing.T) {
	sess := sttmock.NewSession()
	c := capture.New(capture.NewEngineStrategy(&sttmock.Provider{Session: sess}))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	col.expect(t, capture.EventStart)
	sess.EmitFinal("play", 0)
	ev := col.expect(t, capture.EventResult)[0]
	if ev.Transcript.Confidence != stt.DefaultServerConfidence {
		t.Errorf("confidence = %v, want %v", ev.Transcript.Confidence, stt.DefaultServerConfidence)
	}
}

func TestEngine_ContinuousKeepsListening(t *testing.T) {
	sess := sttmock.NewSession()
	c := capture.New(capture.NewEngineStrategy(&sttmock.Provider{Session: sess}), capture.WithContinuous(true))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	col.expect(t, capture.EventStart)

	sess.EmitFinal("play", 0.9)
	col.expect(t, capture.EventResult)
	sess.EmitFinal("pause", 0.9)
	col.expect(t, capture.EventResult)

	if !c.IsListening() {
		t.Fatal("continuous capture stopped after a final")
	}
	if err := c.StopListening(); err != nil {
		t.Fatalf("StopListening: %v", err)
	}
	col.expect(t, capture.EventEnd)
	if c.IsListening() {
		t.Error("still listening after StopListening")
	}
	if !sess.Closed() {
		t.Error("engine session not closed on stop")
	}
}

func TestEngine_PermissionDenied(t *testing.T) {
	denied := make(chan struct{}, 1)
	prov := &sttmock.Provider{StartStreamErr: stt.NewError(stt.KindPermission, "microphone blocked", nil)}
	c := capture.New(capture.NewEngineStrategy(prov),
		capture.WithOnPermissionDenied(func() { denied <- struct{}{} }))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	evs := col.expect(t, capture.EventStart, capture.EventError, capture.EventEnd)
	if evs[1].Err.Kind != stt.KindPermission {
		t.Errorf("error kind = %s, want permission", evs[1].Err.Kind)
	}
	select {
	case <-denied:
	case <-time.After(time.Second):
		t.Fatal("permission hook not called")
	}
	if c.IsListening() {
		t.Error("capture still listening after permission error")
	}
}

func TestEngine_SessionFailure(t *testing.T) {
	sess := sttmock.NewSession()
	c := capture.New(capture.NewEngineStrategy(&sttmock.Provider{Session: sess}), capture.WithContinuous(true))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	col.expect(t, capture.EventStart)
	sess.Fail(stt.NewError(stt.KindNetwork, "socket dropped", nil))

	evs := col.expect(t, capture.EventError, capture.EventEnd)
	if evs[0].Err.Kind != stt.KindNetwork {
		t.Errorf("error kind = %s, want network", evs[0].Err.Kind)
	}
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	prov := &sttmock.Provider{Session: sttmock.NewSession()}
	c := capture.New(capture.NewEngineStrategy(prov), capture.WithContinuous(true))
	col := collect(t, c)
	t.Cleanup(func() { _ = c.Close() })

	for range 3 {
		if err := c.StartListening(context.Background()); err != nil {
			t.Fatalf("StartListening: %v", err)
		}
	}
	col.expect(t, capture.EventStart)
	if n := prov.CallCount(); n != 1 {
		t.Errorf("StartStream calls = %d, want 1", n)
	}
	if c.Mode() != capture.ModeEngine {
		t.Errorf("Mode = %s", c.Mode())
	}
}

func TestStopListening_IdleIsSafe(t *testing.T) {
	c := capture.New(capture.NewEngineStrategy(&sttmock.Provider{}))
	if err := c.StopListening(); err != nil {
		t.Fatalf("StopListening: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEngine_SourceFramesAreConverted(t *testing.T) {
	sess := sttmock.NewSession()
	src := audiomock.NewSource(4)
	c := capture.New(capture.NewEngineStrategy(&sttmock.Provider{Session: sess}, capture.WithSource(src)),
		capture.WithContinuous(true))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	col.expect(t, capture.EventStart)

	// 20ms of 48kHz stereo becomes 20ms of 16kHz mono.
	src.Push(audio.Frame{Data: make([]byte, 960*2*2), Format: audio.Format{SampleRate: 48000, Channels: 2}})

	deadline := time.Now().Add(2 * time.Second)
	for len(sess.SentAudio()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no audio forwarded to engine")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(sess.SentAudio()[0]); got != 320*2 {
		t.Errorf("forwarded %d bytes, want %d", got, 320*2)
	}

	_ = c.StopListening()
	if src.CallCountStop == 0 {
		t.Error("source not stopped")
	}
}

// slowSession blocks SendAudio until released and records whether Close
// ran while a send was still in flight.
type slowSession struct {
	*sttmock.Session
	entered chan struct{}
	release chan struct{}
	sending atomic.Bool
	overlap atomic.Bool
	once    sync.Once
}

func (s *slowSession) SendAudio(chunk []byte) error {
	s.sending.Store(true)
	defer s.sending.Store(false)
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Session.SendAudio(chunk)
}

func (s *slowSession) Close() error {
	if s.sending.Load() {
		s.overlap.Store(true)
	}
	return s.Session.Close()
}

func TestEngine_HandleClosesAfterPumpReturns(t *testing.T) {
	sess := &slowSession{
		Session: sttmock.NewSession(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	src := audiomock.NewSource(4)
	c := capture.New(capture.NewEngineStrategy(&sttmock.Provider{Session: sess}, capture.WithSource(src)))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	col.expect(t, capture.EventStart)

	src.Push(audio.Frame{Data: make([]byte, 640), Format: audio.SpeechFormat})
	select {
	case <-sess.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("pump never sent audio")
	}

	sess.EmitFinal("pause", 0.9)
	time.AfterFunc(50*time.Millisecond, func() { close(sess.release) })
	col.until(t, capture.EventEnd)

	if !sess.Closed() {
		t.Fatal("engine session not closed")
	}
	if sess.overlap.Load() {
		t.Error("session closed while SendAudio was still running")
	}
}

func TestPublish_PanickingSubscriberIsIsolated(t *testing.T) {
	sess := sttmock.NewSession()
	c := capture.New(capture.NewEngineStrategy(&sttmock.Provider{Session: sess}))
	c.Subscribe(func(capture.Event) { panic("boom") })
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	sess.EmitFinal("stop", 1)
	col.expect(t, capture.EventStart, capture.EventResult, capture.EventEnd)
}

// ─── recorder strategy ────────────────────────────────────────────────────────

func TestRecorder_TranscribesClip(t *testing.T) {
	clip := audio.Clip{Data: []byte("webm-bytes"), Container: audio.ContainerWebM}
	rec := &audiomock.Recorder{Clips: []audio.Clip{clip}}
	tr := &sttmock.Transcriber{Results: []string{"  volume up \n"}}
	c := capture.New(capture.NewRecorderStrategy(rec, tr), capture.WithLanguage("en-GB"))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	evs := col.expect(t, capture.EventStart, capture.EventResult, capture.EventEnd)

	got := evs[1].Transcript
	if got.Text != "volume up" || !got.IsFinal || got.Confidence != 0.85 {
		t.Errorf("transcript = %+v", got)
	}
	if rec.RecordCalls[0] != 5*time.Second {
		t.Errorf("recorded %v, want 5s", rec.RecordCalls[0])
	}
	if call := tr.Calls[0]; call.Language != "en-GB" || string(call.Clip.Data) != "webm-bytes" {
		t.Errorf("transcribe call = %+v", call)
	}
	if c.Mode() != capture.ModeRecorder {
		t.Errorf("Mode = %s", c.Mode())
	}
}

func TestRecorder_EmptyTextIsNoSpeech(t *testing.T) {
	rec := &audiomock.Recorder{Clips: []audio.Clip{{Data: []byte{1}, Container: audio.ContainerWebM}}}
	tr := &sttmock.Transcriber{Results: []string{""}}
	c := capture.New(capture.NewRecorderStrategy(rec, tr))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	evs := col.expect(t, capture.EventStart, capture.EventError, capture.EventEnd)
	if evs[1].Err.Kind != stt.KindNoSpeech || evs[1].Err.Message != "No speech detected" {
		t.Errorf("err = %+v", evs[1].Err)
	}
}

func TestRecorder_NetworkErrorStopsContinuousLoop(t *testing.T) {
	rec := &audiomock.Recorder{Clips: []audio.Clip{{Data: []byte{1}, Container: audio.ContainerWebM}}}
	tr := &sttmock.Transcriber{Errs: []error{netErr{}}}
	c := capture.New(capture.NewRecorderStrategy(rec, tr), capture.WithContinuous(true))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	evs := col.expect(t, capture.EventStart, capture.EventError, capture.EventEnd)
	if evs[1].Err.Kind != stt.KindNetwork {
		t.Errorf("kind = %s, want network", evs[1].Err.Kind)
	}
	if n := tr.CallCount(); n != 1 {
		t.Errorf("transcribe calls = %d, want 1 (no silent retry)", n)
	}
	var nerr net.Error
	if !errors.As(evs[1].Err, &nerr) {
		t.Error("cause not preserved")
	}
}

func TestRecorder_ContinuousSurvivesNoSpeech(t *testing.T) {
	rec := &audiomock.Recorder{Clips: []audio.Clip{{Data: []byte{1}, Container: audio.ContainerWebM}}}
	tr := &sttmock.Transcriber{Results: []string{"", "next"}}
	c := capture.New(capture.NewRecorderStrategy(rec, tr), capture.WithContinuous(true))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	col.expect(t, capture.EventStart, capture.EventError)
	res := col.until(t, capture.EventResult)
	if res.Transcript.Text != "next" {
		t.Errorf("text = %q", res.Transcript.Text)
	}
	_ = c.StopListening()
	if c.IsListening() {
		t.Error("still listening after StopListening")
	}
}

func TestRecorder_VADSkipsSilentClips(t *testing.T) {
	rec := &audiomock.Recorder{Clips: []audio.Clip{speechClip(t)}}
	tr := &sttmock.Transcriber{Results: []string{"play"}}
	eng := &vadmock.Engine{Script: []vad.Activity{vad.Silence}}
	s := capture.NewRecorderStrategy(rec, tr, capture.WithVAD(eng, vad.Config{SampleRate: 16000, FrameSizeMs: 20}))
	c := capture.New(s)
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	evs := col.expect(t, capture.EventStart, capture.EventError, capture.EventEnd)
	if evs[1].Err.Kind != stt.KindNoSpeech {
		t.Errorf("kind = %s, want no-speech", evs[1].Err.Kind)
	}
	if n := tr.CallCount(); n != 0 {
		t.Errorf("silent clip was uploaded (%d calls)", n)
	}
}

func TestRecorder_VADPassesSpeech(t *testing.T) {
	rec := &audiomock.Recorder{Clips: []audio.Clip{speechClip(t)}}
	tr := &sttmock.Transcriber{Results: []string{"play"}}
	eng := &vadmock.Engine{Script: []vad.Activity{vad.SpeechStart, vad.Speech}}
	c := capture.New(capture.NewRecorderStrategy(rec, tr, capture.WithVAD(eng, vad.Config{SampleRate: 16000, FrameSizeMs: 20})))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	evs := col.expect(t, capture.EventStart, capture.EventResult, capture.EventEnd)
	if evs[1].Transcript.Text != "play" {
		t.Errorf("text = %q", evs[1].Transcript.Text)
	}
}

func TestRecorder_VADIgnoresShortNoise(t *testing.T) {
	rec := &audiomock.Recorder{Clips: []audio.Clip{speechClip(t)}}
	tr := &sttmock.Transcriber{Results: []string{"play"}}
	eng := &vadmock.Engine{Script: []vad.Activity{vad.SpeechStart, vad.SpeechEnd, vad.Silence}}
	vcfg := vad.Config{SampleRate: 16000, FrameSizeMs: 20, MinSpeechFrames: 3}
	c := capture.New(capture.NewRecorderStrategy(rec, tr, capture.WithVAD(eng, vcfg)))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	evs := col.expect(t, capture.EventStart, capture.EventError, capture.EventEnd)
	if evs[1].Err.Kind != stt.KindNoSpeech {
		t.Errorf("kind = %s, want no-speech", evs[1].Err.Kind)
	}
	if tr.CallCount() != 0 {
		t.Error("a single voiced frame was sent for transcription")
	}
}

func TestRecorder_ClipDetectorDecides(t *testing.T) {
	rec := &audiomock.Recorder{Clips: []audio.Clip{speechClip(t)}}
	tr := &sttmock.Transcriber{Results: []string{"pause"}}
	eng := &vadmock.ClipEngine{Verdict: vad.Verdict{Speech: true, SpeechFrames: 12}}
	c := capture.New(capture.NewRecorderStrategy(rec, tr, capture.WithVAD(eng, vad.Config{SampleRate: 16000, FrameSizeMs: 30})))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	evs := col.expect(t, capture.EventStart, capture.EventResult, capture.EventEnd)
	if evs[1].Transcript.Text != "pause" {
		t.Errorf("text = %q", evs[1].Transcript.Text)
	}
	clips := eng.Clips()
	if len(clips) != 1 || len(clips[0]) != 16000*2 {
		t.Errorf("clip-level detector saw %d clips", len(clips))
	}
}

func TestRecorder_StopWhileRecordingEmitsNoError(t *testing.T) {
	rec := &audiomock.Recorder{Block: true}
	tr := &sttmock.Transcriber{}
	c := capture.New(capture.NewRecorderStrategy(rec, tr, capture.WithDuration(time.Minute)))
	col := collect(t, c)

	_ = c.StartListening(context.Background())
	col.expect(t, capture.EventStart)
	for rec.CallCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	_ = c.StopListening()
	col.expect(t, capture.EventEnd)
	if tr.CallCount() != 0 {
		t.Error("transcriber called after stop")
	}
}

func TestStartListening_DetachedFromCallerContext(t *testing.T) {
	sess := sttmock.NewSession()
	c := capture.New(capture.NewEngineStrategy(&sttmock.Provider{Session: sess}), capture.WithContinuous(true))
	col := collect(t, c)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	_ = c.StartListening(ctx)
	col.expect(t, capture.EventStart)
	cancel()

	sess.EmitFinal("play", 1)
	col.expect(t, capture.EventResult)
	if !c.IsListening() {
		t.Error("cancelling the caller context ended the session")
	}
}
