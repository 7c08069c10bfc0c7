package webview

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
)

// recordSlack is added to the clip duration when waiting for the shell.
const recordSlack = 5 * time.Second

// Recorder records clips with the device's media recorder.
type Recorder struct {
	bridge *Bridge
}

var _ audio.Recorder = (*Recorder)(nil)

// NewRecorder returns a recorder that runs on the shell connected to b.
func NewRecorder(b *Bridge) *Recorder {
	return &Recorder{bridge: b}
}

// Record asks the shell for a clip of length d. Cancelling ctx abandons the
// request; the shell is expected to release the microphone once the
// connection-side request times out or the clip is done.
func (r *Recorder) Record(ctx context.Context, d time.Duration) (audio.Clip, error) {
	s, err := r.bridge.Session()
	if err != nil {
		return audio.Clip{}, stt.NewError(stt.KindNotSupported, "recorder unavailable", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, d+recordSlack)
	defer cancel()

	var res recordResult
	if err := s.Call(callCtx, MethodRecord, recordParams{DurationMS: d.Milliseconds()}, &res); err != nil {
		if ctx.Err() != nil {
			return audio.Clip{}, ctx.Err()
		}
		if rerr, ok := asRemote(err); ok {
			return audio.Clip{}, stt.NewError(parseKind(rerr.Code), rerr.Message, err)
		}
		if errors.Is(err, ErrClosed) {
			return audio.Clip{}, errShellGone
		}
		return audio.Clip{}, stt.NewError(stt.KindNetwork, "device recording", err)
	}
	if len(res.Data) == 0 {
		return audio.Clip{}, stt.ErrNoSpeech()
	}

	clip := audio.Clip{
		Data:      res.Data,
		Container: audio.Container(res.Container),
		Format:    audio.Format{SampleRate: res.SampleRate, Channels: res.Channels},
		Duration:  time.Duration(res.DurationMS) * time.Millisecond,
	}
	if clip.Container == "" {
		clip.Container = audio.ContainerWebM
	}
	if clip.Duration == 0 {
		clip.Duration = d
	}
	if _, f, ok := clip.PCM(); ok && clip.Format.SampleRate == 0 {
		clip.Format = f
	}
	return clip, nil
}
