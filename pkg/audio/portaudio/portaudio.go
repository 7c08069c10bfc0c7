// Package portaudio captures microphone audio through PortAudio. A single
// [Mic] serves as both an [audio.Source] for streaming engines and an
// [audio.Recorder] for the record-then-transcribe path.
//
// PortAudio is a process-global C library: call [Mic.Close] once the Mic is no
// longer needed so that Pa_Terminate balances Pa_Initialize.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxreel/pkg/audio"
)

const (
	defaultFramesPerBuffer = 512
	frameQueue             = 64
)

// ErrBusy is returned when Record or Start is called while the microphone is
// already capturing.
var ErrBusy = errors.New("portaudio: microphone already in use")

// Option configures a [Mic].
type Option func(*Mic)

// WithFormat sets the capture format. Defaults to [audio.SpeechFormat].
func WithFormat(f audio.Format) Option {
	return func(m *Mic) { m.format = f }
}

// WithFramesPerBuffer sets the PortAudio buffer size in frames.
func WithFramesPerBuffer(n int) Option {
	return func(m *Mic) { m.framesPerBuffer = n }
}

// WithDevice selects an input device by name. Unknown names fall back to the
// system default input.
func WithDevice(name string) Option {
	return func(m *Mic) { m.device = name }
}

var _ audio.Device = (*Mic)(nil)

// Mic is a PortAudio-backed microphone.
type Mic struct {
	format          audio.Format
	framesPerBuffer int
	device          string

	mu      sync.Mutex
	stream  *portaudio.Stream
	frames  chan audio.Frame
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New initialises PortAudio and returns a Mic.
func New(opts ...Option) (*Mic, error) {
	m := &Mic{
		format:          audio.SpeechFormat,
		framesPerBuffer: defaultFramesPerBuffer,
	}
	for _, o := range opts {
		o(m)
	}
	if m.format.SampleRate <= 0 || m.format.Channels <= 0 {
		return nil, fmt.Errorf("portaudio: invalid format %+v", m.format)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return m, nil
}

// Start implements [audio.Source]. Frames are delivered until Stop is called
// or ctx is cancelled.
func (m *Mic) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrBusy
	}

	buf := make([]int16, m.framesPerBuffer*m.format.Channels)
	stream, err := m.open(buf)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.stream = stream
	m.frames = make(chan audio.Frame, frameQueue)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.readLoop(loopCtx, stream, buf, m.frames, m.done)
	return nil
}

// Frames implements [audio.Source].
func (m *Mic) Frames() <-chan audio.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Stop implements [audio.Source]. Safe to call when not capturing.
func (m *Mic) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	stream, cancel, done := m.stream, m.cancel, m.done
	m.stream = nil
	m.mu.Unlock()

	cancel()
	<-done

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
	}
	return errors.Join(errs...)
}

// Record implements [audio.Recorder]. It captures d of audio and returns it
// as a WAV clip. Cancelling ctx aborts the recording and releases the stream.
func (m *Mic) Record(ctx context.Context, d time.Duration) (audio.Clip, error) {
	recCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	if err := m.Start(recCtx); err != nil {
		return audio.Clip{}, err
	}
	frames := m.Frames()

	var pcm []byte
	for f := range frames {
		pcm = append(pcm, f.Data...)
	}
	stopErr := m.Stop()

	// Only the caller's cancellation is an error; our own timeout ends the clip.
	if err := ctx.Err(); err != nil {
		return audio.Clip{}, err
	}
	if stopErr != nil {
		slog.Warn("portaudio: stop after record", "err", stopErr)
	}
	return audio.Clip{
		Data:      audio.EncodeWAV(pcm, m.format),
		Container: audio.ContainerWAV,
		Format:    m.format,
		Duration:  time.Duration(audio.DurationOf(pcm, m.format)) * time.Millisecond,
	}, nil
}

// Close stops any capture and terminates PortAudio.
func (m *Mic) Close() error {
	stopErr := m.Stop()
	if err := portaudio.Terminate(); err != nil {
		return errors.Join(stopErr, fmt.Errorf("portaudio: terminate: %w", err))
	}
	return stopErr
}

// open returns an input stream on the configured device, falling back to the
// default input when the device cannot be found.
func (m *Mic) open(buf []int16) (*portaudio.Stream, error) {
	rate := float64(m.format.SampleRate)
	if m.device != "" && m.device != "default" {
		dev, err := findInput(m.device)
		if err == nil {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   dev,
					Channels: m.format.Channels,
					Latency:  dev.DefaultLowInputLatency,
				},
				SampleRate:      rate,
				FramesPerBuffer: m.framesPerBuffer,
			}
			stream, err := portaudio.OpenStream(params, buf)
			if err != nil {
				return nil, fmt.Errorf("portaudio: open %q: %w", m.device, err)
			}
			return stream, nil
		}
		slog.Warn("portaudio: input device not found, using default", "device", m.device)
	}
	stream, err := portaudio.OpenDefaultStream(m.format.Channels, 0, rate, m.framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open default stream: %w", err)
	}
	return stream, nil
}

func (m *Mic) readLoop(ctx context.Context, stream *portaudio.Stream, buf []int16, out chan<- audio.Frame, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	start := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := stream.Read(); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("portaudio: read failed", "err", err)
			continue
		}
		data := make([]byte, len(buf)*2)
		for i, s := range buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
		}
		select {
		case out <- audio.Frame{Data: data, Format: m.format, Timestamp: time.Since(start)}:
		case <-ctx.Done():
			return
		default:
			slog.Debug("portaudio: frame dropped, consumer too slow")
		}
	}
}

func findInput(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: device %q not found", name)
}

var (
	_ audio.Source   = (*Mic)(nil)
	_ audio.Recorder = (*Mic)(nil)
)
