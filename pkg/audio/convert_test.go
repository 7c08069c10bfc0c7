package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/voxreel/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	got := bytesToSamples(audio.StereoToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	stereo := samplesToBytes([]int16{32767, 32767})
	got := bytesToSamples(audio.StereoToMono(stereo))
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestResampleMono16_Halves(t *testing.T) {
	in := samplesToBytes(make([]int16, 480))
	out := audio.ResampleMono16(in, 48000, 24000)
	if len(out) != 240*2 {
		t.Errorf("got %d bytes, want %d", len(out), 240*2)
	}
}

func TestResampleMono16_SameRateIsIdentity(t *testing.T) {
	in := samplesToBytes([]int16{1, 2, 3})
	out := audio.ResampleMono16(in, 16000, 16000)
	if !bytes.Equal(in, out) {
		t.Error("expected identical output for equal rates")
	}
}

func TestConvert_StereoFortyEightToSpeech(t *testing.T) {
	// 10 ms of 48 kHz stereo = 480 frames.
	in := samplesToBytes(make([]int16, 960))
	out := audio.Convert(in, audio.Format{SampleRate: 48000, Channels: 2}, audio.SpeechFormat)
	if want := 160 * 2; len(out) != want {
		t.Errorf("got %d bytes, want %d", len(out), want)
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	pcm := samplesToBytes([]int16{1, -1, 300, -300})
	wav := audio.EncodeWAV(pcm, audio.SpeechFormat)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}

	got, f, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f != audio.SpeechFormat {
		t.Errorf("format = %+v, want %+v", f, audio.SpeechFormat)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("decoded PCM differs from input")
	}
}

func TestDecodeWAV_RejectsGarbage(t *testing.T) {
	if _, _, err := audio.DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Fatal("expected error")
	}
}

func TestClip_PCM(t *testing.T) {
	pcm := samplesToBytes([]int16{5, 6})

	tests := []struct {
		name   string
		clip   audio.Clip
		wantOK bool
	}{
		{"wav", audio.Clip{Data: audio.EncodeWAV(pcm, audio.SpeechFormat), Container: audio.ContainerWAV}, true},
		{"pcm", audio.Clip{Data: pcm, Container: audio.ContainerPCM, Format: audio.SpeechFormat}, true},
		{"webm", audio.Clip{Data: []byte{0x1a, 0x45}, Container: audio.ContainerWebM}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := tt.clip.PCM()
			if ok != tt.wantOK {
				t.Errorf("PCM ok = %v, want %v", ok, tt.wantOK)
			}
		})
	}
}

func TestRMSAndDuration(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v", got)
	}
	loud := samplesToBytes([]int16{1000, -1000, 1000, -1000})
	if got := audio.RMS(loud); got != 1000 {
		t.Errorf("RMS = %v, want 1000", got)
	}
	second := make([]byte, 32000)
	if got := audio.DurationOf(second, audio.SpeechFormat); got != int(time.Second/time.Millisecond) {
		t.Errorf("DurationOf = %d ms, want 1000", got)
	}
}
