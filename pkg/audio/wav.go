package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const bitsPerSample = 16

// ErrNotWAV is returned by [DecodeWAV] when the input lacks a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// 44-byte RIFF/WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	channels := max(f.Channels, 1)
	byteRate := f.SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}

// DecodeWAV extracts the PCM payload and format from a 16-bit PCM WAV file.
// Unknown chunks between "fmt " and "data" are skipped.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}
	var (
		f       Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(wav) {
			size = len(wav) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			if format := binary.LittleEndian.Uint16(wav[body : body+2]); format != 1 {
				return nil, Format{}, fmt.Errorf("audio: unsupported WAV encoding %d", format)
			}
			f.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			if bps := binary.LittleEndian.Uint16(wav[body+14 : body+16]); bps != bitsPerSample {
				return nil, Format{}, fmt.Errorf("audio: unsupported bit depth %d", bps)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("audio: data chunk before fmt chunk")
			}
			return wav[body : body+size], f, nil
		}
		pos = body + size + size%2
	}
	return nil, Format{}, errors.New("audio: no data chunk")
}

// PCM returns the raw PCM samples carried by c, decoding the WAV header when
// needed. ok is false for compressed containers.
func (c Clip) PCM() (pcm []byte, f Format, ok bool) {
	switch c.Container {
	case ContainerPCM:
		return c.Data, c.Format, true
	case ContainerWAV:
		pcm, f, err := DecodeWAV(c.Data)
		if err != nil {
			return nil, Format{}, false
		}
		return pcm, f, true
	}
	return nil, Format{}, false
}

// RMS returns the root-mean-square energy of 16-bit PCM in sample units
// (0–32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// DurationOf returns how long pcm plays at format f.
func DurationOf(pcm []byte, f Format) (ms int) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return len(pcm) * 1000 / (f.SampleRate * f.Channels * bitsPerSample / 8)
}

// Float32Mono converts 16-bit PCM to mono float32 samples in [-1, 1],
// averaging channels when channels > 1.
func Float32Mono(pcm []byte, channels int) []float32 {
	channels = max(channels, 1)
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[idx:]))) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}
