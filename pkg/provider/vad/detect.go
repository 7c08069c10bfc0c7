package vad

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFrame is returned when a frame does not match the configured size.
var ErrInvalidFrame = errors.New("vad: frame size does not match config")

// ContainsSpeech judges 16-bit mono pcm at cfg.SampleRate. Engines that
// implement [ClipDetector] decide on their own; otherwise every complete
// frame runs through a fresh session until cfg.MinSpeechFrames voiced frames
// are seen. A trailing partial frame is ignored. ctx is checked between
// frames.
func ContainsSpeech(ctx context.Context, eng Engine, cfg Config, pcm []byte) (Verdict, error) {
	if err := cfg.Validate(); err != nil {
		return Verdict{}, err
	}
	if cd, ok := eng.(ClipDetector); ok {
		return cd.ContainsSpeech(ctx, cfg, pcm)
	}

	sess, err := eng.NewSession(cfg)
	if err != nil {
		return Verdict{}, fmt.Errorf("vad: new session: %w", err)
	}
	defer sess.Close()

	var (
		v    Verdict
		size = cfg.FrameBytes()
		need = cfg.minSpeechFrames()
	)
	for off := 0; off+size <= len(pcm); off += size {
		if err := ctx.Err(); err != nil {
			return v, err
		}
		ev, err := sess.ProcessFrame(pcm[off : off+size])
		if err != nil {
			return v, fmt.Errorf("vad: frame %d: %w", v.Frames, err)
		}
		v.Frames++
		if !ev.Activity.IsSpeech() {
			continue
		}
		if v.SpeechFrames == 0 {
			v.Onset = time.Duration(v.Frames-1) * cfg.FrameDuration()
		}
		v.SpeechFrames++
		if v.SpeechFrames >= need {
			v.Speech = true
			return v, nil
		}
	}
	return v, nil
}
