package stt

import "time"

// DefaultServerConfidence is attached to transcripts from batch transcribers,
// which do not report a confidence of their own.
const DefaultServerConfidence = 0.85

// Transcript represents a speech-to-text result. Both partial (interim) and
// final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0).
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// ClampConfidence bounds c to [0, 1]. Engines that report no confidence (zero)
// are given fallback instead.
func ClampConfidence(c, fallback float64) float64 {
	if c == 0 {
		c = fallback
	}
	return min(max(c, 0), 1)
}
