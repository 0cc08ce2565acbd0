package pipeline

import (
	"encoding/binary"
	"math"
	"strings"
)

// SpeechActivityClassifier decides whether a continuous-listening chunk
// contains speech. The orchestrator hands it both the raw audio bytes and
// the transcript the chunk produced, so implementations can work on either
// signal.
type SpeechActivityClassifier interface {
	Classify(audio []byte, transcript string) bool
}

// TranscriptClassifier infers speech from the transcription result: a
// non-blank transcript means the user spoke. This mirrors what the speech
// service itself decided and needs no knowledge of the audio container.
type TranscriptClassifier struct{}

var _ SpeechActivityClassifier = TranscriptClassifier{}

func (TranscriptClassifier) Classify(_ []byte, transcript string) bool {
	return strings.TrimSpace(transcript) != ""
}

// RMSClassifier detects speech from signal energy over 16-bit little-endian
// PCM. Two thresholds give hysteresis: energy must rise above ActivateRMS to
// enter the speaking state and drop below ReleaseRMS to leave it, so a
// single quiet chunk mid-sentence does not flap the verdict.
//
// RMS values are normalised to [0, 1]. Only usable when the client sends raw
// PCM instead of a compressed container.
type RMSClassifier struct {
	// ActivateRMS is the energy needed to enter the speaking state.
	// Default 0.02.
	ActivateRMS float64

	// ReleaseRMS is the energy below which the speaking state ends.
	// Default 0.01.
	ReleaseRMS float64

	speaking bool
}

var _ SpeechActivityClassifier = (*RMSClassifier)(nil)

func (c *RMSClassifier) Classify(audio []byte, _ string) bool {
	activate := c.ActivateRMS
	if activate <= 0 {
		activate = 0.02
	}
	release := c.ReleaseRMS
	if release <= 0 {
		release = 0.01
	}

	rms := pcm16RMS(audio)
	if c.speaking {
		c.speaking = rms >= release
	} else {
		c.speaking = rms >= activate
	}
	return c.speaking
}

// pcm16RMS computes the normalised root-mean-square energy of 16-bit LE PCM
// samples. A trailing odd byte is ignored.
func pcm16RMS(b []byte) float64 {
	n := len(b) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(b[2*i:]))
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
