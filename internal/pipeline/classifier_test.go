package pipeline

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestTranscriptClassifier(t *testing.T) {
	c := TranscriptClassifier{}

	if c.Classify(nil, "hello") != true {
		t.Error("non-empty transcript should be speech")
	}
	if c.Classify(nil, "") != false {
		t.Error("empty transcript should be silence")
	}
	if c.Classify(nil, "  \t\n ") != false {
		t.Error("whitespace-only transcript should be silence")
	}
}

// pcmSine builds n samples of 16-bit LE PCM at the given amplitude [0, 1].
func pcmSine(n int, amplitude float64) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude * math.Sin(2*math.Pi*float64(i)/32)
		s := int16(v * math.MaxInt16)
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestRMSClassifier_LoudAndQuiet(t *testing.T) {
	c := &RMSClassifier{ActivateRMS: 0.1, ReleaseRMS: 0.05}

	if c.Classify(pcmSine(512, 0.01), "") {
		t.Error("quiet signal classified as speech")
	}
	if !c.Classify(pcmSine(512, 0.5), "") {
		t.Error("loud signal classified as silence")
	}
}

func TestRMSClassifier_Hysteresis(t *testing.T) {
	c := &RMSClassifier{ActivateRMS: 0.1, ReleaseRMS: 0.05}

	// A mid-level chunk below the activation threshold does not start speech...
	if c.Classify(pcmSine(512, 0.1), "") {
		// sine RMS is amplitude/sqrt(2) ≈ 0.07, below activate
		t.Fatal("sub-activation chunk started speech")
	}

	// ...but once speaking, the same level keeps the state alive.
	if !c.Classify(pcmSine(512, 0.5), "") {
		t.Fatal("loud chunk did not start speech")
	}
	if !c.Classify(pcmSine(512, 0.1), "") {
		t.Error("mid-level chunk ended speech despite being above release")
	}

	// Near-silence ends it.
	if c.Classify(pcmSine(512, 0.001), "") {
		t.Error("near-silent chunk kept speech alive")
	}
}

func TestRMSClassifier_EmptyAudio(t *testing.T) {
	c := &RMSClassifier{}
	if c.Classify(nil, "") {
		t.Error("no audio classified as speech")
	}
	if c.Classify([]byte{0x01}, "") {
		t.Error("single stray byte classified as speech")
	}
}
