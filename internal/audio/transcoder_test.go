package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// makeWav builds a PCM16 WAV with a sine tone.
func makeWav(t *testing.T, sampleRate, channels int, dur time.Duration) []byte {
	t.Helper()
	n := int(int64(sampleRate) * dur.Nanoseconds() / int64(time.Second))
	var pcm bytes.Buffer
	for i := 0; i < n; i++ {
		s := int16(0.3 * math.MaxInt16 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		for ch := 0; ch < channels; ch++ {
			_ = binary.Write(&pcm, binary.LittleEndian, s)
		}
	}

	var buf bytes.Buffer
	data := pcm.Bytes()
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func TestTranscodeFrameGeometry(t *testing.T) {
	tr := NewTranscoder()
	src := makeWav(t, 16000, 1, 1*time.Second)

	frames, err := tr.Transcode(src)
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}

	// 1s of audio at 200ms frames => 5 frames.
	if len(frames) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(frames))
	}
	// 8kHz mu-law, 200ms => 1600 bytes per frame, including the padded tail.
	for i, f := range frames {
		if len(f) != 1600 {
			t.Fatalf("frame %d: expected 1600 bytes, got %d", i, len(f))
		}
	}
}

func TestTranscodeDurationInvariant(t *testing.T) {
	tr := NewTranscoder()
	src := makeWav(t, 44100, 2, 1300*time.Millisecond)

	frames, err := tr.Transcode(src)
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}

	got := time.Duration(len(frames)) * tr.FrameDuration
	want := 1300 * time.Millisecond
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > tr.FrameDuration {
		t.Fatalf("frame set duration %s not within one frame of %s", got, want)
	}
}

func TestTranscodeStereoDownmix(t *testing.T) {
	tr := NewTranscoder()
	mono := makeWav(t, 8000, 1, 400*time.Millisecond)
	stereo := makeWav(t, 8000, 2, 400*time.Millisecond)

	mf, err := tr.Transcode(mono)
	if err != nil {
		t.Fatalf("mono: %v", err)
	}
	sf, err := tr.Transcode(stereo)
	if err != nil {
		t.Fatalf("stereo: %v", err)
	}
	if len(mf) != len(sf) {
		t.Fatalf("downmix changed frame count: mono=%d stereo=%d", len(mf), len(sf))
	}
}

func TestTranscodeRejectsGarbage(t *testing.T) {
	tr := NewTranscoder()
	if _, err := tr.Transcode([]byte("definitely not audio")); err == nil {
		t.Fatal("expected error for non-audio input")
	}
}

func TestResampleLinearHalvesRate(t *testing.T) {
	in := make([]int16, 16000)
	for i := range in {
		in[i] = int16(i % 1000)
	}
	out := resampleLinear(in, 16000, 8000)
	if len(out) != 8000 {
		t.Fatalf("expected 8000 samples, got %d", len(out))
	}
}
