package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/zaf/g711"
)

const (
	// TelephonySampleRate is the narrowband rate expected by the PCMU media fork.
	TelephonySampleRate = 8000

	// DefaultFrameDuration applies to every conversion path, preload and
	// on-demand alike. One frame at 8 kHz mu-law is 1600 payload bytes.
	DefaultFrameDuration = 200 * time.Millisecond
)

var ErrEmptyAudio = errors.New("audio: decoded asset contains no samples")

// Transcoder converts a stored speech asset into telephony codec frames.
//
// Pipeline: decode (MP3 or PCM WAV) -> downmix to mono -> normalize level ->
// resample to 8 kHz -> slice into fixed-duration frames -> mu-law encode.
// A Transcoder is stateless and safe for concurrent use.
type Transcoder struct {
	FrameDuration time.Duration
	SampleRate    int
}

func NewTranscoder() *Transcoder {
	return &Transcoder{
		FrameDuration: DefaultFrameDuration,
		SampleRate:    TelephonySampleRate,
	}
}

func (t *Transcoder) frameDuration() time.Duration {
	if t.FrameDuration > 0 {
		return t.FrameDuration
	}
	return DefaultFrameDuration
}

func (t *Transcoder) sampleRate() int {
	if t.SampleRate > 0 {
		return t.SampleRate
	}
	return TelephonySampleRate
}

// Transcode produces the ordered mu-law frame set for one asset.
// The final frame is padded with mu-law silence so every frame carries the
// same payload size on the wire.
func (t *Transcoder) Transcode(src []byte) ([][]byte, error) {
	pcm, rate, err := decode(src)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}

	normalize(pcm)
	pcm = resampleLinear(pcm, rate, t.sampleRate())
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}

	samplesPerFrame := int(int64(t.sampleRate()) * t.frameDuration().Nanoseconds() / int64(time.Second))
	if samplesPerFrame <= 0 {
		return nil, fmt.Errorf("audio: invalid frame duration %s", t.frameDuration())
	}

	frameCount := (len(pcm) + samplesPerFrame - 1) / samplesPerFrame
	frames := make([][]byte, 0, frameCount)
	for start := 0; start < len(pcm); start += samplesPerFrame {
		end := start + samplesPerFrame
		if end > len(pcm) {
			end = len(pcm)
		}
		frame := make([]byte, samplesPerFrame)
		for i, s := range pcm[start:end] {
			frame[i] = g711.EncodeUlawFrame(s)
		}
		// mu-law encoded zero amplitude, keeps the tail frame full-length.
		silence := g711.EncodeUlawFrame(0)
		for i := end - start; i < samplesPerFrame; i++ {
			frame[i] = silence
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// decode sniffs the container and returns interleaved mono-or-stereo PCM
// already downmixed to a single channel.
func decode(src []byte) ([]int16, int, error) {
	if wi, err := parseWavPCM16(src); err == nil {
		return toMono(wi.samples, wi.channels), wi.sampleRate, nil
	} else if !errors.Is(err, errNotWav) {
		return nil, 0, err
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(src))
	if err != nil {
		return nil, 0, fmt.Errorf("audio: mp3 decode: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: mp3 decode: %w", err)
	}

	// go-mp3 always emits 16-bit little-endian stereo.
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}
	return toMono(samples, 2), dec.SampleRate(), nil
}

func toMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// normalize removes DC offset and brings the peak near -1 dBFS, capped so
// quiet recordings are not blown up into noise.
func normalize(pcm []int16) {
	if len(pcm) == 0 {
		return
	}
	var acc int64
	for _, s := range pcm {
		acc += int64(s)
	}
	offset := int16(acc / int64(len(pcm)))
	maxAbs := 1
	for i := range pcm {
		pcm[i] -= offset
		a := int(pcm[i])
		if a < 0 {
			a = -a
		}
		if a > maxAbs {
			maxAbs = a
		}
	}

	target := int(math.Round(0.89125 * math.MaxInt16)) // ~= -1 dBFS
	gain := float64(target) / float64(maxAbs)
	if gain > 1.3 {
		gain = 1.3
	}
	if gain == 1.0 {
		return
	}
	for i := range pcm {
		v := float64(pcm[i]) * gain
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		pcm[i] = int16(v)
	}
}

func resampleLinear(in []int16, inRate, outRate int) []int16 {
	if inRate == outRate || len(in) == 0 {
		return in
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := int(math.Round(float64(len(in)) * ratio))
	if outLen <= 1 {
		return nil
	}
	out := make([]int16, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		i0 := int(math.Floor(srcPos))
		if i0 >= len(in) {
			i0 = len(in) - 1
		}
		i1 := i0 + 1
		if i1 >= len(in) {
			i1 = len(in) - 1
		}
		f := srcPos - float64(i0)
		v := float64(in[i0])*(1.0-f) + float64(in[i1])*f
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}
