package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errNotWav = errors.New("audio: not a RIFF/WAVE file")

type wavInfo struct {
	sampleRate int
	channels   int
	samples    []int16
}

// parseWavPCM16 walks RIFF chunks and extracts 16-bit PCM data.
// Only uncompressed PCM (format 1) is supported; compressed WAV variants
// are rejected so the caller can report a clear transcode failure.
func parseWavPCM16(data []byte) (wavInfo, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return wavInfo{}, errNotWav
	}

	var info wavInfo
	var pcm []byte
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		if pos+chunkSize > len(data) {
			break
		}
		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return wavInfo{}, errors.New("audio: wav fmt chunk too small")
			}
			format := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
			if format != 1 {
				return wavInfo{}, fmt.Errorf("audio: unsupported wav format %d", format)
			}
			info.channels = int(binary.LittleEndian.Uint16(data[pos+2 : pos+4]))
			info.sampleRate = int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
			bits := int(binary.LittleEndian.Uint16(data[pos+14 : pos+16]))
			if bits != 16 {
				return wavInfo{}, fmt.Errorf("audio: unsupported wav bit depth %d", bits)
			}
		case "data":
			pcm = data[pos : pos+chunkSize]
		}
		pos += chunkSize
		// Chunks are word-aligned.
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if info.sampleRate == 0 || info.channels == 0 {
		return wavInfo{}, errors.New("audio: wav missing fmt chunk")
	}
	if len(pcm) == 0 {
		return wavInfo{}, errors.New("audio: wav missing data chunk")
	}

	info.samples = make([]int16, len(pcm)/2)
	for i := range info.samples {
		info.samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return info, nil
}
