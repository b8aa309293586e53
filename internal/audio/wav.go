package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// SamplesToWAV encodes float32 samples as a 16-bit mono PCM WAV file.
func SamplesToWAV(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * BytesPerSample
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*BytesPerSample))
	binary.Write(buf, binary.LittleEndian, uint16(BytesPerSample))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	for _, s := range samples {
		v := s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.Write(buf, binary.LittleEndian, int16(v*math.MaxInt16))
	}
	return buf.Bytes()
}

// PCM16ToWAV wraps raw 16-bit mono PCM bytes in a WAV container.
func PCM16ToWAV(pcm []byte, sampleRate int) []byte {
	return SamplesToWAV(DecodePCM16(pcm), sampleRate)
}

// WAVDuration reads the duration of a WAV file on disk.
func WAVDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file: %s", path)
	}
	dur, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("wav duration: %w", err)
	}
	return dur, nil
}
