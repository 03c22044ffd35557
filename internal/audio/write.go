package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// EncodeWAV renders mono samples as a 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	const (
		bytesPerSample = 2
		fmtChunkSize   = 16
	)

	dataSize := len(samples) * bytesPerSample
	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)

	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(4+(8+fmtChunkSize)+(8+dataSize)))
	copy(out[8:], "WAVE")

	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], fmtChunkSize)
	binary.LittleEndian.PutUint16(out[20:], formatPCM)
	binary.LittleEndian.PutUint16(out[22:], 1)
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*bytesPerSample))
	binary.LittleEndian.PutUint16(out[32:], bytesPerSample)
	binary.LittleEndian.PutUint16(out[34:], 16)

	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))

	off := 44
	for _, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(out[off:], uint16(int16(math.Round(v*32767))))
		off += bytesPerSample
	}

	return out
}

func WriteWAV(path string, samples []float32, sampleRate int) error {
	if err := os.WriteFile(path, EncodeWAV(samples, sampleRate), 0o600); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}
