package audio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadWAVDecodesPCM16(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAV([]int16{0, 16384, -16384, 32767}, 16000, 1), 0o644))

	pcm, err := ReadWAV(path)
	require.NoError(t, err)
	require.Equal(t, 16000, pcm.SampleRate)
	require.Equal(t, 1, pcm.Channels)
	require.Len(t, pcm.Samples, 4)
	require.InDelta(t, 0.5, pcm.Samples[1], 0.001)
	require.InDelta(t, -0.5, pcm.Samples[2], 0.001)
}

func TestReadWAVRejectsTruncatedData(t *testing.T) {
	t.Parallel()

	content := makePCM16WAV(make([]int16, 1600), 16000, 1)
	path := filepath.Join(t.TempDir(), "truncated.wav")
	require.NoError(t, os.WriteFile(path, content[:len(content)-100], 0o644))

	_, err := ReadWAV(path)
	require.ErrorIs(t, err, ErrTruncatedWAV)
}

func TestReadWAVRejectsNonWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "not-wav.wav")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	_, err := ReadWAV(path)
	require.ErrorIs(t, err, ErrInvalidWAV)
}

func TestReadWAVRejectsUnsupportedBitDepth(t *testing.T) {
	t.Parallel()

	content := makePCM16WAV(make([]int16, 16), 16000, 1)
	binary.LittleEndian.PutUint16(content[34:], 12)
	path := filepath.Join(t.TempDir(), "odd.wav")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	_, err := ReadWAV(path)
	require.ErrorIs(t, err, ErrUnsupportedWAV)
}

func TestReadWAVAcceptsEmptyDataChunk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAV(nil, 16000, 1), 0o644))

	pcm, err := ReadWAV(path)
	require.NoError(t, err)
	require.Empty(t, pcm.Samples)
	require.Zero(t, pcm.Duration())
}

func TestLoadSamplesDownmixesAndResamples(t *testing.T) {
	t.Parallel()

	stereo := make([]int16, 2*48000)
	for i := 0; i < 48000; i++ {
		stereo[2*i] = 16384
		stereo[2*i+1] = 0
	}

	path := filepath.Join(t.TempDir(), "stereo48k.wav")
	require.NoError(t, os.WriteFile(path, makePCM16WAV(stereo, 48000, 2), 0o644))

	samples, err := LoadSamples(path)
	require.NoError(t, err)
	require.Len(t, samples, TargetSampleRate)
	require.InDelta(t, 0.25, samples[100], 0.001)
}

func TestPCMDuration(t *testing.T) {
	t.Parallel()

	pcm := PCM{Samples: make([]float32, 3*16000*2), SampleRate: 16000, Channels: 2}
	require.Equal(t, 3*time.Second, pcm.Duration())
}

func TestEncodeWAVRoundTripsThroughReader(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/16000.0))
	}

	path := filepath.Join(t.TempDir(), "encoded.wav")
	require.NoError(t, WriteWAV(path, samples, 16000))

	pcm, err := ReadWAV(path)
	require.NoError(t, err)
	require.Equal(t, 16000, pcm.SampleRate)
	require.Len(t, pcm.Samples, len(samples))
	require.InDelta(t, samples[123], pcm.Samples[123], 0.001)
}

func makePCM16WAV(samples []int16, sampleRate int, channels int) []byte {
	bytesPerSample := 2
	dataSize := len(samples) * bytesPerSample
	fmtChunkSize := 16
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(fmtChunkSize))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], uint16(channels))
	off += 2
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(sampleRate*channels*bytesPerSample))
	off += 4
	binary.LittleEndian.PutUint16(out[off:], uint16(channels*bytesPerSample))
	off += 2
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}

func TestReadWAVRejectsOversizedFmtChunk(t *testing.T) {
	t.Parallel()

	content := makePCM16WAV(make([]int16, 16), 16000, 1)
	// The fmt chunk size field follows "RIFF", the RIFF size, "WAVE" and "fmt ".
	require.Equal(t, "fmt ", string(content[12:16]))
	binary.LittleEndian.PutUint32(content[16:20], math.MaxUint32)

	path := filepath.Join(t.TempDir(), "corrupt.wav")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	_, err := ReadWAV(path)
	require.ErrorIs(t, err, ErrInvalidWAV)
	require.ErrorContains(t, err, "fmt chunk declares")
}
