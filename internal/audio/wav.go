package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

// TargetSampleRate is the rate whisper models expect their input at.
const TargetSampleRate = 16000

const (
	formatPCM        = 1
	formatFloat      = 3
	formatExtensible = 0xFFFE
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
	ErrTruncatedWAV   = errors.New("truncated wav data")
)

// PCM holds interleaved samples normalized to [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// Mono averages all channels into one.
func (p PCM) Mono() PCM {
	if p.Channels <= 1 {
		return p
	}

	frames := p.Frames()
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < p.Channels; c++ {
			sum += p.Samples[i*p.Channels+c]
		}
		out[i] = sum / float32(p.Channels)
	}

	return PCM{Samples: out, SampleRate: p.SampleRate, Channels: 1}
}

// LoadSamples reads a WAV file and returns mono samples at TargetSampleRate.
func LoadSamples(path string) ([]float32, error) {
	pcm, err := ReadWAV(path)
	if err != nil {
		return nil, err
	}

	mono := pcm.Mono()
	return Resample(mono.Samples, mono.SampleRate, TargetSampleRate), nil
}

// Resample converts mono samples between rates with linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}

	outLen := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, outLen)
	step := float64(from) / float64(to)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}

	return out
}

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

func ReadWAV(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return PCM{}, fmt.Errorf("stat wav: %w", err)
	}

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return PCM{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return PCM{}, fmt.Errorf("read wav header: %w", err)
	}

	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return PCM{}, ErrInvalidWAV
	}

	var (
		format     wavFormat
		dataOffset int64
		dataSize   uint32
		hasFmt     bool
		hasData    bool
	)

	for !hasData {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(f, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return PCM{}, fmt.Errorf("read wav chunk header: %w", err)
		}

		chunkID := string(chunkHeader[:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		skip := int64(chunkSize)
		if chunkSize%2 != 0 {
			skip++
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return PCM{}, ErrInvalidWAV
			}
			offset, err := f.Seek(0, io.SeekCurrent)
			if err != nil {
				return PCM{}, fmt.Errorf("seek wav fmt chunk: %w", err)
			}
			if offset+int64(chunkSize) > info.Size() {
				return PCM{}, fmt.Errorf("%w: fmt chunk declares %d bytes, file holds %d", ErrInvalidWAV, chunkSize, info.Size()-offset)
			}

			buf := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, buf); err != nil {
				return PCM{}, fmt.Errorf("%w: fmt chunk: %v", ErrInvalidWAV, err)
			}

			format = parseFormat(buf)
			hasFmt = true

			if chunkSize%2 != 0 {
				if _, err := f.Seek(1, io.SeekCurrent); err != nil {
					return PCM{}, fmt.Errorf("seek wav fmt padding: %w", err)
				}
			}
		case "data":
			dataOffset, err = f.Seek(0, io.SeekCurrent)
			if err != nil {
				return PCM{}, fmt.Errorf("seek wav data chunk: %w", err)
			}
			dataSize = chunkSize
			hasData = true
		default:
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return PCM{}, fmt.Errorf("seek wav chunk %s: %w", chunkID, err)
			}
		}
	}

	if !hasFmt || !hasData {
		return PCM{}, ErrInvalidWAV
	}

	if err := validateFormat(format); err != nil {
		return PCM{}, err
	}

	if dataOffset+int64(dataSize) > info.Size() {
		return PCM{}, fmt.Errorf("%w: data chunk declares %d bytes, file holds %d", ErrTruncatedWAV, dataSize, info.Size()-dataOffset)
	}

	data := make([]byte, dataSize)
	if _, err := io.ReadFull(f, data); err != nil {
		return PCM{}, fmt.Errorf("%w: %v", ErrTruncatedWAV, err)
	}

	samples, err := decodeSamples(data, format)
	if err != nil {
		return PCM{}, err
	}

	return PCM{
		Samples:    samples,
		SampleRate: int(format.sampleRate),
		Channels:   int(format.channels),
	}, nil
}

func parseFormat(buf []byte) wavFormat {
	format := wavFormat{
		audioFormat:   binary.LittleEndian.Uint16(buf[0:2]),
		channels:      binary.LittleEndian.Uint16(buf[2:4]),
		sampleRate:    binary.LittleEndian.Uint32(buf[4:8]),
		bitsPerSample: binary.LittleEndian.Uint16(buf[14:16]),
	}

	// The sub-format GUID starts with the real format tag.
	if format.audioFormat == formatExtensible && len(buf) >= 26 {
		format.audioFormat = binary.LittleEndian.Uint16(buf[24:26])
	}

	return format
}

func validateFormat(format wavFormat) error {
	if format.channels == 0 || format.sampleRate == 0 {
		return ErrInvalidWAV
	}

	switch format.audioFormat {
	case formatPCM:
		switch format.bitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case formatFloat:
		switch format.bitsPerSample {
		case 32, 64:
			return nil
		}
	}

	return ErrUnsupportedWAV
}

func decodeSamples(data []byte, format wavFormat) ([]float32, error) {
	bytesPerSample := int(format.bitsPerSample / 8)
	if bytesPerSample <= 0 {
		return nil, ErrUnsupportedWAV
	}

	samples := make([]float32, 0, len(data)/bytesPerSample)
	for i := 0; i+bytesPerSample <= len(data); i += bytesPerSample {
		value, err := decodeSample(data[i:i+bytesPerSample], format.audioFormat, format.bitsPerSample)
		if err != nil {
			return nil, err
		}
		samples = append(samples, float32(value))
	}

	return samples, nil
}

func decodeSample(sample []byte, audioFormat, bitsPerSample uint16) (float64, error) {
	if audioFormat == formatFloat {
		switch bitsPerSample {
		case 32:
			bits := binary.LittleEndian.Uint32(sample)
			return float64(math.Float32frombits(bits)), nil
		case 64:
			bits := binary.LittleEndian.Uint64(sample)
			return math.Float64frombits(bits), nil
		default:
			return 0, ErrUnsupportedWAV
		}
	}

	switch bitsPerSample {
	case 8:
		u := float64(sample[0])
		return (u - 128.0) / 128.0, nil
	case 16:
		v := int16(binary.LittleEndian.Uint16(sample))
		return float64(v) / 32768.0, nil
	case 24:
		v := int32(sample[0]) | int32(sample[1])<<8 | int32(sample[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / 8388608.0, nil
	case 32:
		v := int32(binary.LittleEndian.Uint32(sample))
		return float64(v) / 2147483648.0, nil
	default:
		return 0, ErrUnsupportedWAV
	}
}
