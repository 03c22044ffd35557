package whisper

import (
	"context"
	"strings"
	"time"
)

type Capabilities struct {
	LanguageDetection bool
}

// DecodeOptions carries the language policy for one decode. Language is
// ignored when DetectLanguage is set.
type DecodeOptions struct {
	Language       string
	DetectLanguage bool
	UsePrefill     bool
}

type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

type Transcription struct {
	Language string
	Segments []Segment
}

func (t Transcription) Text() string {
	var b strings.Builder
	for _, segment := range t.Segments {
		b.WriteString(segment.Text)
	}
	return strings.TrimSpace(b.String())
}

type SegmentFunc func(Segment)

// StatusFunc receives human readable load status lines.
type StatusFunc func(message string)

// Model is a loaded speech model. Implementations are not reentrant.
type Model interface {
	Name() string
	Capabilities() Capabilities
	Decode(ctx context.Context, samples []float32, opts DecodeOptions, onSegment SegmentFunc) (Transcription, error)
	Close() error
}

type Loader interface {
	Load(ctx context.Context, modelRef string, status StatusFunc) (Model, error)
}
