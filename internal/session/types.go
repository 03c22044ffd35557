package session

import (
	"time"

	"github.com/fmueller/voxscribe/internal/whisper"
)

type LoadState int

const (
	StateUnloaded LoadState = iota
	StateLoading
	StateReady
)

func (s LoadState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unloaded"
	}
}

// ModelHandle describes the model owned by a ModelCache. Requested is the
// identifier the model was loaded under; Name is the concrete model.
type ModelHandle struct {
	Requested    string
	Name         string
	State        LoadState
	Capabilities whisper.Capabilities
}

// Request is immutable once submitted. An empty Language asks for detection.
// ID is optional and is echoed on every Progress for the request.
type Request struct {
	ID        string
	AudioPath string
	Model     string
	Language  string
}

type Progress struct {
	RequestID string
	Text      string
	Elapsed   time.Duration
}

type Result struct {
	RequestID string
	Language  string
	Model     string
	Text      string
	Err       error
}

// Listener receives progress on the manager's worker goroutine. It must not
// block and must not call back into Transcribe.
type Listener func(Progress)

// Observer receives lifecycle counters. Implementations must be safe for
// concurrent use.
type Observer interface {
	RequestFinished(kind string, elapsed time.Duration)
	ModelLoaded(model string, elapsed time.Duration)
	ModelUnloaded(model string)
	DecodeFinished(model string, elapsed time.Duration)
	QueueDepth(depth int)
}

type nopObserver struct{}

func (nopObserver) RequestFinished(string, time.Duration) {}
func (nopObserver) ModelLoaded(string, time.Duration)     {}
func (nopObserver) ModelUnloaded(string)                  {}
func (nopObserver) DecodeFinished(string, time.Duration)  {}
func (nopObserver) QueueDepth(int)                        {}
