package session

import (
	"context"
	"errors"
)

var (
	ErrInvalidRequest = errors.New("invalid transcription request")
	ErrEmptyAudio     = errors.New("audio contains no samples")
	ErrModelLoad      = errors.New("model load failed")
	ErrDecode         = errors.New("decode failed")
	ErrShutdown       = errors.New("session manager shut down")
	ErrQueueFull      = errors.New("transcription queue is full")
)

// Kind maps a result error to a stable identifier used on the wire and in metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrEmptyAudio):
		return "empty_audio"
	case errors.Is(err, ErrModelLoad):
		return "model_load"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	default:
		return "internal"
	}
}
