package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fmueller/voxscribe/internal/history"
	"github.com/fmueller/voxscribe/internal/session"
	"github.com/fmueller/voxscribe/internal/whisper"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxRequestBytes bounds the JSON body, which carries inline audio as base64.
const maxRequestBytes = 64 << 20

// transcribeRequest names the audio either by a path the server can read or
// inline as base64 WAV bytes.
type transcribeRequest struct {
	AudioPath string `json:"audio_path"`
	Audio     string `json:"audio"`
	Model     string `json:"model"`
	Language  string `json:"language"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type transcribeResponse struct {
	RequestID string     `json:"request_id"`
	Language  string     `json:"language"`
	Model     string     `json:"model"`
	Text      string     `json:"text"`
	Error     *errorBody `json:"error,omitempty"`
}

type modelResponse struct {
	Loaded            bool   `json:"loaded"`
	Requested         string `json:"requested,omitempty"`
	Name              string `json:"name,omitempty"`
	State             string `json:"state"`
	LanguageDetection bool   `json:"language_detection"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": s.cfg.Version})
}

func (s *Server) handleModel(w http.ResponseWriter, _ *http.Request) {
	handle, ok := s.cfg.Manager.Current()
	if !ok {
		writeJSON(w, http.StatusOK, modelResponse{State: session.StateUnloaded.String()})
		return
	}
	writeJSON(w, http.StatusOK, modelResponse{
		Loaded:            handle.State == session.StateReady,
		Requested:         handle.Requested,
		Name:              handle.Name,
		State:             handle.State.String(),
		LanguageDetection: handle.Capabilities.LanguageDetection,
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var body transcribeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeInvalid(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeInvalid(w, http.StatusBadRequest, "invalid json")
		return
	}

	model := body.Model
	if whisper.IsAlias(model) {
		model = s.cfg.DefaultModel
	}
	req := session.Request{
		ID:        uuid.NewString(),
		AudioPath: body.AudioPath,
		Model:     model,
		Language:  firstNonEmpty(body.Language, s.cfg.DefaultLanguage),
	}

	if body.Audio != "" {
		if strings.TrimSpace(body.AudioPath) != "" {
			writeInvalid(w, http.StatusBadRequest, "set either audio or audio_path, not both")
			return
		}
		path, cleanup, err := s.stageInlineAudio(body.Audio)
		if err != nil {
			writeInvalid(w, http.StatusBadRequest, err.Error())
			return
		}
		defer cleanup()
		req.AudioPath = path
	}

	started := time.Now()
	res := s.cfg.Manager.Transcribe(r.Context(), req)
	// The result is final even when the client has gone away.
	s.record(context.WithoutCancel(r.Context()), req, body.Audio != "", res, time.Since(started))

	resp := transcribeResponse{
		RequestID: req.ID,
		Language:  res.Language,
		Model:     res.Model,
		Text:      res.Text,
	}
	if res.Err != nil {
		resp.Error = &errorBody{Kind: session.Kind(res.Err), Message: res.Err.Error()}
	}
	writeJSON(w, statusFor(res.Err), resp)
}

// stageInlineAudio writes base64 audio to a temporary WAV file for the
// session manager, which only reads from disk.
func (s *Server) stageInlineAudio(encoded string) (string, func(), error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", nil, fmt.Errorf("audio is not valid base64: %w", err)
	}

	f, err := os.CreateTemp(s.cfg.UploadDir, "voxscribe-upload-*.wav")
	if err != nil {
		return "", nil, fmt.Errorf("stage audio: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove staged audio", zap.String("path", f.Name()), zap.Error(err))
		}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("stage audio: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("stage audio: %w", err)
	}
	return f.Name(), cleanup, nil
}

func (s *Server) record(ctx context.Context, req session.Request, inline bool, res session.Result, elapsed time.Duration) {
	if s.cfg.History == nil {
		return
	}
	kind := session.Kind(res.Err)
	if kind == "invalid_request" || kind == "queue_full" || kind == "shutdown" {
		return
	}

	// Staged uploads are deleted after the request, so their path is not kept.
	audioPath := req.AudioPath
	if inline {
		audioPath = ""
	}
	err := s.cfg.History.Append(ctx, &history.Entry{
		ID:        req.ID,
		AudioPath: audioPath,
		Model:     res.Model,
		Language:  res.Language,
		Text:      res.Text,
		ErrorKind: kind,
		Elapsed:   elapsed,
	})
	if err != nil {
		s.logger.Warn("failed to append history entry", zap.String("request_id", req.ID), zap.Error(err))
	}
}

func statusFor(err error) int {
	switch session.Kind(err) {
	case "":
		return http.StatusOK
	case "invalid_request":
		return http.StatusBadRequest
	case "empty_audio", "decode":
		return http.StatusUnprocessableEntity
	case "queue_full":
		return http.StatusTooManyRequests
	case "model_load", "shutdown":
		return http.StatusServiceUnavailable
	case "canceled":
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func writeInvalid(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, transcribeResponse{Error: &errorBody{Kind: "invalid_request", Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
