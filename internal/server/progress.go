package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/fmueller/voxscribe/internal/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	progressBuffer = 64
	writeWait      = 5 * time.Second
	pingInterval   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to loopback for the local journaling UI.
	CheckOrigin: func(*http.Request) bool { return true },
}

type progressMessage struct {
	RequestID string  `json:"request_id"`
	Text      string  `json:"text"`
	Elapsed   float64 `json:"elapsed"`
}

// progressHub forwards manager progress to at most one WebSocket subscriber.
// A newer subscriber displaces the older one.
type progressHub struct {
	logger *zap.Logger

	mu      sync.Mutex
	current *subscriber
}

type subscriber struct {
	events chan progressMessage
	done   chan struct{}
	once   sync.Once
}

func newProgressHub(logger *zap.Logger) *progressHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &progressHub{logger: logger}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// publish runs on the manager worker and never blocks it.
func (h *progressHub) publish(p session.Progress) {
	h.mu.Lock()
	sub := h.current
	h.mu.Unlock()
	if sub == nil {
		return
	}

	msg := progressMessage{RequestID: p.RequestID, Text: p.Text, Elapsed: p.Elapsed.Seconds()}
	select {
	case sub.events <- msg:
	default:
		h.logger.Debug("progress subscriber is behind; event dropped", zap.String("request_id", p.RequestID))
	}
}

func (h *progressHub) subscribe() *subscriber {
	sub := &subscriber{
		events: make(chan progressMessage, progressBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	previous := h.current
	h.current = sub
	h.mu.Unlock()

	if previous != nil {
		previous.close()
	}
	return sub
}

func (h *progressHub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if h.current == sub {
		h.current = nil
	}
	h.mu.Unlock()
	sub.close()
}

func (h *progressHub) closeAll() {
	h.mu.Lock()
	sub := h.current
	h.current = nil
	h.mu.Unlock()
	if sub != nil {
		sub.close()
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sub := s.hub.subscribe()
	defer s.hub.unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("progress websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	s.logger.Debug("progress subscriber connected", zap.String("remote", conn.RemoteAddr().String()))

	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				sub.close()
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "progress stream closed"),
				time.Now().Add(writeWait))
			return
		case msg := <-sub.events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("progress write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
