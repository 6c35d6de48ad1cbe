package server

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/mudra/internal/stream"
)

const wsWriteTimeout = 5 * time.Second

type wsError struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// StreamHandler streams frames over a WebSocket. Each connection owns a
// fresh session that is removed when the connection closes. Binary
// messages are encoded images; the text message "reset" clears the
// session. Every message gets one JSON reply.
type StreamHandler struct {
	server *Server
}

func (h *StreamHandler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
}

// checkOrigin accepts same-host pages, origins on the CORS allowlist, and
// clients that send no Origin at all.
func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.server.cors.allowed(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s := h.server
	if !s.ready(w) {
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	registry := s.config.Registry
	st := registry.Create()
	log := s.log.WithField("session", st.ID())
	log.Info("stream connected")
	defer func() {
		registry.Remove(st.ID())
		s.closeRecorded(st.ID())
		log.Info("stream closed")
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(s.config.MaxFrameBytes)
	ctx := r.Context()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("websocket read failed")
			}
			return
		}

		var reply any
		if mt == websocket.BinaryMessage || mt == websocket.TextMessage {
			registry.Touch(st)
		}
		switch mt {
		case websocket.BinaryMessage:
			res, err := s.config.Orchestrator.Process(ctx, st, data)
			if err != nil {
				logProcessError(log, err)
				reply = wsError{SessionID: st.ID(), Error: err.Error()}
			} else {
				reply = toPredictResponse(res)
			}
		case websocket.TextMessage:
			if string(data) == "reset" {
				st.Reset()
				reply = st.Snapshot()
			} else {
				reply = wsError{SessionID: st.ID(), Error: "unknown command"}
			}
		default:
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			log.WithError(err).Debug("websocket write failed")
			return
		}
	}
}

func logProcessError(log logrus.FieldLogger, err error) {
	if errors.Is(err, stream.ErrDecode) {
		log.WithError(err).Debug("frame rejected")
		return
	}
	log.WithError(err).Warn("frame processing failed")
}
