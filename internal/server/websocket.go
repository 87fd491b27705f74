package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/UpperMoon0/Echo/internal/segmenter"
)

const (
	// wsWriteTimeout bounds how long a single event write may block
	wsWriteTimeout = 10 * time.Second

	// wsMaxMessageSize bounds incoming binary audio frames (1 MiB)
	wsMaxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from arbitrary origins; authentication is out
	// of scope for this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket implements the /ws/transcribe endpoint. Binary frames carry
// raw PCM16 audio; the server pushes interim and final transcription events
// as JSON text frames.
//
// Frames are consumed by a dedicated reader goroutine while this handler
// polls the session for silence events at the configured interval. Only the
// handler goroutine writes to the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	sess, err := s.sessions.GetOrCreateSession(clientID)
	if err != nil {
		s.logger.Error("Failed to create session",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session creation failed"),
			time.Now().Add(wsWriteTimeout))
		return
	}

	s.metrics.RecordWSConnect()

	defer func() {
		s.sessions.RemoveSession(clientID)
		s.metrics.RecordWSDisconnect()
	}()

	s.logger.Info("WebSocket client connected",
		slog.String("client_id", clientID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(wsMaxMessageSize)

	// Reader goroutine: audio frames in. The handler goroutine below is the
	// only writer on the connection.
	go func() {
		defer cancel()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("WebSocket read error",
						slog.String("client_id", clientID),
						slog.String("error", err.Error()),
					)
				}
				return
			}

			if msgType != websocket.BinaryMessage {
				continue
			}

			rms, err := sess.AddChunk(data)
			if err != nil {
				return
			}

			s.metrics.RecordChunk(len(data), rms)
		}
	}()

	ticker := time.NewTicker(s.config.Audio.GetPollIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("WebSocket client disconnected",
				slog.String("client_id", clientID),
			)
			return

		case <-ticker.C:
			s.metrics.RecordSilenceCheck()

			event, err := sess.CheckSilenceEvents(ctx)
			if err != nil {
				return
			}
			if event == nil {
				continue
			}

			switch event.Type {
			case segmenter.EventInterim:
				s.metrics.RecordInterimEvent()
			case segmenter.EventFinal:
				s.metrics.RecordFinalEvent()
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Warn("WebSocket write error",
					slog.String("client_id", clientID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}
