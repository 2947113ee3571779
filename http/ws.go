package http

import (
	"context"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rentpredict/inference"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsSendQueue  = 16
)

// predictStream answers one prediction per text frame on a websocket.
// Responses come back in request order.
type predictStream struct {
	handlers      *Handlers
	upgrader      websocket.Upgrader
	maxFrameBytes int64
}

func newPredictStream(h *Handlers, allowedOrigins []string, maxFrameBytes int64) *predictStream {
	return &predictStream{
		handlers:      h,
		maxFrameBytes: maxFrameBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(allowedOrigins, origin)
			},
		},
	}
}

func (s *predictStream) serve(w http.ResponseWriter, r *http.Request) {
	logger := s.handlers.logger.With(zap.String("request_id", GetRequestID(r.Context())))
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if m := s.handlers.metrics; m != nil {
		m.WebsocketOpened()
		defer m.WebsocketClosed()
	}

	send := make(chan []byte, wsSendQueue)
	done := make(chan struct{})
	go func() {
		defer close(done)
		writePump(conn, send, logger)
	}()

	s.readPump(r.Context(), conn, send, done, logger)
	close(send)
	<-done
}

func (s *predictStream) readPump(ctx context.Context, conn *websocket.Conn, send chan<- []byte, done <-chan struct{}, logger *zap.Logger) {
	if s.maxFrameBytes > 0 {
		conn.SetReadLimit(s.maxFrameBytes)
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if messageType != websocket.TextMessage {
			continue
		}

		var resp inference.Response
		raw, err := decodeObject(data)
		if err != nil {
			resp = inference.Failure(err)
		} else {
			resp = s.handlers.predict(ctx, raw)
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			logger.Error("encode websocket response", zap.Error(err))
			return
		}
		select {
		case send <- payload:
		case <-done:
			return
		}
	}
}

// writePump is the only writer on conn. It exits once send is closed.
func writePump(conn *websocket.Conn, send <-chan []byte, logger *zap.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
