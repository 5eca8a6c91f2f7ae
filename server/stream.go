package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lobsim/engine"
)

const writeWait = 10 * time.Second

func (s *Server) handleFillStream(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so the client sees every fill
	// generated after its dial returns.
	fills, cancel := s.runner.SubscribeFills(s.cfg.StreamBuffer)
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	pump(conn, fills, func(f engine.Fill) outboundMessage {
		return outboundMessage{Type: "fill", Data: toFillView(f)}
	})
	requestLogger(r.Context(), s.logger).Debug("fill stream closed")
}

func (s *Server) handleBookStream(w http.ResponseWriter, r *http.Request) {
	books, cancel := s.runner.SubscribeBook(s.cfg.StreamBuffer)
	defer cancel()

	snapshot, err := s.runner.TopOfBook(r.Context())
	if err != nil {
		s.runnerError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	toMessage := func(tob engine.TopOfBook) outboundMessage {
		return outboundMessage{Type: "book", Data: toTopOfBookView(tob)}
	}
	if err := writeMessage(conn, toMessage(snapshot)); err != nil {
		requestLogger(r.Context(), s.logger).Debug("book stream write failed", zap.Error(err))
		return
	}
	pump(conn, books, toMessage)
	requestLogger(r.Context(), s.logger).Debug("book stream closed")
}

// pump writes every value from ch to conn until the feed closes, a write
// fails or the client goes away.
func pump[T any](conn *websocket.Conn, ch <-chan T, toMessage func(T) outboundMessage) {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case v, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeMessage(conn, toMessage(v)); err != nil {
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, msg outboundMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
