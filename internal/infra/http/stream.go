package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStream pushes every notification committed after the connection is
// accepted, one JSON object per websocket message. The socket is closed when
// the subscription ends, including when the client falls behind.
func (s *Server) handleStream(c *gin.Context) {
	if s.events == nil {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "event log unavailable")
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	filter.From, filter.To = 0, 0

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	ch, err := s.events.Subscribe(ctx, filter)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("event stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close and ping frames are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(n); err != nil {
				log.Printf("event stream write failed: %v", err)
				return
			}
		}
	}
}
