package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// live streams recorder events. The first frame is the current status.
func (s *Server) live(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already answered the request
		log.Printf("live feed upgrade: %v", err)
		return
	}
	defer conn.Close()

	client := s.hub.Register()
	if b, err := encodeLive("status", statusView(s.rec.Status(), s.hasPending())); err == nil {
		client.Send <- b
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range client.Send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// clients only listen; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.Unregister(client)
	<-done
}
