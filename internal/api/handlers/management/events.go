package management

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aquila-desktop/aquila-auth/internal/api/middleware"
	"github.com/aquila-desktop/aquila-auth/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	eventsReadTimeout  = 60 * time.Second
	eventsWriteTimeout = 10 * time.Second
	eventsPingInterval = 30 * time.Second
	eventsReadLimit    = 4 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     allowOrigin,
}

// allowOrigin accepts non-browser clients and pages served from loopback or
// the desktop shell.
func allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme == "tauri" || u.Host == "tauri.localhost" {
		return true
	}
	return middleware.IsLoopbackHost(u.Host)
}

// GetEvents upgrades to a WebSocket and streams every notification published
// after the connection is established, one JSON text frame per event.
func (h *Handler) GetEvents(c *gin.Context) {
	logging.SkipGinRequestLogging(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debugf("events upgrade failed: %v", err)
		return
	}
	requestID := logging.GetGinRequestID(c)
	entry := log.WithField("request_id", requestID)
	entry.Debug("events subscriber connected")

	events, cancel := h.coord.Subscribe()
	defer cancel()

	var writeMu sync.Mutex
	closed := make(chan struct{})
	var closeOnce sync.Once
	shutdown := func() { closeOnce.Do(func() { close(closed) }) }
	defer func() {
		shutdown()
		_ = conn.Close()
		entry.Debug("events subscriber disconnected")
	}()

	conn.SetReadLimit(eventsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(eventsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsReadTimeout))
	})

	// Inbound frames are ignored; reading drives pong handling and close detection.
	go func() {
		defer shutdown()
		for {
			if _, _, errRead := conn.ReadMessage(); errRead != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(eventsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-closed:
				return
			case <-ticker.C:
				writeMu.Lock()
				errPing := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteTimeout))
				writeMu.Unlock()
				if errPing != nil {
					shutdown()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case n, ok := <-events:
			if !ok {
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(eventsWriteTimeout))
				writeMu.Unlock()
				return
			}
			payload, errEncode := n.Encode()
			if errEncode != nil {
				entry.Warnf("failed to encode %s notification: %v", n.Kind, errEncode)
				continue
			}
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
			errWrite := conn.WriteMessage(websocket.TextMessage, payload)
			writeMu.Unlock()
			if errWrite != nil {
				entry.Debugf("events write failed: %v", errWrite)
				return
			}
		}
	}
}
