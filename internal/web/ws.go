package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/humidity-fan/internal/status"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12
)

var upgrader = websocket.Upgrader{
	// The page is served from this host; other LAN dashboards may embed the feed too.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS streams the status JSON: once on connect and again after every change.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	closed := make(chan struct{})
	go drain(conn, closed)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	// Take the channel before the snapshot so no change is missed in between.
	changed := s.tracker.Changed()
	if err := send(conn, s.tracker.Snapshot()); err != nil {
		s.log.Debugw("ws write failed", "err", err)
		return
	}

	for {
		select {
		case <-changed:
			changed = s.tracker.Changed()
			if err := send(conn, s.tracker.Snapshot()); err != nil {
				s.log.Debugw("ws write failed", "err", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Debugw("ws ping failed", "err", err)
				return
			}
		case <-closed:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// drain reads (and discards) client frames so control frames are handled
// and a closed connection is noticed.
func drain(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func send(conn *websocket.Conn, snap status.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, status.FormatJSON(snap))
}
