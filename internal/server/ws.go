package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerWSRoute(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		writeHello(conn)

		events := hub.Subscribe()
		defer hub.Unsubscribe(events)

		for msg := range events {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("ws client gone", "remote", r.RemoteAddr)
				return
			}
		}
	})
}

// writeHello confirms the subscription so clients can distinguish an open
// socket from a live event stream.
func writeHello(conn *websocket.Conn) {
	hello := ConnectionEvent{
		Event:     newEvent("connection", time.Now().UTC()),
		Connected: true,
	}
	payload, err := json.Marshal(hello)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}
