// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nyx.sh/core/internal/logging"
	"nyx.sh/core/internal/tracker"
)

const wsPushInterval = 2 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsHub pushes the live connection list to every subscribed client on a
// fixed interval, the push counterpart to the pull-based GET /connections.
type wsHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *wsHub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
}

func (h *wsHub) broadcast(snaps []tracker.Snapshot) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteJSON(snaps); err != nil {
			h.remove(c)
		}
	}
}

// Run drives the periodic push loop until ctx is canceled.
func (h *wsHub) Run(ctx context.Context, trk *tracker.Tracker) {
	go func() {
		ticker := time.NewTicker(wsPushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.broadcast(trk.List())
			}
		}
	}()
}

// handleConnectionsWS implements GET /connections/ws, upgrading to a
// websocket that receives a connection-list snapshot every wsPushInterval.
func (s *Server) handleConnectionsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("ws upgrade failed: %v", err)
		return
	}
	s.ws.add(conn)

	go func() {
		defer s.ws.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
