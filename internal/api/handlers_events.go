package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/jordanhubbard/sentinel/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// handleEvents returns recent bus events, newest first.
// GET /api/v1/events?limit=50
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	s.respondJSON(w, http.StatusOK, s.engine.Bus().Recent(limit))
}

// handleEventStream upgrades to a websocket and fans out bus events.
// GET /api/v1/events/stream?type=loop.frozen
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var filter []eventbus.EventType
	if t := r.URL.Query().Get("type"); t != "" {
		filter = append(filter, eventbus.EventType(t))
	}

	// The bus delivers synchronously; buffer so a slow client drops
	// events instead of stalling governance decisions.
	events := make(chan *eventbus.Event, 64)
	subID := s.engine.Bus().Subscribe(func(ev *eventbus.Event) {
		select {
		case events <- ev:
		default:
		}
	}, filter...)
	defer s.engine.Bus().Unsubscribe(subID)

	log.Printf("[API] Event stream client connected: %s", r.RemoteAddr)

	// Reader goroutine notices client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			log.Printf("[API] Event stream client disconnected: %s", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("[API] Event stream write failed: %v", err)
				return
			}
		}
	}
}
