package autopilot

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/trackpilot/core/events"
)

// Message is one bus event as sent on the websocket stream.
type Message struct {
	Kind  string       `json:"kind"`
	Event events.Event `json:"event"`
}

const writeTimeout = 5 * time.Second

// streamEvents streams every bus event to the websocket client until it
// disconnects. Slow clients miss events rather than stall the autopilot.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "event stream disabled", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	// The reader only detects the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(Message{Kind: ev.Kind(), Event: ev}); err != nil {
				s.log.Debugf("websocket write: %v", err)
				return
			}
		}
	}
}
