package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/workflow"
)

// Event types sent on /api/events.
const (
	EventRunCompleted = "run_completed"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	clientBuffer = 16
)

// Event is one message on the event feed
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RunSummary is the event payload for a completed run
type RunSummary struct {
	RunID         string        `json:"run_id"`
	Input         string        `json:"input"`
	Intent        domain.Intent `json:"intent,omitempty"`
	TaskID        domain.TaskID `json:"task_id,omitempty"`
	Outcome       string        `json:"outcome"`
	Result        string        `json:"result"`
	RequiresHuman bool          `json:"requires_human"`
	Error         string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

func runSummary(run *workflow.RunState) RunSummary {
	return RunSummary{
		RunID:         run.RunID,
		Input:         run.Input,
		Intent:        run.Intent(),
		TaskID:        run.TaskID(),
		Outcome:       run.Outcome.Kind(),
		Result:        run.ResultMessage,
		RequiresHuman: run.RequiresHuman(),
		Error:         run.ErrorText(),
		Timestamp:     run.StartedAt,
	}
}

// Hub fans events out to websocket subscribers. A subscriber that cannot
// keep up is disconnected rather than allowed to block the broadcaster.
type Hub struct {
	clients   map[chan Event]bool
	broadcast chan Event
	mu        sync.Mutex
	logger    *slog.Logger
}

// NewHub creates a new event hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:   make(map[chan Event]bool),
		broadcast: make(chan Event, 64),
		logger:    logger,
	}
}

// Run delivers broadcast events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- event:
				default:
					close(client)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an event for all subscribers. It never blocks; events
// are dropped when the hub is saturated.
func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Event dropped, hub saturated", "type", event.Type)
	}
}

// Subscribe registers a new subscriber channel.
func (h *Hub) Subscribe() chan Event {
	client := make(chan Event, clientBuffer)
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	return client
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(client chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client)
	}
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client)
		delete(h.clients, client)
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) eventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			s.logger.Debug("Websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		client := s.hub.Subscribe()
		defer s.hub.Unsubscribe(client)

		// The read loop only exists to notice the peer going away and to
		// process pongs.
		gone := make(chan struct{})
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						s.logger.Debug("Event subscriber read error", "error", err)
					}
					return
				}
			}
		}()

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-client:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
					return
				}
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-gone:
				return
			}
		}
	}
}
