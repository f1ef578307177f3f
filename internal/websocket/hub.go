package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/model"
)

// Client represents a WebSocket client. Send is owned by the hub, which
// closes it on unregister or shutdown.
type Client struct {
	WallpaperID string
	Conn        *websocket.Conn
	Send        chan []byte

	// replies to client pings, owned by the connection
	pong chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by wallpaper ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Broadcast messages to wallpaper subscribers
	broadcast chan *BroadcastMessage

	// closed once Run has returned
	done chan struct{}

	logger zerolog.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	WallpaperID string
	Message     []byte
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "ws-hub").Logger(),
	}
}

// Run starts the hub's main loop. It returns when ctx is done; broadcasts
// and registrations after that are dropped.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for id, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.clients, id)
			}
			close(h.done)
			return

		case client := <-h.register:
			if h.clients[client.WallpaperID] == nil {
				h.clients[client.WallpaperID] = make(map[*Client]bool)
			}
			h.clients[client.WallpaperID][client] = true
			h.logger.Debug().Str("wallpaperId", client.WallpaperID).Msg("client registered")

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug().Str("wallpaperId", client.WallpaperID).Msg("client unregistered")

		case msg := <-h.broadcast:
			for client := range h.clients[msg.WallpaperID] {
				select {
				case client.Send <- msg.Message:
				default:
					// Slow consumer.
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.WallpaperID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.WallpaperID)
	}
}

// Register adds a new client. After shutdown the client's Send is closed
// right away.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastState publishes a committed state transition. Its signature matches
// assetstate.Listener.
func (h *Hub) BroadcastState(wallpaperID string, snap assetstate.Snapshot) {
	h.publish(wallpaperID, StateMessage(wallpaperID, snap))
}

// BroadcastProgress sends a progress update to all wallpaper subscribers
func (h *Hub) BroadcastProgress(wallpaperID, jobID string, progress int, status model.JobStatus, step string) {
	h.publish(wallpaperID, model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		WallpaperID: wallpaperID,
		JobID:       jobID,
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
	})
}

// BroadcastComplete sends a completion message to all wallpaper subscribers
func (h *Hub) BroadcastComplete(wallpaperID, jobID string, result model.WallpaperResponse) {
	h.publish(wallpaperID, model.WSCompleteMessage{
		Type:        model.WSMessageTypeComplete,
		WallpaperID: wallpaperID,
		JobID:       jobID,
		Result:      result,
	})
}

// BroadcastError sends an error message to all wallpaper subscribers
func (h *Hub) BroadcastError(wallpaperID, jobID, code, message string) {
	h.publish(wallpaperID, model.WSErrorMessage{
		Type:        model.WSMessageTypeError,
		WallpaperID: wallpaperID,
		JobID:       jobID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

func (h *Hub) publish(wallpaperID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal message")
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{WallpaperID: wallpaperID, Message: data}:
	case <-h.done:
	}
}

// StateMessage encodes snap the way BroadcastState sends it.
func StateMessage(wallpaperID string, snap assetstate.Snapshot) model.WSStateMessage {
	return model.WSStateMessage{
		Type:        model.WSMessageTypeState,
		WallpaperID: wallpaperID,
		State:       snap.State,
		Generation:  snap.Generation,
	}
}

// HandleConnection handles a WebSocket connection. initial, when not nil, is
// sent before any broadcast.
func (h *Hub) HandleConnection(c *websocket.Conn, wallpaperID string, initial []byte) {
	client := &Client{
		WallpaperID: wallpaperID,
		Conn:        c,
		Send:        make(chan []byte, 256),
		pong:        make(chan []byte, 1),
	}
	if initial != nil {
		client.Send <- initial
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case data := <-client.pong:
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("wallpaperId", wallpaperID).Msg("websocket read failed")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			select {
			case client.pong <- data:
			default:
				// A reply is already pending.
			}
		}
	}
}
