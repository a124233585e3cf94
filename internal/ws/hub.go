package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one subscribed websocket connection. A connection is bound
// to a single room for its lifetime.
type Client struct {
	SessionID string
	UserID    int64
	RoomID    int64
	Send      chan []byte
	Conn      *websocket.Conn
}

// Presence receives join/leave notifications for ephemeral listener
// counting. May be nil.
type Presence interface {
	Joined(roomID int64)
	Left(roomID int64)
}

// Hub fans room events out to every subscribed connection. Delivery is
// best-effort and at most once: a client whose send buffer is full is
// dropped and must rejoin for a fresh snapshot.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan BroadcastMessage

	mu       sync.RWMutex
	clients  map[int64]map[*Client]bool // roomID -> clients
	presence Presence
}

// BroadcastMessage is one marshaled event addressed to a room.
type BroadcastMessage struct {
	RoomID int64
	Data   []byte
}

// NewHub creates a hub. presence may be nil.
func NewHub(presence Presence) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan BroadcastMessage, 64),
		clients:    make(map[int64]map[*Client]bool),
		presence:   presence,
	}
}

// Run processes registration and fan-out until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if h.clients[client.RoomID] == nil {
				h.clients[client.RoomID] = make(map[*Client]bool)
			}
			h.clients[client.RoomID][client] = true
			h.mu.Unlock()
			if h.presence != nil {
				h.presence.Joined(client.RoomID)
			}
		case client := <-h.Unregister:
			h.mu.Lock()
			removed := false
			if clients, ok := h.clients[client.RoomID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					removed = true
				}
				if len(clients) == 0 {
					delete(h.clients, client.RoomID)
				}
			}
			h.mu.Unlock()
			if removed && h.presence != nil {
				h.presence.Left(client.RoomID)
			}
		case msg := <-h.Broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.RoomID] {
				select {
				case client.Send <- msg.Data:
				default:
					// Slow client: drop it rather than stall the room.
					close(client.Send)
					delete(h.clients[msg.RoomID], client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastRoom implements the room engine's Broadcaster.
func (h *Hub) BroadcastRoom(roomID int64, data []byte) {
	h.Broadcast <- BroadcastMessage{RoomID: roomID, Data: data}
}

// RoomSubscribers reports how many connections are subscribed to the
// room; the registry checks it before evicting idle room state.
func (h *Hub) RoomSubscribers(roomID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[roomID])
}
