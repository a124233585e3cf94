package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/vinylsocial/vinyl-backend/internal/middleware"
	"github.com/vinylsocial/vinyl-backend/internal/models"
	"github.com/vinylsocial/vinyl-backend/internal/room"
	"github.com/vinylsocial/vinyl-backend/internal/storage"
	"github.com/vinylsocial/vinyl-backend/internal/ws"
)

// Handler serves the HTTP admin surface and the websocket command
// gateway. Both map 1:1 onto room commands: nothing here mutates room
// state directly, everything goes through the registry so the per-room
// serialization holds on every path.
type Handler struct {
	Store     storage.Store
	Registry  *room.Registry
	Hub       *ws.Hub
	JWTSecret string
}

// CreateOrGetRoom returns the caller's room, creating it on first use.
// Exactly one room exists per host.
func (h *Handler) CreateOrGetRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Access token required", http.StatusUnauthorized)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // name is optional
	}

	existing, err := h.Store.FindRoomByHost(r.Context(), userID)
	if err == nil {
		writeJSON(w, http.StatusOK, existing)
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		log.Printf("[Room] lookup by host %d failed: %v", userID, err)
		http.Error(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	created, err := h.Store.CreateRoom(r.Context(), userID, req.Name)
	if err != nil {
		log.Printf("[Room] create for host %d failed: %v", userID, err)
		http.Error(w, "Failed to create room", http.StatusInternalServerError)
		return
	}
	log.Printf("[Room] created room %d for host %d", created.ID, userID)
	writeJSON(w, http.StatusCreated, created)
}

// GetRoom returns durable room attributes plus the live snapshot.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(w, r)
	if !ok {
		return
	}

	info, err := h.Store.FindRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Room not found", http.StatusNotFound)
		} else {
			http.Error(w, "Failed to fetch room", http.StatusInternalServerError)
		}
		return
	}

	res, err := h.Registry.Submit(r.Context(), roomID, room.GetSnapshot{})
	if err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Room     *models.Room   `json:"room"`
		Snapshot *room.Snapshot `json:"state"`
	}{info, res.Snapshot})
}

// JoinRoom joins the caller, moving them out of any other room first,
// and returns the snapshot a realtime joiner would receive.
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(w, r)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(r.Context())

	snap, err := h.Registry.JoinRoom(r.Context(), roomID, userID)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// LeaveRoom removes the caller's membership.
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(w, r)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(r.Context())

	if _, err := h.Registry.Submit(r.Context(), roomID, room.Leave{UserID: userID}); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Left room"})
}

// EnqueueTrack appends a track to the room queue.
func (h *Handler) EnqueueTrack(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(w, r)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(r.Context())

	var req struct {
		TrackID int64 `json:"trackId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackID <= 0 {
		http.Error(w, "trackId is required", http.StatusBadRequest)
		return
	}

	res, err := h.Registry.Submit(r.Context(), roomID, room.Enqueue{UserID: userID, TrackID: req.TrackID})
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Item)
}

// PlayTrack starts a queued track explicitly.
func (h *Handler) PlayTrack(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(w, r)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(r.Context())

	var req struct {
		TrackID int64 `json:"trackId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackID <= 0 {
		http.Error(w, "trackId is required", http.StatusBadRequest)
		return
	}

	if _, err := h.Registry.Submit(r.Context(), roomID, room.Play{UserID: userID, TrackID: req.TrackID}); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Track started"})
}

// SkipTrack advances the queue on demand.
func (h *Handler) SkipTrack(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(w, r)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(r.Context())

	if _, err := h.Registry.Submit(r.Context(), roomID, room.Skip{UserID: userID}); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Skipped"})
}

// SetPermission grants or revokes queue control. Host only.
func (h *Handler) SetPermission(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(w, r)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(r.Context())

	var req struct {
		UserID          int64 `json:"userId"`
		CanControlQueue bool  `json:"canControlQueue"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	cmd := room.SetPermission{ActorID: userID, TargetUserID: req.UserID, Allowed: req.CanControlQueue}
	if _, err := h.Registry.Submit(r.Context(), roomID, cmd); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Permissions updated"})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundFrame is the closed set of realtime commands a client may send.
// Required fields are validated here, at the gateway boundary.
type inboundFrame struct {
	Type    string `json:"type"`
	TrackID int64  `json:"trackId,omitempty"`
	UserID  int64  `json:"userId,omitempty"`
	Allowed bool   `json:"allowed,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServeWS upgrades the duplex connection, joins the caller to the room,
// replies with the state snapshot on this socket only, and then relays
// frames as room commands. Rejections are written back on the issuing
// socket and are never broadcast.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(r.URL.Query().Get("room_id"), 10, 64)
	if err != nil || roomID <= 0 {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	token := middleware.TokenFromRequest(r)
	userID, err := middleware.ParseUserToken(token, h.JWTSecret)
	if err != nil {
		http.Error(w, "Invalid or expired token", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Room] websocket upgrade failed for room %d: %v", roomID, err)
		return
	}

	client := &ws.Client{
		SessionID: uuid.NewString(),
		UserID:    userID,
		RoomID:    roomID,
		Send:      make(chan []byte, 256),
		Conn:      conn,
	}
	// Subscribe before joining: every event broadcast from the join
	// onwards reaches this connection, and the snapshot computed by the
	// join already covers anything delivered ahead of it.
	h.Hub.Register <- client

	snap, err := h.Registry.JoinRoom(r.Context(), roomID, userID)
	if err != nil {
		h.Hub.Unregister <- client
		conn.WriteJSON(errorFrame(err))
		conn.Close()
		return
	}
	if data, err := json.Marshal(room.Event{Type: room.EventState, Payload: snap}); err == nil {
		client.Send <- data
	}
	log.Printf("[Room] user %d connected to room %d (session %s)", userID, roomID, client.SessionID)

	go h.readPump(client)
	go writePump(client)
}

func (h *Handler) readPump(client *ws.Client) {
	defer func() {
		h.Hub.Unregister <- client
		client.Conn.Close()
		log.Printf("[Room] session %s disconnected from room %d", client.SessionID, client.RoomID)
	}()

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Room] read error for session %s: %v", client.SessionID, err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(client, room.ErrInvalidCommand)
			continue
		}

		cmd, err := commandFromFrame(frame, client.UserID)
		if err != nil {
			h.sendError(client, err)
			continue
		}

		if _, ok := cmd.(room.Leave); ok {
			// Explicit leave drops membership and ends the session.
			// A plain disconnect keeps membership for reconnects.
			if _, err := h.Registry.Submit(context.Background(), client.RoomID, cmd); err != nil {
				h.sendError(client, err)
			}
			return
		}

		if _, err := h.Registry.Submit(context.Background(), client.RoomID, cmd); err != nil {
			h.sendError(client, err)
		}
	}
}

func writePump(client *ws.Client) {
	defer client.Conn.Close()
	for message := range client.Send {
		if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("[Room] write error for session %s: %v", client.SessionID, err)
			return
		}
	}
}

func commandFromFrame(frame inboundFrame, userID int64) (room.Command, error) {
	switch frame.Type {
	case "enqueue":
		if frame.TrackID <= 0 {
			return nil, room.ErrInvalidCommand
		}
		return room.Enqueue{UserID: userID, TrackID: frame.TrackID}, nil
	case "play":
		if frame.TrackID <= 0 {
			return nil, room.ErrInvalidCommand
		}
		return room.Play{UserID: userID, TrackID: frame.TrackID}, nil
	case "skip":
		return room.Skip{UserID: userID}, nil
	case "chat":
		if frame.Message == "" {
			return nil, room.ErrInvalidCommand
		}
		return room.Chat{UserID: userID, Text: frame.Message}, nil
	case "set-permission":
		if frame.UserID <= 0 {
			return nil, room.ErrInvalidCommand
		}
		return room.SetPermission{ActorID: userID, TargetUserID: frame.UserID, Allowed: frame.Allowed}, nil
	case "leave":
		return room.Leave{UserID: userID}, nil
	default:
		return nil, room.ErrInvalidCommand
	}
}

func (h *Handler) sendError(client *ws.Client, err error) {
	data, merr := json.Marshal(errorFrame(err))
	if merr != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorFrame(err error) room.Event {
	return room.Event{Type: "error", Payload: errorPayload{Code: errorCode(err), Message: err.Error()}}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return "not-found"
	case errors.Is(err, room.ErrForbidden):
		return "forbidden"
	case errors.Is(err, room.ErrInvalidCommand):
		return "invalid"
	case room.IsPersistence(err):
		return "persistence"
	default:
		return "internal"
	}
}

func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, room.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, room.ErrInvalidCommand):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("[Room] command failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func roomIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid room id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
