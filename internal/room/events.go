package room

import (
	"encoding/json"
	"log"

	"github.com/vinylsocial/vinyl-backend/internal/models"
)

// Broadcaster fans a marshaled event out to every connection currently
// subscribed to the room. Delivery is best-effort, at most once per
// connected subscriber.
type Broadcaster interface {
	BroadcastRoom(roomID int64, data []byte)
	// RoomSubscribers reports how many connections are subscribed; the
	// registry consults it before evicting idle room state.
	RoomSubscribers(roomID int64) int
}

// Event type tags on the wire. The payload shape is fixed per tag.
const (
	EventState             = "room:state"
	EventTrackStart        = "room:track-start"
	EventTrackStop         = "room:track-stop"
	EventTrackAdded        = "room:track-added"
	EventMembershipChanged = "room:membership-changed"
	EventChatMessage       = "room:chat-message"
)

// Event is the envelope every broadcast frame uses.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Snapshot is the full room state sent to a newly joined client, and the
// payload of EventState.
type Snapshot struct {
	Queue           []*models.QueueItem   `json:"queue"`
	Playback        *PlaybackInfo         `json:"playback"`
	Participants    []*models.Participant `json:"participants"`
	HostID          int64                 `json:"hostId"`
	ActiveListeners int                   `json:"activeListeners"`
}

// PlaybackInfo is the wire form of the ephemeral playback state. Clients
// compute their local offset as now - StartedAt.
type PlaybackInfo struct {
	TrackID   int64 `json:"trackId"`
	StartedAt int64 `json:"startedAt"` // unix milliseconds
}

// TrackStartPayload announces a new playing track.
type TrackStartPayload struct {
	TrackID   int64         `json:"trackId"`
	StartedAt int64         `json:"startedAt"` // unix milliseconds
	Track     *models.Track `json:"track"`
}

// TrackAddedPayload carries the accepted item plus the whole resulting
// queue, so a capacity eviction is visible without its own event.
type TrackAddedPayload struct {
	Item  *models.QueueItem   `json:"item"`
	Queue []*models.QueueItem `json:"queue"`
}

// MembershipPayload announces joins, leaves and permission changes.
type MembershipPayload struct {
	UserID          int64 `json:"userId"`
	Joined          bool  `json:"joined"`
	CanControlQueue bool  `json:"canControlQueue"`
}

func marshalEvent(eventType string, payload interface{}) []byte {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		// Payload types are closed and always marshalable; reaching this
		// is a programming error.
		log.Printf("[Room] failed to marshal %s event: %v", eventType, err)
		return nil
	}
	return data
}
