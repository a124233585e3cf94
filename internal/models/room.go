package models

import "time"

// Room is a host-owned shared listening session. Every host owns at most
// one room; rooms are soft-deactivated rather than deleted.
type Room struct {
	ID             int64  `json:"id"`
	HostID         int64  `json:"hostId"`
	Name           string `json:"name"`
	QueueLimit     int    `json:"queueLimit"`     // bounded FIFO capacity, defaults to DefaultQueueLimit
	IsActive       bool   `json:"isActive"`
	CurrentTrackID int64  `json:"currentTrackId"` // 0 when nothing has played yet
}

// DefaultQueueLimit is applied when a room row carries no explicit limit.
const DefaultQueueLimit = 20

// QueueItem is one pending play request in a room's queue. Positions are
// monotonically increasing within a room and are never renumbered on
// deletion, so relative order is always position-comparison based.
type QueueItem struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"roomId"`
	TrackID   int64     `json:"trackId"`
	AddedBy   int64     `json:"addedBy"`
	Position  int64     `json:"position"`
	IsPlaying bool      `json:"isPlaying"`
	AddedAt   time.Time `json:"addedAt"`
	Track     *Track    `json:"track,omitempty"`
}

// Participant is a user currently joined to a room. A user belongs to at
// most one room at a time.
type Participant struct {
	UserID          int64     `json:"userId"`
	RoomID          int64     `json:"roomId"`
	CanControlQueue bool      `json:"canControlQueue"` // host always has control implicitly
	JoinedAt        time.Time `json:"joinedAt"`
}

// PlaybackState is ephemeral, process-memory-only playback info for a room.
// It exists exactly while some track is playing. Clients reconcile their
// own playback offset as now - StartedAt.
type PlaybackState struct {
	TrackID   int64     `json:"trackId"`
	StartedAt time.Time `json:"-"`
}

// StartedAtMillis returns the wall-clock start timestamp in unix
// milliseconds, the unit broadcast to clients.
func (p *PlaybackState) StartedAtMillis() int64 {
	return p.StartedAt.UnixMilli()
}
