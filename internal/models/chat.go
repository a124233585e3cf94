package models

import "time"

// ChatMessage is an append-only room chat line. History is best-effort:
// messages are persisted and fanned out live but never replayed as part
// of room state recovery.
type ChatMessage struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"roomId"`
	UserID    int64     `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
