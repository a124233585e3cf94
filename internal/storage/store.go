package storage

import (
	"context"
	"errors"

	"github.com/vinylsocial/vinyl-backend/internal/models"
)

// ErrNotFound is returned when a room, track, participant or queue item
// does not exist in the store.
var ErrNotFound = errors.New("storage: not found")

// Store is the durable persistence collaborator behind the room engine.
// The engine treats it as CRUD accessors; all serialization of writes
// happens above this interface, inside the per-room actor.
type Store interface {
	// Rooms.
	FindRoom(ctx context.Context, roomID int64) (*models.Room, error)
	FindRoomByHost(ctx context.Context, hostID int64) (*models.Room, error)
	CreateRoom(ctx context.Context, hostID int64, name string) (*models.Room, error)
	UpdateRoomCurrentTrack(ctx context.Context, roomID, trackID int64) error

	// Queue. ListQueue returns items ordered by ascending position with
	// track metadata attached.
	ListQueue(ctx context.Context, roomID int64) ([]*models.QueueItem, error)
	InsertQueueItem(ctx context.Context, roomID, trackID, addedBy, position int64) (*models.QueueItem, error)
	DeleteQueueItem(ctx context.Context, itemID int64) error
	// SetPlayingItem clears every is-playing flag in the room, then sets
	// it on itemID. itemID 0 only clears.
	SetPlayingItem(ctx context.Context, roomID, itemID int64) error

	// Participants. UpsertParticipant is keyed by user id: a user holds
	// at most one membership row, so upserting moves them between rooms.
	ListParticipants(ctx context.Context, roomID int64) ([]*models.Participant, error)
	FindParticipantByUser(ctx context.Context, userID int64) (*models.Participant, error)
	UpsertParticipant(ctx context.Context, roomID, userID int64, canControlQueue bool) (*models.Participant, error)
	RemoveParticipant(ctx context.Context, userID int64) error

	// Chat.
	InsertChatMessage(ctx context.Context, roomID, userID int64, content string) (*models.ChatMessage, error)

	// Tracks.
	GetTrack(ctx context.Context, trackID int64) (*models.Track, error)
	SearchTracks(ctx context.Context, query string, limit int) ([]*models.Track, error)
	IncrementTrackPlayCount(ctx context.Context, trackID int64) error
}
