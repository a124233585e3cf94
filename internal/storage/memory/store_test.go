package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinylsocial/vinyl-backend/internal/storage"
)

func TestCreateRoomIsIdempotentPerHost(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	first, err := s.CreateRoom(ctx, 1, "mine")
	require.NoError(t, err)
	second, err := s.CreateRoom(ctx, 1, "other name")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "one room per host")

	found, err := s.FindRoomByHost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestUpsertParticipantMovesBetweenRooms(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	roomA, _ := s.CreateRoom(ctx, 1, "a")
	roomB, _ := s.CreateRoom(ctx, 2, "b")

	_, err := s.UpsertParticipant(ctx, roomA.ID, 7, false)
	require.NoError(t, err)
	_, err = s.UpsertParticipant(ctx, roomB.ID, 7, false)
	require.NoError(t, err)

	p, err := s.FindParticipantByUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, roomB.ID, p.RoomID)

	inA, err := s.ListParticipants(ctx, roomA.ID)
	require.NoError(t, err)
	assert.Empty(t, inA, "membership row moved, not duplicated")
}

func TestListQueueOrdersByPosition(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	room, _ := s.CreateRoom(ctx, 1, "a")
	track := s.AddTrack("T", "A", 120)

	for _, pos := range []int64{3, 1, 2} {
		_, err := s.InsertQueueItem(ctx, room.ID, track.ID, 1, pos)
		require.NoError(t, err)
	}

	items, err := s.ListQueue(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, int64(i+1), item.Position)
		require.NotNil(t, item.Track)
		assert.Equal(t, 120, item.Track.Duration)
	}
}

func TestSetPlayingItemIsExclusive(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	room, _ := s.CreateRoom(ctx, 1, "a")
	track := s.AddTrack("T", "A", 0)
	i1, _ := s.InsertQueueItem(ctx, room.ID, track.ID, 1, 1)
	i2, _ := s.InsertQueueItem(ctx, room.ID, track.ID, 1, 2)

	require.NoError(t, s.SetPlayingItem(ctx, room.ID, i1.ID))
	require.NoError(t, s.SetPlayingItem(ctx, room.ID, i2.ID))

	items, _ := s.ListQueue(ctx, room.ID)
	playing := 0
	for _, item := range items {
		if item.IsPlaying {
			playing++
			assert.Equal(t, i2.ID, item.ID)
		}
	}
	assert.Equal(t, 1, playing)

	// Zero clears without setting.
	require.NoError(t, s.SetPlayingItem(ctx, room.ID, 0))
	items, _ = s.ListQueue(ctx, room.ID)
	for _, item := range items {
		assert.False(t, item.IsPlaying)
	}
}

func TestTrackLookupsAndPlayCount(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	track := s.AddTrack("Bohemian Rhapsody", "Queen", 354)

	_, err := s.GetTrack(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.IncrementTrackPlayCount(ctx, track.ID))
	got, err := s.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.PlayCount)

	byTitle, err := s.SearchTracks(ctx, "rhapsody", 10)
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	byArtist, err := s.SearchTracks(ctx, "queen", 10)
	require.NoError(t, err)
	require.Len(t, byArtist, 1)
}

func TestDeleteQueueItem(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	room, _ := s.CreateRoom(ctx, 1, "a")
	track := s.AddTrack("T", "A", 0)
	item, _ := s.InsertQueueItem(ctx, room.ID, track.ID, 1, 1)

	require.NoError(t, s.DeleteQueueItem(ctx, item.ID))
	assert.ErrorIs(t, s.DeleteQueueItem(ctx, item.ID), storage.ErrNotFound)

	items, _ := s.ListQueue(ctx, room.ID)
	assert.Empty(t, items)
}
