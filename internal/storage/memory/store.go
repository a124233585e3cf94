package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vinylsocial/vinyl-backend/internal/models"
	"github.com/vinylsocial/vinyl-backend/internal/storage"
)

// Store is an in-memory implementation of storage.Store used in dev mode
// and by the engine tests. It mirrors the postgres implementation's
// semantics, including the single-membership-per-user constraint.
type Store struct {
	mu sync.RWMutex

	rooms        map[int64]*models.Room
	roomsByHost  map[int64]int64 // hostID -> roomID, one room per host
	queues       map[int64][]*models.QueueItem
	participants map[int64]*models.Participant // keyed by userID
	tracks       map[int64]*models.Track
	chats        map[int64][]*models.ChatMessage

	nextRoomID  int64
	nextItemID  int64
	nextTrackID int64
	nextChatID  int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		rooms:        make(map[int64]*models.Room),
		roomsByHost:  make(map[int64]int64),
		queues:       make(map[int64][]*models.QueueItem),
		participants: make(map[int64]*models.Participant),
		tracks:       make(map[int64]*models.Track),
		chats:        make(map[int64][]*models.ChatMessage),
	}
}

// AddTrack seeds a track and returns it. Track ingestion is not part of
// this service, so this is only reachable from dev seeding and tests.
func (s *Store) AddTrack(title, artist string, duration int) *models.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTrackID++
	t := &models.Track{
		ID:       s.nextTrackID,
		Title:    title,
		Artist:   artist,
		Duration: duration,
	}
	s.tracks[t.ID] = t
	return t
}

// SetRoomQueueLimit adjusts a room's capacity; seeding and test helper.
func (s *Store) SetRoomQueueLimit(roomID int64, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		room.QueueLimit = limit
	}
}

func (s *Store) FindRoom(_ context.Context, roomID int64) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (s *Store) FindRoomByHost(_ context.Context, hostID int64) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roomID, ok := s.roomsByHost[hostID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.rooms[roomID]
	return &cp, nil
}

func (s *Store) CreateRoom(_ context.Context, hostID int64, name string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if roomID, ok := s.roomsByHost[hostID]; ok {
		cp := *s.rooms[roomID]
		return &cp, nil
	}

	s.nextRoomID++
	room := &models.Room{
		ID:         s.nextRoomID,
		HostID:     hostID,
		Name:       name,
		QueueLimit: models.DefaultQueueLimit,
		IsActive:   true,
	}
	s.rooms[room.ID] = room
	s.roomsByHost[hostID] = room.ID
	cp := *room
	return &cp, nil
}

func (s *Store) UpdateRoomCurrentTrack(_ context.Context, roomID, trackID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return storage.ErrNotFound
	}
	room.CurrentTrackID = trackID
	return nil
}

func (s *Store) ListQueue(_ context.Context, roomID int64) ([]*models.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.queues[roomID]
	out := make([]*models.QueueItem, 0, len(items))
	for _, item := range items {
		cp := *item
		if track, ok := s.tracks[item.TrackID]; ok {
			tcp := *track
			cp.Track = &tcp
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) InsertQueueItem(_ context.Context, roomID, trackID, addedBy, position int64) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, storage.ErrNotFound
	}
	track, ok := s.tracks[trackID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	s.nextItemID++
	item := &models.QueueItem{
		ID:       s.nextItemID,
		RoomID:   roomID,
		TrackID:  trackID,
		AddedBy:  addedBy,
		Position: position,
		AddedAt:  time.Now(),
	}
	s.queues[roomID] = append(s.queues[roomID], item)

	cp := *item
	tcp := *track
	cp.Track = &tcp
	return &cp, nil
}

func (s *Store) DeleteQueueItem(_ context.Context, itemID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID, items := range s.queues {
		for i, item := range items {
			if item.ID == itemID {
				s.queues[roomID] = append(items[:i], items[i+1:]...)
				return nil
			}
		}
	}
	return storage.ErrNotFound
}

func (s *Store) SetPlayingItem(_ context.Context, roomID, itemID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return storage.ErrNotFound
	}
	for _, item := range s.queues[roomID] {
		item.IsPlaying = item.ID == itemID && itemID != 0
	}
	return nil
}

func (s *Store) ListParticipants(_ context.Context, roomID int64) ([]*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Participant
	for _, p := range s.participants {
		if p.RoomID == roomID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Store) FindParticipantByUser(_ context.Context, userID int64) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpsertParticipant(_ context.Context, roomID, userID int64, canControlQueue bool) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, storage.ErrNotFound
	}

	p, ok := s.participants[userID]
	if !ok {
		p = &models.Participant{UserID: userID, JoinedAt: time.Now()}
		s.participants[userID] = p
	}
	p.RoomID = roomID
	p.CanControlQueue = canControlQueue
	cp := *p
	return &cp, nil
}

func (s *Store) RemoveParticipant(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[userID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.participants, userID)
	return nil
}

func (s *Store) InsertChatMessage(_ context.Context, roomID, userID int64, content string) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, storage.ErrNotFound
	}

	s.nextChatID++
	msg := &models.ChatMessage{
		ID:        s.nextChatID,
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.chats[roomID] = append(s.chats[roomID], msg)
	cp := *msg
	return &cp, nil
}

func (s *Store) GetTrack(_ context.Context, trackID int64) (*models.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	track, ok := s.tracks[trackID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *track
	return &cp, nil
}

func (s *Store) SearchTracks(_ context.Context, query string, limit int) ([]*models.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var out []*models.Track
	for _, track := range s.tracks {
		if strings.Contains(strings.ToLower(track.Title), q) ||
			strings.Contains(strings.ToLower(track.Artist), q) {
			cp := *track
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) IncrementTrackPlayCount(_ context.Context, trackID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	track, ok := s.tracks[trackID]
	if !ok {
		return storage.ErrNotFound
	}
	track.PlayCount++
	return nil
}
