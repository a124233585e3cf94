package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vinylsocial/vinyl-backend/internal/models"
	"github.com/vinylsocial/vinyl-backend/internal/storage"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool against the given DSN and verifies it
// with a ping.
func NewStore(dataSourceName string) (*Store, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Println("[Store] connected to PostgreSQL")
	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindRoom(ctx context.Context, roomID int64) (*models.Room, error) {
	room := &models.Room{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, host_id, COALESCE(name, ''), COALESCE(queue_limit, $2),
		       is_active, COALESCE(current_track_id, 0)
		FROM rooms WHERE id = $1`,
		roomID, models.DefaultQueueLimit,
	).Scan(&room.ID, &room.HostID, &room.Name, &room.QueueLimit, &room.IsActive, &room.CurrentTrackID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find room %d: %w", roomID, err)
	}
	return room, nil
}

func (s *Store) FindRoomByHost(ctx context.Context, hostID int64) (*models.Room, error) {
	room := &models.Room{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, host_id, COALESCE(name, ''), COALESCE(queue_limit, $2),
		       is_active, COALESCE(current_track_id, 0)
		FROM rooms WHERE host_id = $1`,
		hostID, models.DefaultQueueLimit,
	).Scan(&room.ID, &room.HostID, &room.Name, &room.QueueLimit, &room.IsActive, &room.CurrentTrackID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find room by host %d: %w", hostID, err)
	}
	return room, nil
}

func (s *Store) CreateRoom(ctx context.Context, hostID int64, name string) (*models.Room, error) {
	room := &models.Room{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rooms (host_id, name, queue_limit, is_active)
		VALUES ($1, NULLIF($2, ''), $3, TRUE)
		RETURNING id, host_id, COALESCE(name, ''), queue_limit, is_active, COALESCE(current_track_id, 0)`,
		hostID, name, models.DefaultQueueLimit,
	).Scan(&room.ID, &room.HostID, &room.Name, &room.QueueLimit, &room.IsActive, &room.CurrentTrackID)
	if err != nil {
		return nil, fmt.Errorf("create room for host %d: %w", hostID, err)
	}
	return room, nil
}

func (s *Store) UpdateRoomCurrentTrack(ctx context.Context, roomID, trackID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET current_track_id = NULLIF($2, 0) WHERE id = $1`, roomID, trackID)
	if err != nil {
		return fmt.Errorf("update current track for room %d: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListQueue(ctx context.Context, roomID int64) ([]*models.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.room_id, q.track_id, COALESCE(q.added_by, 0), q.position,
		       q.is_playing, q.added_at,
		       t.id, t.title, t.artist, COALESCE(t.duration, 0), t.play_count
		FROM room_queue_items q
		JOIN tracks t ON t.id = q.track_id
		WHERE q.room_id = $1
		ORDER BY q.position ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list queue for room %d: %w", roomID, err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item := &models.QueueItem{Track: &models.Track{}}
		err := rows.Scan(
			&item.ID, &item.RoomID, &item.TrackID, &item.AddedBy, &item.Position,
			&item.IsPlaying, &item.AddedAt,
			&item.Track.ID, &item.Track.Title, &item.Track.Artist,
			&item.Track.Duration, &item.Track.PlayCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue rows: %w", err)
	}
	return items, nil
}

func (s *Store) InsertQueueItem(ctx context.Context, roomID, trackID, addedBy, position int64) (*models.QueueItem, error) {
	item := &models.QueueItem{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO room_queue_items (room_id, track_id, added_by, position)
		VALUES ($1, $2, NULLIF($3, 0), $4)
		RETURNING id, room_id, track_id, COALESCE(added_by, 0), position, is_playing, added_at`,
		roomID, trackID, addedBy, position,
	).Scan(&item.ID, &item.RoomID, &item.TrackID, &item.AddedBy, &item.Position, &item.IsPlaying, &item.AddedAt)
	if err != nil {
		return nil, fmt.Errorf("insert queue item for room %d: %w", roomID, err)
	}
	track, err := s.GetTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}
	item.Track = track
	return item, nil
}

func (s *Store) DeleteQueueItem(ctx context.Context, itemID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM room_queue_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete queue item %d: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetPlayingItem clears every playing flag in the room and sets the flag
// on itemID inside one transaction, keeping the at-most-one-playing
// invariant durable.
func (s *Store) SetPlayingItem(ctx context.Context, roomID, itemID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set-playing tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE room_queue_items SET is_playing = FALSE WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("clear playing flags for room %d: %w", roomID, err)
	}
	if itemID != 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE room_queue_items SET is_playing = TRUE WHERE id = $1 AND room_id = $2`,
			itemID, roomID); err != nil {
			return fmt.Errorf("set playing flag on item %d: %w", itemID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListParticipants(ctx context.Context, roomID int64) ([]*models.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, room_id, can_control_queue, joined_at
		FROM room_participants
		WHERE room_id = $1
		ORDER BY joined_at ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list participants for room %d: %w", roomID, err)
	}
	defer rows.Close()

	var out []*models.Participant
	for rows.Next() {
		p := &models.Participant{}
		if err := rows.Scan(&p.UserID, &p.RoomID, &p.CanControlQueue, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participant rows: %w", err)
	}
	return out, nil
}

func (s *Store) FindParticipantByUser(ctx context.Context, userID int64) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, room_id, can_control_queue, joined_at
		FROM room_participants WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.RoomID, &p.CanControlQueue, &p.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find participant %d: %w", userID, err)
	}
	return p, nil
}

// UpsertParticipant relies on the unique user_id constraint: a conflict
// moves the user into the new room, which is exactly the
// one-room-per-user rule.
func (s *Store) UpsertParticipant(ctx context.Context, roomID, userID int64, canControlQueue bool) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO room_participants (room_id, user_id, can_control_queue)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET room_id = EXCLUDED.room_id, can_control_queue = EXCLUDED.can_control_queue
		RETURNING user_id, room_id, can_control_queue, joined_at`,
		roomID, userID, canControlQueue,
	).Scan(&p.UserID, &p.RoomID, &p.CanControlQueue, &p.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert participant %d into room %d: %w", userID, roomID, err)
	}
	return p, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM room_participants WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("remove participant %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) InsertChatMessage(ctx context.Context, roomID, userID int64, content string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_messages (room_id, user_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, room_id, user_id, content, created_at`,
		roomID, userID, content,
	).Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.Content, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat message for room %d: %w", roomID, err)
	}
	return msg, nil
}

func (s *Store) GetTrack(ctx context.Context, trackID int64) (*models.Track, error) {
	track := &models.Track{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, artist, COALESCE(duration, 0), play_count
		FROM tracks WHERE id = $1`, trackID,
	).Scan(&track.ID, &track.Title, &track.Artist, &track.Duration, &track.PlayCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get track %d: %w", trackID, err)
	}
	return track, nil
}

func (s *Store) SearchTracks(ctx context.Context, query string, limit int) ([]*models.Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, artist, COALESCE(duration, 0), play_count
		FROM tracks
		WHERE title ILIKE '%' || $1 || '%' OR artist ILIKE '%' || $1 || '%'
		ORDER BY play_count DESC, id ASC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search tracks %q: %w", query, err)
	}
	defer rows.Close()

	var out []*models.Track
	for rows.Next() {
		track := &models.Track{}
		if err := rows.Scan(&track.ID, &track.Title, &track.Artist, &track.Duration, &track.PlayCount); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		out = append(out, track)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate track rows: %w", err)
	}
	return out, nil
}

func (s *Store) IncrementTrackPlayCount(ctx context.Context, trackID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracks SET play_count = play_count + 1 WHERE id = $1`, trackID)
	if err != nil {
		return fmt.Errorf("increment play count for track %d: %w", trackID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
