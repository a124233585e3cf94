package room

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/vinylsocial/vinyl-backend/internal/storage"
)

// Registry is the process-wide owner of live room actors, keyed by room
// id. It is the only component allowed to hold long-lived Room
// references; everything else submits commands through it.
type Registry struct {
	store    storage.Store
	hub      Broadcaster
	presence PresenceCounter

	// mu guards rooms and is held across materialization, so two
	// concurrent first accesses cannot spawn two actors for one room.
	mu    sync.Mutex
	rooms map[int64]*Room
}

// NewRegistry creates an empty registry. presence may be nil.
func NewRegistry(store storage.Store, hub Broadcaster, presence PresenceCounter) *Registry {
	return &Registry{
		store:    store,
		hub:      hub,
		presence: presence,
		rooms:    make(map[int64]*Room),
	}
}

// getOrCreate returns the live actor for roomID, materializing it from
// the store on first access. Concurrent calls for the same room get the
// same instance.
func (g *Registry) getOrCreate(ctx context.Context, roomID int64) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[roomID]; ok {
		return r, nil
	}
	r, err := materialize(ctx, roomID, g)
	if err != nil {
		return nil, err
	}
	g.rooms[roomID] = r
	return r, nil
}

// Submit routes one command to the room's actor and waits for the
// outcome. A room evicted between lookup and delivery is transparently
// re-materialized.
func (g *Registry) Submit(ctx context.Context, roomID int64, cmd Command) (Result, error) {
	for {
		r, err := g.getOrCreate(ctx, roomID)
		if err != nil {
			return Result{}, err
		}
		res, err := r.submit(ctx, cmd)
		if errors.Is(err, errRoomStopped) {
			continue
		}
		return res, err
	}
}

// JoinRoom enforces the single-room membership rule before joining:
// membership elsewhere is removed through that room's own actor, so both
// rooms stay internally consistent, then the join runs in the target's.
// The returned snapshot goes to the joiner only.
func (g *Registry) JoinRoom(ctx context.Context, roomID, userID int64) (*Snapshot, error) {
	if existing, err := g.store.FindParticipantByUser(ctx, userID); err == nil &&
		existing.RoomID != roomID {
		if _, err := g.Submit(ctx, existing.RoomID, Leave{UserID: userID}); err != nil &&
			!errors.Is(err, ErrNotFound) {
			return nil, err
		}
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, &PersistenceError{Err: err}
	}

	res, err := g.Submit(ctx, roomID, Join{UserID: userID})
	if err != nil {
		return nil, err
	}
	return res.Snapshot, nil
}

// maybeEvict drops an idle actor. Called from the actor's own goroutine
// after each command; the registry lock makes the idle check and the map
// removal atomic against concurrent getOrCreate.
func (g *Registry) maybeEvict(r *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rooms[r.id] != r || !r.idle() {
		return
	}
	delete(g.rooms, r.id)
	close(r.stopped)
	log.Printf("[Room] evicted idle room %d", r.id)
}

// Teardown administratively stops a room: cancels its timer and drops it
// from the registry. In-flight commands fail with errRoomStopped and are
// retried against a fresh materialization by Submit.
func (g *Registry) Teardown(roomID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return
	}
	r.sched.cancel()
	delete(g.rooms, roomID)
	close(r.stopped)
	log.Printf("[Room] tore down room %d", roomID)
}

// Shutdown tears down every live room; used on process exit.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, r := range g.rooms {
		r.sched.cancel()
		close(r.stopped)
		delete(g.rooms, id)
	}
	log.Printf("[Room] registry shut down")
}

// LiveRooms reports how many actors are resident, for the health
// endpoint.
func (g *Registry) LiveRooms() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
