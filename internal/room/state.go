package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/vinylsocial/vinyl-backend/internal/models"
	"github.com/vinylsocial/vinyl-backend/internal/storage"
)

const mailboxSize = 32

// PresenceCounter reports ephemeral active-listener counts. Optional:
// a nil counter disables the snapshot field.
type PresenceCounter interface {
	Count(roomID int64) int
}

// Room is the authoritative in-memory state of one live room, owned by a
// single actor goroutine. Every mutation arrives as a Command through the
// mailbox and is applied to completion, store write included, before the
// next command is admitted. The actor is the only writer of the fields
// below; no lock guards them.
type Room struct {
	id       int64
	store    storage.Store
	hub      Broadcaster
	presence PresenceCounter
	registry *Registry

	mailbox chan envelope
	stopped chan struct{}

	info         *models.Room
	queue        []*models.QueueItem
	participants map[int64]*models.Participant
	playback     *models.PlaybackState
	nextPos      int64
	sched        *scheduler
}

// materialize loads a cold room's durable state and starts its actor.
// Called by the registry with its lock held.
func materialize(ctx context.Context, id int64, reg *Registry) (*Room, error) {
	info, err := reg.store.FindRoom(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Err: err}
	}

	queue, err := reg.store.ListQueue(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}
	participants, err := reg.store.ListParticipants(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Err: err}
	}

	r := &Room{
		id:           id,
		store:        reg.store,
		hub:          reg.hub,
		presence:     reg.presence,
		registry:     reg,
		mailbox:      make(chan envelope, mailboxSize),
		stopped:      make(chan struct{}),
		info:         info,
		queue:        queue,
		participants: make(map[int64]*models.Participant, len(participants)),
	}
	r.sched = newScheduler(r.fireAdvance)

	for _, p := range participants {
		r.participants[p.UserID] = p
	}
	for _, item := range queue {
		if item.Position > r.nextPos {
			r.nextPos = item.Position
		}
	}

	// Playback state is process-memory only. A flag that survived a
	// restart is stale and must not outlive materialization.
	if r.playingItem() != nil {
		if err := reg.store.SetPlayingItem(ctx, id, 0); err != nil {
			return nil, &PersistenceError{Err: err}
		}
		for _, item := range r.queue {
			item.IsPlaying = false
		}
	}

	go r.run()
	log.Printf("[Room] materialized room %d (host=%d, queue=%d, participants=%d)",
		id, info.HostID, len(queue), len(participants))
	return r, nil
}

// submit delivers one command and waits for its outcome. It fails with
// errRoomStopped when the actor has been evicted; the registry retries
// against a fresh instance.
func (r *Room) submit(ctx context.Context, cmd Command) (Result, error) {
	env := envelope{cmd: cmd, reply: make(chan outcome, 1)}
	select {
	case r.mailbox <- env:
	case <-r.stopped:
		return Result{}, errRoomStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case out := <-env.reply:
		return out.res, out.err
	case <-r.stopped:
		// The actor may have applied the command and replied right before
		// stopping; a retry would apply it twice.
		select {
		case out := <-env.reply:
			return out.res, out.err
		default:
			return Result{}, errRoomStopped
		}
	}
}

// fireAdvance is the scheduler callback. It must not block the timer
// goroutine on a torn-down room.
func (r *Room) fireAdvance(gen uint64) {
	select {
	case r.mailbox <- envelope{cmd: autoAdvance{gen: gen}}:
	case <-r.stopped:
	}
}

func (r *Room) run() {
	for {
		// A stopped actor must never apply another command, even when the
		// mailbox still has buffered envelopes.
		select {
		case <-r.stopped:
			r.drainMailbox()
			return
		default:
		}
		select {
		case env := <-r.mailbox:
			res, err := r.apply(env.cmd)
			if env.reply != nil {
				env.reply <- outcome{res: res, err: err}
			}
		case <-r.stopped:
			r.drainMailbox()
			return
		}
		r.registry.maybeEvict(r)
	}
}

// drainMailbox rejects every command still queued when the actor stops.
// Nothing is applied; the registry resubmits each one against a fresh
// materialization.
func (r *Room) drainMailbox() {
	for {
		select {
		case env := <-r.mailbox:
			if env.reply != nil {
				env.reply <- outcome{err: errRoomStopped}
			}
		default:
			return
		}
	}
}

func (r *Room) apply(cmd Command) (Result, error) {
	switch c := cmd.(type) {
	case Join:
		return r.applyJoin(c)
	case Leave:
		return Result{}, r.applyLeave(c)
	case Enqueue:
		return r.applyEnqueue(c)
	case Play:
		return Result{}, r.applyPlay(c)
	case Skip:
		return Result{}, r.applySkip(c)
	case SetPermission:
		return Result{}, r.applySetPermission(c)
	case Chat:
		return r.applyChat(c)
	case GetSnapshot:
		return Result{Snapshot: r.snapshot()}, nil
	case autoAdvance:
		r.applyAutoAdvance(c)
		return Result{}, nil
	default:
		return Result{}, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, cmd.kind())
	}
}

func (r *Room) applyJoin(c Join) (Result, error) {
	if c.UserID <= 0 {
		return Result{}, ErrInvalidCommand
	}

	// Rejoining keeps a previously granted capability; the host always
	// controls the queue.
	canControl := c.UserID == r.info.HostID
	if existing, ok := r.participants[c.UserID]; ok {
		canControl = canControl || existing.CanControlQueue
	}

	p, err := r.store.UpsertParticipant(context.Background(), r.id, c.UserID, canControl)
	if err != nil {
		return Result{}, asCommandError(err)
	}
	r.participants[c.UserID] = p

	r.broadcast(EventMembershipChanged, MembershipPayload{
		UserID:          c.UserID,
		Joined:          true,
		CanControlQueue: p.CanControlQueue,
	})
	return Result{Snapshot: r.snapshot()}, nil
}

func (r *Room) applyLeave(c Leave) error {
	if _, ok := r.participants[c.UserID]; !ok {
		// Not in the room; nothing to do and nothing to broadcast.
		return nil
	}
	if err := r.store.RemoveParticipant(context.Background(), c.UserID); err != nil &&
		!errors.Is(err, storage.ErrNotFound) {
		return asCommandError(err)
	}
	delete(r.participants, c.UserID)

	r.broadcast(EventMembershipChanged, MembershipPayload{UserID: c.UserID, Joined: false})
	return nil
}

func (r *Room) applyEnqueue(c Enqueue) (Result, error) {
	if err := r.requireController(c.UserID); err != nil {
		return Result{}, err
	}

	ctx := context.Background()
	if _, err := r.store.GetTrack(ctx, c.TrackID); err != nil {
		return Result{}, asCommandError(err)
	}

	// Insert first, evict after: a failed insert leaves the queue exactly
	// as it was.
	item, err := r.store.InsertQueueItem(ctx, r.id, c.TrackID, c.UserID, r.nextPos+1)
	if err != nil {
		return Result{}, asCommandError(err)
	}
	r.nextPosition()
	r.queue = append(r.queue, item)

	// Capacity eviction is silent: the oldest item goes, the caller hears
	// nothing, and the broadcast below simply omits it.
	for len(r.queue) > r.queueLimit() {
		oldest := r.head()
		if err := r.store.DeleteQueueItem(ctx, oldest.ID); err != nil {
			return Result{}, asCommandError(err)
		}
		r.removeItem(oldest.ID)
	}

	r.broadcast(EventTrackAdded, TrackAddedPayload{Item: item, Queue: r.queue})
	cp := *item
	return Result{Item: &cp}, nil
}

func (r *Room) applyPlay(c Play) error {
	if err := r.requireController(c.UserID); err != nil {
		return err
	}
	item := r.findByTrack(c.TrackID)
	if item == nil {
		// Target is not queued (already consumed or evicted). Fall back to
		// stopped instead of failing, so the room ends in a clean state.
		if r.playingItem() != nil {
			if err := r.store.SetPlayingItem(context.Background(), r.id, 0); err != nil {
				return asCommandError(err)
			}
			for _, it := range r.queue {
				it.IsPlaying = false
			}
		}
		r.stopPlayback()
		return nil
	}
	return r.startItem(item)
}

func (r *Room) applySkip(c Skip) error {
	if err := r.requireController(c.UserID); err != nil {
		return err
	}
	return r.advance()
}

func (r *Room) applySetPermission(c SetPermission) error {
	if c.ActorID != r.info.HostID {
		return fmt.Errorf("%w: only the host can change permissions", ErrForbidden)
	}
	target, ok := r.participants[c.TargetUserID]
	if !ok {
		return fmt.Errorf("%w: user %d is not in this room", ErrNotFound, c.TargetUserID)
	}

	p, err := r.store.UpsertParticipant(context.Background(), r.id, c.TargetUserID, c.Allowed)
	if err != nil {
		return asCommandError(err)
	}
	target.CanControlQueue = p.CanControlQueue

	r.broadcast(EventMembershipChanged, MembershipPayload{
		UserID:          c.TargetUserID,
		Joined:          true,
		CanControlQueue: p.CanControlQueue,
	})
	return nil
}

func (r *Room) applyChat(c Chat) (Result, error) {
	if _, ok := r.participants[c.UserID]; !ok {
		return Result{}, ErrNotParticipant
	}
	if c.Text == "" {
		return Result{}, fmt.Errorf("%w: empty chat message", ErrInvalidCommand)
	}

	msg, err := r.store.InsertChatMessage(context.Background(), r.id, c.UserID, c.Text)
	if err != nil {
		return Result{}, asCommandError(err)
	}

	r.broadcast(EventChatMessage, msg)
	return Result{Chat: msg}, nil
}

// applyAutoAdvance handles a scheduler fire. A stale generation means a
// skip or stop beat the timer; that fire is dropped without a broadcast.
// A persistence failure re-arms a retry rather than stopping playback.
func (r *Room) applyAutoAdvance(c autoAdvance) {
	if c.gen != r.sched.current() {
		return
	}
	if err := r.advance(); err != nil {
		if IsPersistence(err) {
			log.Printf("[Room] auto-advance failed for room %d, retrying in %s: %v",
				r.id, advanceRetryDelay, err)
			r.sched.arm(advanceRetryDelay)
			return
		}
		log.Printf("[Room] auto-advance failed for room %d: %v", r.id, err)
	}
}

// advance removes the currently playing item and starts the new head, or
// stops playback when the queue runs out. The store delete is
// acknowledged before the in-memory removal, and the next track starts
// only after that, so a retry after a failure never skips an extra item.
func (r *Room) advance() error {
	if len(r.queue) == 0 {
		r.stopPlayback()
		return nil
	}

	if current := r.playingItem(); current != nil {
		if err := r.store.DeleteQueueItem(context.Background(), current.ID); err != nil &&
			!errors.Is(err, storage.ErrNotFound) {
			return asCommandError(err)
		}
		r.removeItem(current.ID)
	}

	next := r.head()
	if next == nil {
		r.stopPlayback()
		return nil
	}
	return r.startItem(next)
}

// startItem makes item the playing track: durable writes first, then the
// in-memory flip, then one track-start broadcast carrying the shared
// start timestamp clients align their clocks to.
func (r *Room) startItem(item *models.QueueItem) error {
	ctx := context.Background()

	track, err := r.store.GetTrack(ctx, item.TrackID)
	if err != nil {
		return asCommandError(err)
	}
	if err := r.store.IncrementTrackPlayCount(ctx, item.TrackID); err != nil {
		return asCommandError(err)
	}
	if err := r.store.UpdateRoomCurrentTrack(ctx, r.id, item.TrackID); err != nil {
		return asCommandError(err)
	}
	if err := r.store.SetPlayingItem(ctx, r.id, item.ID); err != nil {
		return asCommandError(err)
	}

	for _, it := range r.queue {
		it.IsPlaying = false
	}
	item.IsPlaying = true
	item.Track = track
	r.info.CurrentTrackID = item.TrackID
	r.playback = &models.PlaybackState{TrackID: item.TrackID, StartedAt: time.Now()}

	if track.Duration > 0 {
		r.sched.arm(time.Duration(track.Duration) * time.Second)
	} else {
		// Unknown duration: no auto-advance, the host skips manually.
		r.sched.cancel()
	}

	r.broadcast(EventTrackStart, TrackStartPayload{
		TrackID:   item.TrackID,
		StartedAt: r.playback.StartedAtMillis(),
		Track:     track,
	})
	return nil
}

// stopPlayback clears the ephemeral playback state and tells the room
// the music ended. Idempotent: a second stop emits nothing.
func (r *Room) stopPlayback() {
	r.sched.cancel()
	if r.playback == nil {
		return
	}
	r.playback = nil
	r.broadcast(EventTrackStop, nil)
}

func (r *Room) requireController(userID int64) error {
	p, ok := r.participants[userID]
	if !ok {
		return ErrNotParticipant
	}
	if userID != r.info.HostID && !p.CanControlQueue {
		return fmt.Errorf("%w: no queue control permission", ErrForbidden)
	}
	return nil
}

// snapshot deep-copies the room state: the caller marshals it outside
// the actor, after later commands may already be mutating the originals.
func (r *Room) snapshot() *Snapshot {
	snap := &Snapshot{
		Queue:        make([]*models.QueueItem, 0, len(r.queue)),
		Participants: make([]*models.Participant, 0, len(r.participants)),
		HostID:       r.info.HostID,
	}
	for _, item := range r.queue {
		cp := *item
		if item.Track != nil {
			tcp := *item.Track
			cp.Track = &tcp
		}
		snap.Queue = append(snap.Queue, &cp)
	}
	for _, p := range r.participants {
		cp := *p
		snap.Participants = append(snap.Participants, &cp)
	}
	sort.Slice(snap.Participants, func(i, j int) bool {
		return snap.Participants[i].JoinedAt.Before(snap.Participants[j].JoinedAt)
	})
	if r.playback != nil {
		snap.Playback = &PlaybackInfo{
			TrackID:   r.playback.TrackID,
			StartedAt: r.playback.StartedAtMillis(),
		}
	}
	if r.presence != nil {
		snap.ActiveListeners = r.presence.Count(r.id)
	}
	return snap
}

// broadcast marshals once and hands the frame to the hub. It runs inside
// the actor, so the event order every subscriber sees is exactly the
// command application order.
func (r *Room) broadcast(eventType string, payload interface{}) {
	if data := marshalEvent(eventType, payload); data != nil {
		r.hub.BroadcastRoom(r.id, data)
	}
}

// idle reports whether the actor can be evicted: nothing queued, no
// timer pending, nothing playing, nobody listening.
func (r *Room) idle() bool {
	return len(r.mailbox) == 0 &&
		!r.sched.armed() &&
		r.playback == nil &&
		r.hub.RoomSubscribers(r.id) == 0
}

func asCommandError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return &PersistenceError{Err: err}
}
