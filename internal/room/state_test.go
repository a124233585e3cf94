package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinylsocial/vinyl-backend/internal/models"
	"github.com/vinylsocial/vinyl-backend/internal/storage"
	"github.com/vinylsocial/vinyl-backend/internal/storage/memory"
)

// fakeHub captures broadcasts in order and lets tests control the
// subscriber count the registry sees when deciding on eviction.
type fakeHub struct {
	mu     sync.Mutex
	events []capturedEvent
	subs   map[int64]int
}

type capturedEvent struct {
	RoomID  int64
	Type    string
	Payload json.RawMessage
}

func newFakeHub() *fakeHub {
	return &fakeHub{subs: map[int64]int{}}
}

func (f *fakeHub) BroadcastRoom(roomID int64, data []byte) {
	var frame struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		panic("unmarshalable broadcast: " + err.Error())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, capturedEvent{RoomID: roomID, Type: frame.Type, Payload: frame.Payload})
}

func (f *fakeHub) RoomSubscribers(roomID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.subs[roomID]; ok {
		return n
	}
	return 1 // keep rooms resident unless a test opts into eviction
}

func (f *fakeHub) eventTypes(roomID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if e.RoomID == roomID {
			out = append(out, e.Type)
		}
	}
	return out
}

func (f *fakeHub) lastOfType(roomID int64, eventType string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].RoomID == roomID && f.events[i].Type == eventType {
			return f.events[i].Payload, true
		}
	}
	return nil, false
}

func (f *fakeHub) count(roomID int64, eventType string) int {
	n := 0
	for _, t := range f.eventTypes(roomID) {
		if t == eventType {
			n++
		}
	}
	return n
}

type testEngine struct {
	store    *memory.Store
	hub      *fakeHub
	registry *Registry
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	store := memory.NewStore()
	hub := newFakeHub()
	return &testEngine{store: store, hub: hub, registry: NewRegistry(store, hub, nil)}
}

// newRoom creates a room for hostID and joins the host.
func (e *testEngine) newRoom(t *testing.T, hostID int64) *models.Room {
	t.Helper()
	info, err := e.store.CreateRoom(context.Background(), hostID, "test room")
	require.NoError(t, err)
	_, err = e.registry.JoinRoom(context.Background(), info.ID, hostID)
	require.NoError(t, err)
	return info
}

// newRoomWithLimit creates a room with the given queue limit set before
// the host joins, so the actor materializes with the limit in effect.
func (e *testEngine) newRoomWithLimit(t *testing.T, hostID int64, limit int) *models.Room {
	t.Helper()
	info, err := e.store.CreateRoom(context.Background(), hostID, "test room")
	require.NoError(t, err)
	e.store.SetRoomQueueLimit(info.ID, limit)
	_, err = e.registry.JoinRoom(context.Background(), info.ID, hostID)
	require.NoError(t, err)
	return info
}

func (e *testEngine) snapshot(t *testing.T, roomID int64) *Snapshot {
	t.Helper()
	res, err := e.registry.Submit(context.Background(), roomID, GetSnapshot{})
	require.NoError(t, err)
	return res.Snapshot
}

func TestEnqueueAssignsMonotonicPositions(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	t1 := e.store.AddTrack("One", "A", 0)
	t2 := e.store.AddTrack("Two", "B", 0)
	t3 := e.store.AddTrack("Three", "C", 0)

	for _, tr := range []*models.Track{t1, t2, t3} {
		_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: tr.ID})
		require.NoError(t, err)
	}

	snap := e.snapshot(t, info.ID)
	require.Len(t, snap.Queue, 3)
	for i, item := range snap.Queue {
		assert.Equal(t, int64(i+1), item.Position)
	}
	assert.Equal(t, t1.ID, snap.Queue[0].TrackID)
	assert.Equal(t, t3.ID, snap.Queue[2].TrackID)
}

func TestConcurrentEnqueuesStayStrictlyOrdered(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	track := e.store.AddTrack("Loop", "A", 0)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: track.ID})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap := e.snapshot(t, info.ID)
	require.Len(t, snap.Queue, models.DefaultQueueLimit) // capacity bounds the result
	for i := 1; i < len(snap.Queue); i++ {
		assert.Greater(t, snap.Queue[i].Position, snap.Queue[i-1].Position)
	}
}

func TestCapacityEvictsOldestSilently(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoomWithLimit(t, 1, 2)
	t1 := e.store.AddTrack("T1", "A", 0)
	t2 := e.store.AddTrack("T2", "B", 0)
	t3 := e.store.AddTrack("T3", "C", 0)

	for _, tr := range []*models.Track{t1, t2, t3} {
		res, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: tr.ID})
		require.NoError(t, err, "the evicting enqueue must not surface an error")
		require.NotNil(t, res.Item)
	}

	snap := e.snapshot(t, info.ID)
	require.Len(t, snap.Queue, 2)
	assert.Equal(t, t2.ID, snap.Queue[0].TrackID, "oldest item (T1) should have been evicted")
	assert.Equal(t, t3.ID, snap.Queue[1].TrackID)

	// The broadcast after the evicting enqueue reflects the bounded queue.
	raw, ok := e.hub.lastOfType(info.ID, EventTrackAdded)
	require.True(t, ok)
	var payload TrackAddedPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Len(t, payload.Queue, 2)
}

func TestAtMostOneItemPlaying(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	t1 := e.store.AddTrack("T1", "A", 0)
	t2 := e.store.AddTrack("T2", "B", 0)
	for _, tr := range []*models.Track{t1, t2} {
		_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: tr.ID})
		require.NoError(t, err)
	}

	_, err := e.registry.Submit(context.Background(), info.ID, Play{UserID: 1, TrackID: t1.ID})
	require.NoError(t, err)
	_, err = e.registry.Submit(context.Background(), info.ID, Play{UserID: 1, TrackID: t2.ID})
	require.NoError(t, err)

	snap := e.snapshot(t, info.ID)
	playing := 0
	for _, item := range snap.Queue {
		if item.IsPlaying {
			playing++
			assert.Equal(t, t2.ID, item.TrackID)
		}
	}
	assert.Equal(t, 1, playing)
	require.NotNil(t, snap.Playback)
	assert.Equal(t, t2.ID, snap.Playback.TrackID)
}

func TestPlayBroadcastsSharedStartTimestamp(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	track := e.store.AddTrack("T1", "A", 0)
	_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: track.ID})
	require.NoError(t, err)

	before := time.Now().UnixMilli()
	_, err = e.registry.Submit(context.Background(), info.ID, Play{UserID: 1, TrackID: track.ID})
	require.NoError(t, err)
	after := time.Now().UnixMilli()

	raw, ok := e.hub.lastOfType(info.ID, EventTrackStart)
	require.True(t, ok)
	var payload TrackStartPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, track.ID, payload.TrackID)
	assert.GreaterOrEqual(t, payload.StartedAt, before)
	assert.LessOrEqual(t, payload.StartedAt, after)

	// A late joiner sees the same startedAt in the snapshot and can
	// compute its own offset from it.
	snap := e.snapshot(t, info.ID)
	require.NotNil(t, snap.Playback)
	assert.Equal(t, payload.StartedAt, snap.Playback.StartedAt)
}

func TestPlayMissingTrackFallsBackToStopped(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	track := e.store.AddTrack("T1", "A", 0)
	_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: track.ID})
	require.NoError(t, err)
	_, err = e.registry.Submit(context.Background(), info.ID, Play{UserID: 1, TrackID: track.ID})
	require.NoError(t, err)

	// Playing a track that is not queued clears the flags and stops.
	_, err = e.registry.Submit(context.Background(), info.ID, Play{UserID: 1, TrackID: 404})
	require.NoError(t, err)
	snap := e.snapshot(t, info.ID)
	assert.Nil(t, snap.Playback)
	for _, item := range snap.Queue {
		assert.False(t, item.IsPlaying)
	}
	assert.Equal(t, 1, e.hub.count(info.ID, EventTrackStop))

	// With nothing playing it is a no-op with no broadcast.
	eventsBefore := len(e.hub.eventTypes(info.ID))
	_, err = e.registry.Submit(context.Background(), info.ID, Play{UserID: 1, TrackID: 404})
	require.NoError(t, err)
	assert.Len(t, e.hub.eventTypes(info.ID), eventsBefore)
}

func TestSkipAdvancesToNextTrack(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	t1 := e.store.AddTrack("T1", "A", 0)
	t2 := e.store.AddTrack("T2", "B", 0)
	for _, tr := range []*models.Track{t1, t2} {
		_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: tr.ID})
		require.NoError(t, err)
	}
	_, err := e.registry.Submit(context.Background(), info.ID, Play{UserID: 1, TrackID: t1.ID})
	require.NoError(t, err)

	_, err = e.registry.Submit(context.Background(), info.ID, Skip{UserID: 1})
	require.NoError(t, err)

	snap := e.snapshot(t, info.ID)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, t2.ID, snap.Queue[0].TrackID)
	assert.True(t, snap.Queue[0].IsPlaying)
	require.NotNil(t, snap.Playback)
	assert.Equal(t, t2.ID, snap.Playback.TrackID)
}

func TestSkipLastTrackStopsPlayback(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	track := e.store.AddTrack("T1", "A", 0)
	_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: track.ID})
	require.NoError(t, err)
	_, err = e.registry.Submit(context.Background(), info.ID, Play{UserID: 1, TrackID: track.ID})
	require.NoError(t, err)

	_, err = e.registry.Submit(context.Background(), info.ID, Skip{UserID: 1})
	require.NoError(t, err)

	snap := e.snapshot(t, info.ID)
	assert.Empty(t, snap.Queue)
	assert.Nil(t, snap.Playback)
	assert.Equal(t, 1, e.hub.count(info.ID, EventTrackStop))
}

func TestAutoAdvanceOnTrackCompletion(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	t1 := e.store.AddTrack("Short", "A", 1) // 1s duration arms the timer
	t2 := e.store.AddTrack("Next", "B", 0)
	for _, tr := range []*models.Track{t1, t2} {
		_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: tr.ID})
		require.NoError(t, err)
	}

	_, err := e.registry.Submit(context.Background(), info.ID, Play{UserID: 1, TrackID: t1.ID})
	require.NoError(t, err)
	firstStart := e.snapshot(t, info.ID).Playback.StartedAt

	require.Eventually(t, func() bool {
		snap := e.snapshot(t, info.ID)
		return snap.Playback != nil && snap.Playback.TrackID == t2.ID
	}, 3*time.Second, 50*time.Millisecond, "auto-advance should start the next track")

	snap := e.snapshot(t, info.ID)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, t2.ID, snap.Queue[0].TrackID)
	assert.GreaterOrEqual(t, snap.Playback.StartedAt, firstStart, "new track gets a fresh startedAt")
	assert.Equal(t, 2, e.hub.count(info.ID, EventTrackStart))
}

func TestStaleTimerFireIsNoop(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	track := e.store.AddTrack("T1", "A", 0)
	_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: track.ID})
	require.NoError(t, err)
	_, err = e.registry.Submit(context.Background(), info.ID, Play{UserID: 1, TrackID: track.ID})
	require.NoError(t, err)

	eventsBefore := len(e.hub.eventTypes(info.ID))
	r, err := e.registry.getOrCreate(context.Background(), info.ID)
	require.NoError(t, err)

	// A fire whose generation does not match the current arming must be
	// dropped without touching playback or broadcasting anything.
	_, err = r.submit(context.Background(), autoAdvance{gen: r.sched.current() + 1})
	require.NoError(t, err)

	snap := e.snapshot(t, info.ID)
	require.NotNil(t, snap.Playback)
	assert.Equal(t, track.ID, snap.Playback.TrackID)
	assert.Len(t, snap.Queue, 1)
	assert.Len(t, e.hub.eventTypes(info.ID), eventsBefore)
}

func TestEnqueueRequiresQueueControl(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	track := e.store.AddTrack("T1", "A", 0)
	_, err := e.registry.JoinRoom(context.Background(), info.ID, 2)
	require.NoError(t, err)

	eventsBefore := len(e.hub.eventTypes(info.ID))
	_, err = e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 2, TrackID: track.ID})
	require.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, e.snapshot(t, info.ID).Queue)
	assert.Len(t, e.hub.eventTypes(info.ID), eventsBefore, "rejections are never broadcast")
}

func TestHostGrantEnablesEnqueue(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	track := e.store.AddTrack("T1", "A", 0)
	_, err := e.registry.JoinRoom(context.Background(), info.ID, 2)
	require.NoError(t, err)

	_, err = e.registry.Submit(context.Background(), info.ID,
		SetPermission{ActorID: 1, TargetUserID: 2, Allowed: true})
	require.NoError(t, err)

	_, err = e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 2, TrackID: track.ID})
	require.NoError(t, err)
	require.Len(t, e.snapshot(t, info.ID).Queue, 1)
}

func TestOnlyHostSetsPermissions(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	for _, uid := range []int64{2, 3} {
		_, err := e.registry.JoinRoom(context.Background(), info.ID, uid)
		require.NoError(t, err)
	}

	_, err := e.registry.Submit(context.Background(), info.ID,
		SetPermission{ActorID: 2, TargetUserID: 3, Allowed: true})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestJoinSecondRoomLeavesFirst(t *testing.T) {
	e := newTestEngine(t)
	roomA := e.newRoom(t, 1)
	roomB := e.newRoom(t, 2)

	_, err := e.registry.JoinRoom(context.Background(), roomA.ID, 7)
	require.NoError(t, err)
	_, err = e.registry.JoinRoom(context.Background(), roomB.ID, 7)
	require.NoError(t, err)

	snapA := e.snapshot(t, roomA.ID)
	for _, p := range snapA.Participants {
		assert.NotEqual(t, int64(7), p.UserID, "user should have left room A")
	}
	snapB := e.snapshot(t, roomB.ID)
	found := false
	for _, p := range snapB.Participants {
		if p.UserID == 7 {
			found = true
		}
	}
	assert.True(t, found)

	// Room A saw a leave broadcast.
	raw, ok := e.hub.lastOfType(roomA.ID, EventMembershipChanged)
	require.True(t, ok)
	var payload MembershipPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, int64(7), payload.UserID)
	assert.False(t, payload.Joined)
}

func TestChatRequiresMembershipAndFansOut(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)

	_, err := e.registry.Submit(context.Background(), info.ID, Chat{UserID: 99, Text: "hello"})
	require.ErrorIs(t, err, ErrForbidden)

	res, err := e.registry.Submit(context.Background(), info.ID, Chat{UserID: 1, Text: "hello"})
	require.NoError(t, err)
	require.NotNil(t, res.Chat)
	assert.Equal(t, "hello", res.Chat.Content)

	raw, ok := e.hub.lastOfType(info.ID, EventChatMessage)
	require.True(t, ok)
	var msg models.ChatMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Nil(t, e.snapshot(t, info.ID).Playback, "chat never touches playback")
}

func TestRejoinKeepsGrantedPermission(t *testing.T) {
	e := newTestEngine(t)
	info := e.newRoom(t, 1)
	_, err := e.registry.JoinRoom(context.Background(), info.ID, 2)
	require.NoError(t, err)
	_, err = e.registry.Submit(context.Background(), info.ID,
		SetPermission{ActorID: 1, TargetUserID: 2, Allowed: true})
	require.NoError(t, err)

	// Rejoining the same room must not silently revoke the grant.
	snap, err := e.registry.JoinRoom(context.Background(), info.ID, 2)
	require.NoError(t, err)
	for _, p := range snap.Participants {
		if p.UserID == 2 {
			assert.True(t, p.CanControlQueue)
		}
	}
}

func TestCommandForUnknownRoom(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.registry.Submit(context.Background(), 12345, GetSnapshot{})
	require.ErrorIs(t, err, ErrNotFound)
}

// faultStore wraps a real store and fails selected operations a set
// number of times.
type faultStore struct {
	storage.Store

	mu          sync.Mutex
	failInserts int
	failDeletes int
}

func (f *faultStore) fail(counter *int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if *counter > 0 {
		*counter--
		return true
	}
	return false
}

func (f *faultStore) InsertQueueItem(ctx context.Context, roomID, trackID, addedBy, position int64) (*models.QueueItem, error) {
	if f.fail(&f.failInserts) {
		return nil, errors.New("connection reset")
	}
	return f.Store.InsertQueueItem(ctx, roomID, trackID, addedBy, position)
}

func (f *faultStore) DeleteQueueItem(ctx context.Context, itemID int64) error {
	if f.fail(&f.failDeletes) {
		return errors.New("connection reset")
	}
	return f.Store.DeleteQueueItem(ctx, itemID)
}

func newFaultEngine(t *testing.T) (*testEngine, *faultStore) {
	t.Helper()
	store := memory.NewStore()
	faults := &faultStore{Store: store}
	hub := newFakeHub()
	return &testEngine{store: store, hub: hub, registry: NewRegistry(faults, hub, nil)}, faults
}

func TestEnqueueInsertFailureLeavesQueueIntact(t *testing.T) {
	e, faults := newFaultEngine(t)
	info := e.newRoomWithLimit(t, 1, 2)
	t1 := e.store.AddTrack("T1", "A", 0)
	t2 := e.store.AddTrack("T2", "B", 0)
	t3 := e.store.AddTrack("T3", "C", 0)
	for _, tr := range []*models.Track{t1, t2} {
		_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: tr.ID})
		require.NoError(t, err)
	}

	faults.mu.Lock()
	faults.failInserts = 1
	faults.mu.Unlock()

	// The failed command aborts without mutating anything: the room at
	// capacity must not lose its oldest item to a half-applied eviction.
	eventsBefore := len(e.hub.eventTypes(info.ID))
	_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: t3.ID})
	require.True(t, IsPersistence(err))

	snap := e.snapshot(t, info.ID)
	require.Len(t, snap.Queue, 2)
	assert.Equal(t, t1.ID, snap.Queue[0].TrackID)
	assert.Equal(t, t2.ID, snap.Queue[1].TrackID)
	assert.Len(t, e.hub.eventTypes(info.ID), eventsBefore, "aborted commands are never broadcast")

	// The retry applies cleanly: insert lands, then the oldest is evicted.
	_, err = e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: t3.ID})
	require.NoError(t, err)
	snap = e.snapshot(t, info.ID)
	require.Len(t, snap.Queue, 2)
	assert.Equal(t, t2.ID, snap.Queue[0].TrackID)
	assert.Equal(t, t3.ID, snap.Queue[1].TrackID)
}

func TestAutoAdvanceRetriesAfterPersistenceFailure(t *testing.T) {
	e, faults := newFaultEngine(t)
	info := e.newRoom(t, 1)
	t1 := e.store.AddTrack("Short", "A", 1)
	t2 := e.store.AddTrack("Next", "B", 0)
	for _, tr := range []*models.Track{t1, t2} {
		_, err := e.registry.Submit(context.Background(), info.ID, Enqueue{UserID: 1, TrackID: tr.ID})
		require.NoError(t, err)
	}

	faults.mu.Lock()
	faults.failDeletes = 1
	faults.mu.Unlock()

	_, err := e.registry.Submit(context.Background(), info.ID, Play{UserID: 1, TrackID: t1.ID})
	require.NoError(t, err)
	r, err := e.registry.getOrCreate(context.Background(), info.ID)
	require.NoError(t, err)
	armedGen := r.sched.current()

	// The timer fires, the advance hits the store failure, and a retry is
	// re-armed with playback untouched.
	require.Eventually(t, func() bool {
		return r.sched.current() != armedGen && r.sched.armed()
	}, 3*time.Second, 50*time.Millisecond, "a failed advance should re-arm a retry")
	snap := e.snapshot(t, info.ID)
	require.NotNil(t, snap.Playback)
	assert.Equal(t, t1.ID, snap.Playback.TrackID)
	require.Len(t, snap.Queue, 2)

	// Fire the retry now instead of waiting out the delay.
	_, err = r.submit(context.Background(), autoAdvance{gen: r.sched.current()})
	require.NoError(t, err)
	snap = e.snapshot(t, info.ID)
	require.NotNil(t, snap.Playback)
	assert.Equal(t, t2.ID, snap.Playback.TrackID)
	require.Len(t, snap.Queue, 1)
}
