package room

import "github.com/vinylsocial/vinyl-backend/internal/models"

// Command is one of the closed set of room mutations. Commands are
// applied strictly one at a time per room, in admission order, by the
// room's actor goroutine.
type Command interface {
	kind() string
}

// Join adds the user to the room. Snapshot delivery to the joiner is the
// caller's job: it comes back in the Result.
type Join struct {
	UserID int64
}

// Leave removes the user's membership. Leaving never affects playback.
type Leave struct {
	UserID int64
}

// Enqueue appends a track to the queue. Requires membership and
// queue-control capability.
type Enqueue struct {
	UserID  int64
	TrackID int64
}

// Play starts the given track explicitly. Requires membership and
// queue-control capability.
type Play struct {
	UserID  int64
	TrackID int64
}

// Skip advances the queue on a user's request. Requires membership and
// queue-control capability.
type Skip struct {
	UserID int64
}

// SetPermission grants or revokes the target's queue-control capability.
// Host only.
type SetPermission struct {
	ActorID      int64
	TargetUserID int64
	Allowed      bool
}

// Chat appends a chat message. Requires membership.
type Chat struct {
	UserID int64
	Text   string
}

// GetSnapshot reads the room's current state without mutating it.
type GetSnapshot struct{}

// autoAdvance is submitted by the playback scheduler when a track's
// duration elapses. gen identifies the timer arming that produced it;
// a stale generation is a no-op.
type autoAdvance struct {
	gen uint64
}

func (Join) kind() string          { return "join" }
func (Leave) kind() string         { return "leave" }
func (Enqueue) kind() string       { return "enqueue" }
func (Play) kind() string          { return "play" }
func (Skip) kind() string          { return "skip" }
func (SetPermission) kind() string { return "set-permission" }
func (Chat) kind() string          { return "chat" }
func (GetSnapshot) kind() string   { return "snapshot" }
func (autoAdvance) kind() string   { return "auto-advance" }

// Result is what a completed command hands back to its originator.
// Snapshot is set for Join and GetSnapshot, Chat for Chat, Item for
// Enqueue.
type Result struct {
	Snapshot *Snapshot
	Item     *models.QueueItem
	Chat     *models.ChatMessage
}

type envelope struct {
	cmd   Command
	reply chan outcome
}

type outcome struct {
	res Result
	err error
}
