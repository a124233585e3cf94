package valkeypresence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/valkey-io/valkey-go"
)

const opTimeout = 2 * time.Second

// Tracker keeps per-room active-listener counters in Valkey. Presence is
// ephemeral and advisory: the authoritative room state never depends on
// it, so every failure here is logged and swallowed.
type Tracker struct {
	client valkey.Client
}

// NewTracker connects to the Valkey instance at addr.
func NewTracker(addr string) (*Tracker, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", addr, err)
	}
	return &Tracker{client: client}, nil
}

// Close releases the client.
func (t *Tracker) Close() {
	t.client.Close()
}

func key(roomID int64) string {
	return fmt.Sprintf("room:%d:listeners", roomID)
}

// Joined increments the room's listener counter.
func (t *Tracker) Joined(roomID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := t.client.Do(ctx, t.client.B().Incr().Key(key(roomID)).Build()).Error(); err != nil {
		log.Printf("[Presence] incr failed for room %d: %v", roomID, err)
	}
}

// Left decrements the room's listener counter, flooring at zero.
func (t *Tracker) Left(roomID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := t.client.Do(ctx, t.client.B().Decr().Key(key(roomID)).Build()).AsInt64()
	if err != nil {
		log.Printf("[Presence] decr failed for room %d: %v", roomID, err)
		return
	}
	if n < 0 {
		if err := t.client.Do(ctx, t.client.B().Set().Key(key(roomID)).Value("0").Build()).Error(); err != nil {
			log.Printf("[Presence] reset failed for room %d: %v", roomID, err)
		}
	}
}

// Count returns the room's listener counter, or zero when the key is
// missing or Valkey is unreachable.
func (t *Tracker) Count(roomID int64) int {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := t.client.Do(ctx, t.client.B().Get().Key(key(roomID)).Build()).AsInt64()
	if err != nil {
		if !valkey.IsValkeyNil(err) {
			log.Printf("[Presence] get failed for room %d: %v", roomID, err)
		}
		return 0
	}
	return int(n)
}
