package room

import "github.com/vinylsocial/vinyl-backend/internal/models"

// Queue policy. The actor's queue slice is always ordered by ascending
// position; positions come from a per-room monotonic counter and are
// never reused, so FIFO order survives deletions without renumbering.

// head returns the item with the lowest position, or nil.
func (r *Room) head() *models.QueueItem {
	if len(r.queue) == 0 {
		return nil
	}
	return r.queue[0]
}

// playingItem returns the item with the playing flag, or nil. At most
// one item ever carries the flag.
func (r *Room) playingItem() *models.QueueItem {
	for _, item := range r.queue {
		if item.IsPlaying {
			return item
		}
	}
	return nil
}

// findByTrack returns the first queued item referencing trackID, or nil.
func (r *Room) findByTrack(trackID int64) *models.QueueItem {
	for _, item := range r.queue {
		if item.TrackID == trackID {
			return item
		}
	}
	return nil
}

// removeItem drops the item from the in-memory queue. The store delete
// must already have been acknowledged.
func (r *Room) removeItem(itemID int64) {
	for i, item := range r.queue {
		if item.ID == itemID {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

// queueLimit returns the room's capacity, falling back to the default
// for rows that predate the column.
func (r *Room) queueLimit() int {
	if r.info.QueueLimit > 0 {
		return r.info.QueueLimit
	}
	return models.DefaultQueueLimit
}

// nextPosition advances the monotonic position counter.
func (r *Room) nextPosition() int64 {
	r.nextPos++
	return r.nextPos
}
