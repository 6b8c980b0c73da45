package room

import (
	"time"

	"github.com/wfunc/bncserver/game"
)

// Publisher delivers committed snapshots to a room's subscribers.
// This is defined here to break the import cycle between room and broadcast.
type Publisher interface {
	Publish(roomID int64, snap game.Snapshot) error
}

// Observer receives registry measurements. monitor.Metrics implements it.
type Observer interface {
	ObserveLockWait(d time.Duration)
	IncTrackedRooms()
	DecTrackedRooms()
	IncSlowRooms()
}
