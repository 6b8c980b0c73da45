// broadcast/broadcast.go
package broadcast

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/bncserver/game"
	"github.com/wfunc/bncserver/network"
)

// Subscriber is a connection that can receive room frames.
type Subscriber interface {
	GetID() string
	GetToken() string
	Enqueue(data []byte) bool
	Close() error
}

// DropObserver counts subscribers removed for falling behind.
type DropObserver interface {
	IncBroadcastDrops()
}

// 广播接口
type Broadcaster interface {
	Publish(roomID int64, snap game.Snapshot) error
	PublishChat(roomID int64, player, message string, at time.Time) error
	Subscribe(roomID int64, sub Subscriber)
	Unsubscribe(roomID int64, sub Subscriber) bool
	HasToken(roomID int64, token string) bool
	Total() int
}

var _ Broadcaster = (*Hub)(nil)

// Hub 按房间分组的订阅者集合
type Hub struct {
	rooms    map[int64]map[string]Subscriber // roomID -> subscriberID -> subscriber
	mutex    sync.RWMutex
	log      *zap.SugaredLogger
	observer DropObserver
}

func NewHub(log *zap.SugaredLogger, observer DropObserver) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		rooms:    make(map[int64]map[string]Subscriber),
		log:      log,
		observer: observer,
	}
}

func (h *Hub) Subscribe(roomID int64, sub Subscriber) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[string]Subscriber)
		h.rooms[roomID] = subs
	}
	subs[sub.GetID()] = sub
}

// Unsubscribe reports whether sub was subscribed.
func (h *Hub) Unsubscribe(roomID int64, sub Subscriber) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	subs, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := subs[sub.GetID()]; !ok {
		return false
	}
	delete(subs, sub.GetID())
	if len(subs) == 0 {
		delete(h.rooms, roomID)
	}
	return true
}

// HasToken reports whether any subscriber of roomID plays as token.
func (h *Hub) HasToken(roomID int64, token string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, sub := range h.rooms[roomID] {
		if sub.GetToken() == token {
			return true
		}
	}
	return false
}

// Count returns the number of subscribers of roomID.
func (h *Hub) Count(roomID int64) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[roomID])
}

// Total returns the number of subscriptions across rooms.
func (h *Hub) Total() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	n := 0
	for _, subs := range h.rooms {
		n += len(subs)
	}
	return n
}

// Publish sends an update frame with snap to every subscriber of roomID.
func (h *Hub) Publish(roomID int64, snap game.Snapshot) error {
	data, err := network.EncodeUpdate(snap)
	if err != nil {
		return err
	}
	h.fanOut(roomID, data)
	return nil
}

// PublishChat relays a chat line to every subscriber of roomID.
func (h *Hub) PublishChat(roomID int64, player, message string, at time.Time) error {
	data, err := network.EncodeChat(player, message, at)
	if err != nil {
		return err
	}
	h.fanOut(roomID, data)
	return nil
}

// fanOut never blocks: a subscriber whose queue is full is dropped and closed
// so the rest of the room keeps receiving.
func (h *Hub) fanOut(roomID int64, data []byte) {
	h.mutex.RLock()
	subs := make([]Subscriber, 0, len(h.rooms[roomID]))
	for _, sub := range h.rooms[roomID] {
		subs = append(subs, sub)
	}
	h.mutex.RUnlock()

	for _, sub := range subs {
		if sub.Enqueue(data) {
			continue
		}
		if h.Unsubscribe(roomID, sub) {
			h.log.Warnf("Room %d: dropping slow subscriber %s", roomID, sub.GetID())
			if h.observer != nil {
				h.observer.IncBroadcastDrops()
			}
		}
		sub.Close()
	}
}
