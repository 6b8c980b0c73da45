// room/registry.go
package room

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/bncserver/game"
	"github.com/wfunc/bncserver/persistence"
)

var (
	ErrAcquireTimeout = game.Wrap(game.KindConcurrency, errors.New("timed out waiting for room"))
	ErrRegistryClosed = game.Wrap(game.KindConcurrency, errors.New("room registry is closed"))
)

// Options 注册表参数
type Options struct {
	// AcquireTimeout bounds how long a command waits in a room's queue.
	AcquireTimeout time.Duration
	// HoldWarning is how long a command may hold a room before it is reported.
	HoldWarning time.Duration
	// Shards splits the bookkeeping maps. Rooms never share a lock across shards.
	Shards int
	// MaxPlayers caps multiplayer rosters, zero for no cap.
	MaxPlayers int
	Source     game.SymbolSource
	Publisher  Publisher
	Observer   Observer
	Logger     *zap.SugaredLogger
}

func (o *Options) setDefaults() {
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 5 * time.Second
	}
	if o.HoldWarning <= 0 {
		o.HoldWarning = 2 * time.Second
	}
	if o.Shards <= 0 {
		o.Shards = 32
	}
	if o.Source == nil {
		o.Source = game.DefaultSource
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

// entry tracks one room's exclusive access. held plus the FIFO waiters queue
// form the lock; an entry with neither is evicted.
type entry struct {
	held    bool
	waiters []chan struct{}
}

type shard struct {
	entries map[int64]*entry
	mutex   sync.Mutex
}

// Registry 管理所有房间的互斥访问，同一房间同时只执行一条命令
type Registry struct {
	store  persistence.Store
	opts   Options
	log    *zap.SugaredLogger
	shards []*shard

	life     sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewRegistry creates the registry. It is owned by the server and closed at shutdown.
func NewRegistry(store persistence.Store, opts Options) *Registry {
	opts.setDefaults()
	r := &Registry{
		store:  store,
		opts:   opts,
		log:    opts.Logger,
		shards: make([]*shard, opts.Shards),
	}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[int64]*entry)}
	}
	return r
}

func (r *Registry) shardFor(roomID int64) *shard {
	return r.shards[uint64(roomID)%uint64(len(r.shards))]
}

// WithRoom runs fn with exclusive access to roomID's game. The state is
// loaded from the store inside the exclusive window and, when fn changed it,
// saved and published before the room is released. A room without a saved
// game is initialized first. fn's error is returned.
func (r *Registry) WithRoom(ctx context.Context, roomID int64, fn func(st *game.State) error) (err error) {
	if !r.enter() {
		return ErrRegistryClosed
	}
	defer r.inflight.Done()

	start := time.Now()
	release, err := r.acquire(ctx, roomID)
	if err != nil {
		r.log.Warnf("Room %d: acquire failed after %v: %v", roomID, time.Since(start), err)
		return err
	}
	if r.opts.Observer != nil {
		r.opts.Observer.ObserveLockWait(time.Since(start))
	}

	watchdog := time.AfterFunc(r.opts.HoldWarning, func() {
		r.log.Errorf("Room %d held for more than %v", roomID, r.opts.HoldWarning)
		if r.opts.Observer != nil {
			r.opts.Observer.IncSlowRooms()
		}
	})
	defer func() {
		watchdog.Stop()
		release()
	}()
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("Room %d: command panicked: %v", roomID, p)
			err = game.Errorf(game.KindConcurrency, "room %d: command failed: %v", roomID, p)
		}
	}()

	return r.run(ctx, roomID, fn)
}

func (r *Registry) run(ctx context.Context, roomID int64, fn func(st *game.State) error) error {
	rec, err := r.store.Load(ctx, roomID)
	if err != nil {
		if errors.Is(err, persistence.ErrRoomNotFound) {
			return err
		}
		return game.Wrap(game.KindPersistence, fmt.Errorf("load room %d: %w", roomID, err))
	}

	st, fresh, err := r.restore(rec)
	if err != nil {
		return err
	}

	before := st.Revision()
	fnErr := fn(st)
	changed := st.Revision() != before
	if !changed && !fresh {
		return fnErr
	}

	blob, err := st.MarshalSnapshot()
	if err != nil {
		return game.Wrap(game.KindPersistence, fmt.Errorf("encode room %d: %w", roomID, err))
	}
	if err := r.store.Save(ctx, roomID, st.Config(), blob); err != nil {
		r.log.Errorf("Room %d: save failed: %v", roomID, err)
		return game.Wrap(game.KindPersistence, fmt.Errorf("save room %d: %w", roomID, err))
	}

	if changed && r.opts.Publisher != nil {
		if err := r.opts.Publisher.Publish(roomID, st.Snapshot()); err != nil {
			r.log.Errorf("Room %d: publish failed: %v", roomID, err)
		}
	}
	return fnErr
}

// restore builds the game from rec, initializing it when no game was saved yet.
func (r *Registry) restore(rec *persistence.RoomRecord) (*game.State, bool, error) {
	if err := rec.Config.Validate(); err != nil {
		return nil, false, fmt.Errorf("room %d: %w", rec.ID, err)
	}
	opts := []game.Option{game.WithSource(r.opts.Source), game.WithCapacity(r.opts.MaxPlayers)}
	if len(rec.State) == 0 {
		r.log.Infof("Room %d: initializing game", rec.ID)
		return game.NewState(rec.Config, opts...), true, nil
	}
	st, err := game.FromSnapshot(rec.State, rec.Config, opts...)
	if err != nil {
		return nil, false, game.Wrap(game.KindPersistence, fmt.Errorf("room %d: %w", rec.ID, err))
	}
	return st, false, nil
}

// acquire waits for roomID in FIFO order and returns its release func.
func (r *Registry) acquire(ctx context.Context, roomID int64) (func(), error) {
	sh := r.shardFor(roomID)

	sh.mutex.Lock()
	e, ok := sh.entries[roomID]
	if !ok {
		e = &entry{}
		sh.entries[roomID] = e
		r.trackRoom(1)
	}
	if !e.held {
		e.held = true
		sh.mutex.Unlock()
		return r.releaser(sh, roomID, e), nil
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	sh.mutex.Unlock()

	timer := time.NewTimer(r.opts.AcquireTimeout)
	defer timer.Stop()

	var cause error
	select {
	case <-ch:
		return r.releaser(sh, roomID, e), nil
	case <-ctx.Done():
		cause = game.Wrap(game.KindConcurrency, fmt.Errorf("waiting for room %d: %w", roomID, ctx.Err()))
	case <-timer.C:
		cause = fmt.Errorf("room %d after %v: %w", roomID, r.opts.AcquireTimeout, ErrAcquireTimeout)
	}

	sh.mutex.Lock()
	if i := slices.Index(e.waiters, ch); i >= 0 {
		e.waiters = slices.Delete(e.waiters, i, i+1)
		sh.mutex.Unlock()
		return nil, cause
	}
	sh.mutex.Unlock()

	// The room was handed over while giving up; pass it on.
	r.releaser(sh, roomID, e)()
	return nil, cause
}

func (r *Registry) releaser(sh *shard, roomID int64, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			sh.mutex.Lock()
			defer sh.mutex.Unlock()

			if len(e.waiters) > 0 {
				next := e.waiters[0]
				e.waiters = e.waiters[1:]
				close(next)
				return
			}
			e.held = false
			delete(sh.entries, roomID)
			r.trackRoom(-1)
		})
	}
}

// trackRoom moves the tracked-rooms gauge by delta. Shards report
// independently, so the gauge is only ever adjusted, never overwritten.
func (r *Registry) trackRoom(delta int) {
	if r.opts.Observer == nil {
		return
	}
	if delta > 0 {
		r.opts.Observer.IncTrackedRooms()
	} else {
		r.opts.Observer.DecTrackedRooms()
	}
}

func (r *Registry) enter() bool {
	r.life.RLock()
	defer r.life.RUnlock()
	if r.closed {
		return false
	}
	r.inflight.Add(1)
	return true
}

// Stats 当前跟踪的房间数和正在执行命令的房间数
func (r *Registry) Stats() (tracked, busy int) {
	for _, sh := range r.shards {
		sh.mutex.Lock()
		for _, e := range sh.entries {
			tracked++
			if e.held {
				busy++
			}
		}
		sh.mutex.Unlock()
	}
	return tracked, busy
}

// Close rejects new commands and waits for running ones until ctx is done.
func (r *Registry) Close(ctx context.Context) error {
	r.life.Lock()
	r.closed = true
	r.life.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
