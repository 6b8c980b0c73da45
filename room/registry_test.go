package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/bncserver/game"
	"github.com/wfunc/bncserver/persistence"
)

// MockPublisher records every published snapshot in order.
type MockPublisher struct {
	mutex sync.Mutex
	snaps map[int64][]game.Snapshot
}

func (m *MockPublisher) Publish(roomID int64, snap game.Snapshot) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.snaps == nil {
		m.snaps = make(map[int64][]game.Snapshot)
	}
	m.snaps[roomID] = append(m.snaps[roomID], snap)
	return nil
}

func (m *MockPublisher) Published(roomID int64) []game.Snapshot {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]game.Snapshot(nil), m.snaps[roomID]...)
}

// MockObserver counts registry measurements.
type MockObserver struct {
	lockWaits atomic.Int64
	tracked   atomic.Int64
	slow      atomic.Int64
}

func (m *MockObserver) ObserveLockWait(time.Duration) { m.lockWaits.Add(1) }
func (m *MockObserver) IncTrackedRooms() { m.tracked.Add(1) }
func (m *MockObserver) DecTrackedRooms() { m.tracked.Add(-1) }
func (m *MockObserver) IncSlowRooms() { m.slow.Add(1) }

// FailingStore fails Save while failSave is set.
type FailingStore struct {
	*persistence.Memory
	mutex    sync.Mutex
	failSave bool
}

func (f *FailingStore) Save(ctx context.Context, roomID int64, cfg game.Config, state []byte) error {
	f.mutex.Lock()
	fail := f.failSave
	f.mutex.Unlock()
	if fail {
		return errors.New("disk on fire")
	}
	return f.Memory.Save(ctx, roomID, cfg, state)
}

func newTestRoom(t *testing.T, store *persistence.Memory, secret string) int64 {
	t.Helper()
	cfg := game.Config{CodeLength: 4, NumColors: 6, MaxGuesses: 10, Secret: secret, GameType: game.MultiplayerSharedBoard}
	rec, err := store.CreateRoom(context.Background(), "", cfg)
	require.NoError(t, err)
	return rec.ID
}

func TestRegistry_InitializesAndPersists(t *testing.T) {
	store := persistence.NewMemory()
	pub := &MockPublisher{}
	reg := NewRegistry(store, Options{Publisher: pub})
	id := newTestRoom(t, store, "1234")

	err := reg.WithRoom(context.Background(), id, func(st *game.State) error {
		assert.Equal(t, game.PhaseInitialized, st.Phase())
		return nil
	})
	require.NoError(t, err)

	rec, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.State, "initialized game is saved")
	assert.Empty(t, pub.Published(id), "nothing changed, nothing published")

	err = reg.WithRoom(context.Background(), id, func(st *game.State) error {
		_, err := st.AddPlayer("alice123")
		return err
	})
	require.NoError(t, err)
	require.Len(t, pub.Published(id), 1)
	assert.Equal(t, []string{"alice123"}, pub.Published(id)[0].Players)

	tracked, busy := reg.Stats()
	assert.Equal(t, 0, tracked, "idle rooms are evicted")
	assert.Equal(t, 0, busy)
}

func TestRegistry_RoomNotFound(t *testing.T) {
	reg := NewRegistry(persistence.NewMemory(), Options{})
	called := false
	err := reg.WithRoom(context.Background(), 42, func(st *game.State) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, persistence.ErrRoomNotFound)
	assert.False(t, called)
}

func TestRegistry_ConcurrentGuesses(t *testing.T) {
	store := persistence.NewMemory()
	pub := &MockPublisher{}
	reg := NewRegistry(store, Options{Publisher: pub})
	cfg := game.Config{CodeLength: 4, NumColors: 6, MaxGuesses: 1000, Secret: "1234", GameType: game.MultiplayerSharedBoard}
	rec, err := store.CreateRoom(context.Background(), "", cfg)
	require.NoError(t, err)

	const n = 50
	rows := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := reg.WithRoom(context.Background(), rec.ID, func(st *game.State) error {
				snap, err := st.SubmitGuess(fmt.Sprintf("p%07d", i), "5555", time.Now())
				rows[i] = snap.CurrentRow
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, row := range rows {
		assert.False(t, seen[row], "row %d observed twice", row)
		seen[row] = true
	}
	assert.Len(t, seen, n)

	err = reg.WithRoom(context.Background(), rec.ID, func(st *game.State) error {
		assert.Equal(t, n, st.CurrentRow())
		return nil
	})
	require.NoError(t, err)

	published := pub.Published(rec.ID)
	require.Len(t, published, n)
	for i, snap := range published {
		assert.Equal(t, i+1, snap.CurrentRow, "publish order follows commit order")
	}
}

func TestRegistry_FIFO(t *testing.T) {
	store := persistence.NewMemory()
	reg := NewRegistry(store, Options{})
	id := newTestRoom(t, store, "1234")

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = reg.WithRoom(context.Background(), id, func(st *game.State) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	var (
		mutex sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = reg.WithRoom(context.Background(), id, func(st *game.State) error {
				mutex.Lock()
				order = append(order, i)
				mutex.Unlock()
				return nil
			})
		}(i)
		require.Eventually(t, func() bool { return reg.waiting(id) == i+1 }, time.Second, time.Millisecond)
	}

	close(hold)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestRegistry_UnrelatedRoomsDoNotBlock(t *testing.T) {
	store := persistence.NewMemory()
	reg := NewRegistry(store, Options{Shards: 1})
	busy := newTestRoom(t, store, "1234")
	free := newTestRoom(t, store, "1234")

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = reg.WithRoom(context.Background(), busy, func(st *game.State) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.WithRoom(ctx, free, func(st *game.State) error { return nil }))
}

func TestRegistry_AcquireTimeout(t *testing.T) {
	store := persistence.NewMemory()
	reg := NewRegistry(store, Options{AcquireTimeout: 20 * time.Millisecond})
	id := newTestRoom(t, store, "1234")

	hold := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reg.WithRoom(context.Background(), id, func(st *game.State) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	err := reg.WithRoom(context.Background(), id, func(st *game.State) error { return nil })
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Equal(t, game.KindConcurrency, game.KindOf(err))
	assert.Equal(t, 0, reg.waiting(id), "timed out waiter leaves the queue")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = reg.WithRoom(ctx, id, func(st *game.State) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	close(hold)
	<-done
	require.NoError(t, reg.WithRoom(context.Background(), id, func(st *game.State) error { return nil }))
}

func TestRegistry_PanicReleasesRoom(t *testing.T) {
	store := persistence.NewMemory()
	reg := NewRegistry(store, Options{})
	id := newTestRoom(t, store, "1234")

	err := reg.WithRoom(context.Background(), id, func(st *game.State) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Equal(t, game.KindConcurrency, game.KindOf(err))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, reg.WithRoom(ctx, id, func(st *game.State) error { return nil }))
}

func TestRegistry_SaveFailureIsNotCommitted(t *testing.T) {
	store := &FailingStore{Memory: persistence.NewMemory()}
	pub := &MockPublisher{}
	reg := NewRegistry(store, Options{Publisher: pub})
	id := newTestRoom(t, store.Memory, "1234")
	require.NoError(t, reg.WithRoom(context.Background(), id, func(st *game.State) error { return nil }))

	store.failSave = true
	err := reg.WithRoom(context.Background(), id, func(st *game.State) error {
		_, err := st.SubmitGuess("p", "1111", time.Now())
		return err
	})
	require.Error(t, err)
	assert.Equal(t, game.KindPersistence, game.KindOf(err))
	assert.Empty(t, pub.Published(id))

	store.failSave = false
	require.NoError(t, reg.WithRoom(context.Background(), id, func(st *game.State) error {
		assert.Equal(t, 0, st.CurrentRow(), "failed save left no trace")
		return nil
	}))
}

func TestRegistry_FnErrorIsReturned(t *testing.T) {
	store := persistence.NewMemory()
	pub := &MockPublisher{}
	reg := NewRegistry(store, Options{Publisher: pub})
	id := newTestRoom(t, store, "1234")

	err := reg.WithRoom(context.Background(), id, func(st *game.State) error {
		_, err := st.SubmitGuess("p", "12", time.Now())
		return err
	})
	assert.ErrorIs(t, err, game.ErrInvalidGuessLength)
	assert.Empty(t, pub.Published(id))
}

func TestRegistry_InvalidRoomConfig(t *testing.T) {
	store := persistence.NewMemory()
	reg := NewRegistry(store, Options{})
	rec, err := store.CreateRoom(context.Background(), "", game.Config{CodeLength: 0, NumColors: 6, MaxGuesses: 10})
	require.NoError(t, err)

	err = reg.WithRoom(context.Background(), rec.ID, func(st *game.State) error { return nil })
	assert.ErrorIs(t, err, game.ErrInvalidConfig)
}

func TestRegistry_Close(t *testing.T) {
	store := persistence.NewMemory()
	reg := NewRegistry(store, Options{})
	id := newTestRoom(t, store, "1234")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.Close(ctx))

	err := reg.WithRoom(context.Background(), id, func(st *game.State) error { return nil })
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistry_HoldWatchdog(t *testing.T) {
	store := persistence.NewMemory()
	obs := &MockObserver{}
	reg := NewRegistry(store, Options{HoldWarning: 10 * time.Millisecond, Observer: obs})
	id := newTestRoom(t, store, "1234")

	err := reg.WithRoom(context.Background(), id, func(st *game.State) error {
		time.Sleep(40 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), obs.slow.Load(), "a slow holder is reported once")

	require.NoError(t, reg.WithRoom(context.Background(), id, func(st *game.State) error { return nil }))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(1), obs.slow.Load(), "released rooms stop the watchdog")
	assert.Equal(t, int64(2), obs.lockWaits.Load())
}

func TestRegistry_TrackedRoomsGauge(t *testing.T) {
	store := persistence.NewMemory()
	obs := &MockObserver{}
	reg := NewRegistry(store, Options{Shards: 4, Observer: obs})

	ids := make([]int64, 16)
	for i := range ids {
		ids[i] = newTestRoom(t, store, "1234")
	}

	hold := make(chan struct{})
	var started, wg sync.WaitGroup
	for _, id := range ids {
		started.Add(1)
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = reg.WithRoom(context.Background(), id, func(st *game.State) error {
				started.Done()
				<-hold
				return nil
			})
		}(id)
	}
	started.Wait()
	assert.Equal(t, int64(len(ids)), obs.tracked.Load())

	close(hold)
	wg.Wait()
	assert.Equal(t, int64(0), obs.tracked.Load(), "every evicted room is subtracted")
}

// waiting reports how many commands are queued behind the holder of roomID.
func (r *Registry) waiting(roomID int64) int {
	sh := r.shardFor(roomID)
	sh.mutex.Lock()
	defer sh.mutex.Unlock()
	if e, ok := sh.entries[roomID]; ok {
		return len(e.waiters)
	}
	return 0
}
