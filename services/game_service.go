// services/game_service.go
package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/bncserver/game"
	"github.com/wfunc/bncserver/network"
)

// 命令名，用于指标和日志
const (
	CmdJoin  = "join_room"
	CmdLeave = "leave_room"
	CmdGuess = "submit_guess"
	CmdReset = "reset_game"
	CmdStart = "start_game"
	CmdState = "get_state"
)

// Rooms runs a command with exclusive access to a room's game.
type Rooms interface {
	WithRoom(ctx context.Context, roomID int64, fn func(st *game.State) error) error
}

// Presence reports whether a token still has a live connection in a room.
type Presence interface {
	HasToken(roomID int64, token string) bool
}

// Recorder 命令耗时统计
type Recorder interface {
	ObserveCommand(command string, err error, d time.Duration)
}

// Sender receives frames meant for a single connection.
type Sender interface {
	Enqueue(data []byte) bool
}

// GameService 房间命令：加入、离开、猜测、重置、开始
type GameService struct {
	rooms    Rooms
	presence Presence
	recorder Recorder
	now      func() time.Time
	log      *zap.SugaredLogger
}

type Option func(*GameService)

// WithClock replaces time.Now for guess timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *GameService) { s.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(s *GameService) { s.recorder = r }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *GameService) { s.log = log }
}

func NewGameService(rooms Rooms, presence Presence, opts ...Option) *GameService {
	s := &GameService{
		rooms:    rooms,
		presence: presence,
		now:      time.Now,
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GameService) exec(ctx context.Context, command string, roomID int64, fn func(st *game.State) error) error {
	start := time.Now()
	err := s.rooms.WithRoom(ctx, roomID, fn)
	if s.recorder != nil {
		s.recorder.ObserveCommand(command, err, time.Since(start))
	}
	if err != nil && game.KindOf(err) != game.KindValidation {
		s.log.Warnf("Room %d: %s failed: %v", roomID, command, err)
	}
	return err
}

// Join puts token on the room's roster. When the roster does not change
// (a reconnect) nothing is broadcast, so the current state is sent to direct
// instead, from inside the room's exclusive window.
func (s *GameService) Join(ctx context.Context, roomID int64, token string, direct Sender) (game.Snapshot, error) {
	var snap game.Snapshot
	err := s.exec(ctx, CmdJoin, roomID, func(st *game.State) error {
		before := st.Revision()
		var err error
		snap, err = st.AddPlayer(token)
		if err != nil {
			return err
		}
		if st.Revision() == before && direct != nil {
			data, err := network.EncodeUpdate(snap)
			if err != nil {
				return err
			}
			direct.Enqueue(data)
		}
		return nil
	})
	if err == nil {
		s.log.Infof("Room %d: player %s joined", roomID, token)
	}
	return snap, err
}

// Leave removes token from the roster unless another connection still plays
// as token in the room. The check runs inside the room's exclusive window.
func (s *GameService) Leave(ctx context.Context, roomID int64, token string) (game.Snapshot, error) {
	var snap game.Snapshot
	err := s.exec(ctx, CmdLeave, roomID, func(st *game.State) error {
		if s.presence != nil && s.presence.HasToken(roomID, token) {
			snap = st.Snapshot()
			return nil
		}
		snap = st.RemovePlayer(token)
		return nil
	})
	return snap, err
}

func (s *GameService) SubmitGuess(ctx context.Context, roomID int64, player, guess string) (game.Snapshot, error) {
	var snap game.Snapshot
	err := s.exec(ctx, CmdGuess, roomID, func(st *game.State) error {
		var err error
		snap, err = st.SubmitGuess(player, guess, s.now())
		return err
	})
	return snap, err
}

// Reset starts a new round, keeping the roster.
func (s *GameService) Reset(ctx context.Context, roomID int64, regenerate bool) (game.Snapshot, error) {
	var snap game.Snapshot
	err := s.exec(ctx, CmdReset, roomID, func(st *game.State) error {
		snap = st.Reset(regenerate)
		return nil
	})
	if err == nil {
		s.log.Infof("Room %d: game reset (regenerate=%v)", roomID, regenerate)
	}
	return snap, err
}

func (s *GameService) Start(ctx context.Context, roomID int64) (game.Snapshot, error) {
	var snap game.Snapshot
	err := s.exec(ctx, CmdStart, roomID, func(st *game.State) error {
		var err error
		snap, err = st.StartGame()
		return err
	})
	return snap, err
}

// State reads the room's snapshot; a room without a game is initialized.
func (s *GameService) State(ctx context.Context, roomID int64) (game.Snapshot, error) {
	var snap game.Snapshot
	err := s.exec(ctx, CmdState, roomID, func(st *game.State) error {
		snap = st.Snapshot()
		return nil
	})
	return snap, err
}
