package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/bncserver/game"
	"github.com/wfunc/bncserver/models"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
	log      *zap.SugaredLogger
	wg       sync.WaitGroup
}

// NewServer listens on addr and serves the given receivers, each registered
// under its type name.
func NewServer(addr string, log *zap.SugaredLogger, receivers ...interface{}) (*Server, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	srv := rpc.NewServer()
	for _, rcvr := range receivers {
		if err := srv.Register(rcvr); err != nil {
			return nil, err
		}
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      srv,
		log:      log,
	}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests. It returns when the listener is closed.
func (s *Server) Start() {
	s.log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.log.Info("RPC server listener closed.")
				return
			}
			s.log.Errorf("RPC server accept error: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.rpc.ServeConn(conn)
		}()
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		s.log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// Games is what the admin service needs from the game layer.
type Games interface {
	State(ctx context.Context, roomID int64) (game.Snapshot, error)
	Reset(ctx context.Context, roomID int64, regenerate bool) (game.Snapshot, error)
}

// StatsFunc reports runtime counters.
type StatsFunc func() models.ServerStats

// Admin is the struct that exposes RPC methods.
// Methods follow the net/rpc signature: exported method, exported arguments,
// second argument is a pointer, return type is error.
type Admin struct {
	games   Games
	stats   StatsFunc
	timeout time.Duration
}

func NewAdmin(games Games, stats StatsFunc, timeout time.Duration) *Admin {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Admin{games: games, stats: stats, timeout: timeout}
}

type RoomArgs struct {
	RoomID int64
}

type ResetArgs struct {
	RoomID     int64
	Regenerate bool
}

type RoomReply struct {
	State game.Snapshot
}

type StatsReply struct {
	Stats models.ServerStats
}

// RoomState returns the room's current snapshot.
func (a *Admin) RoomState(args *RoomArgs, reply *RoomReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	snap, err := a.games.State(ctx, args.RoomID)
	if err != nil {
		return err
	}
	reply.State = snap
	return nil
}

// ResetRoom resets the room's game; connected players receive the update.
func (a *Admin) ResetRoom(args *ResetArgs, reply *RoomReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	snap, err := a.games.Reset(ctx, args.RoomID, args.Regenerate)
	if err != nil {
		return err
	}
	reply.State = snap
	return nil
}

// Stats reports runtime counters. The argument is unused; gob cannot encode
// an empty struct.
func (a *Admin) Stats(_ int, reply *StatsReply) error {
	if a.stats != nil {
		reply.Stats = a.stats()
	}
	return nil
}
