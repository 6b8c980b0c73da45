package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wfunc/bncserver/broadcast"
	"github.com/wfunc/bncserver/config"
	"github.com/wfunc/bncserver/game"
	"github.com/wfunc/bncserver/models"
	"github.com/wfunc/bncserver/monitor"
	"github.com/wfunc/bncserver/persistence"
	"github.com/wfunc/bncserver/room"
	"github.com/wfunc/bncserver/services"
	"github.com/wfunc/bncserver/session"
	bncrpc "github.com/wfunc/bncserver/rpc"
)

type GameServer struct {
	cfg      *config.Config
	defaults game.Config
	log      *zap.SugaredLogger

	db       persistence.Database
	registry *room.Registry
	hub      broadcast.Broadcaster
	source   game.SymbolSource
	games    *services.GameService
	sessions *session.Manager
	metrics  *monitor.Metrics
	gatherer prometheus.Gatherer

	router     chi.Router
	upgrader   websocket.Upgrader
	httpServer *http.Server
	rpcServer  *bncrpc.Server

	// ctx is canceled at shutdown; connection handlers run commands under it.
	ctx     context.Context
	cancel  context.CancelFunc
	conns   sync.WaitGroup
	closing sync.Once
	now     func() time.Time
}

// Option configures a GameServer at construction.
type Option func(*GameServer)

// WithSymbolSource sets where room secrets are drawn from, both for rooms
// created over the API and for regenerated secrets.
func WithSymbolSource(src game.SymbolSource) Option {
	return func(s *GameServer) {
		if src != nil {
			s.source = src
		}
	}
}

// NewGameServer wires the room registry, broadcast hub and game service
// around db and builds the HTTP routes. It does not listen until Start.
func NewGameServer(cfg *config.Config, db persistence.Database, log *zap.SugaredLogger, opts ...Option) (*GameServer, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defaults, err := cfg.GameDefaults()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetrics("bnc", reg)

	s := &GameServer{
		cfg:      cfg,
		defaults: defaults,
		log:      log,
		db:       db,
		sessions: session.NewManager(),
		metrics:  metrics,
		gatherer: reg,
		source:   game.DefaultSource,
		now:      time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// 初始化广播器
	s.hub = broadcast.NewHub(log, metrics)
	s.registry = room.NewRegistry(db, room.Options{
		AcquireTimeout: cfg.Registry.AcquireTimeout,
		HoldWarning:    cfg.Registry.HoldWarning,
		Shards:         cfg.Registry.Shards,
		MaxPlayers:     cfg.Registry.MaxPlayers,
		Source:         s.source,
		Publisher:      s.hub,
		Observer:       metrics,
		Logger:         log,
	})
	s.games = services.NewGameService(s.registry, s.hub,
		services.WithRecorder(metrics),
		services.WithLogger(log),
		services.WithClock(func() time.Time { return s.now() }),
	)
	s.router = s.routes()
	return s, nil
}

func (s *GameServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/ws/game/{roomID}", s.handleWebSocket)
	r.Handle("/metrics", monitor.Handler(s.gatherer))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Use(jsonContentType)
		r.Get("/ping", s.handlePing)
		r.Get("/rooms", s.handleListRooms)
		r.Post("/rooms", s.handleCreateRoom)
		r.Get("/rooms/{roomID}", s.handleGetRoom)
		r.Get("/rooms/{roomID}/state", s.handleRoomState)
		r.Get("/rooms/{roomID}/messages", s.handleRoomMessages)
	})
	return r
}

// Handler exposes the router, useful for tests.
func (s *GameServer) Handler() http.Handler {
	return s.router
}

// Games exposes the command layer to in-process callers such as the admin RPC.
func (s *GameServer) Games() *services.GameService {
	return s.games
}

// Stats 运行时统计
func (s *GameServer) Stats() models.ServerStats {
	tracked, busy := s.registry.Stats()
	return models.ServerStats{
		TrackedRooms: tracked,
		BusyRooms:    busy,
		Connections:  s.hub.Total(),
		Sessions:     s.sessions.Count(),
		IdleSessions: s.sessions.Idle(s.now().Add(-s.cfg.Server.PongWait)),
	}
}

// Start serves HTTP on the configured address, and the admin RPC when an
// RPC address is configured. It blocks until the server is shut down.
func (s *GameServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddress)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve is Start on an existing listener.
func (s *GameServer) Serve(ln net.Listener) error {
	if addr := s.cfg.Server.RPCAddress; addr != "" {
		admin := bncrpc.NewAdmin(s.games, s.Stats, s.cfg.Registry.AcquireTimeout)
		rpcServer, err := bncrpc.NewServer(addr, s.log, admin)
		if err != nil {
			ln.Close()
			return err
		}
		s.rpcServer = rpcServer
		go s.rpcServer.Start()
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Infof("Game server listening on %s", ln.Addr())
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, closes the open ones (their players
// leave their rooms), then waits for running room commands until ctx is done.
func (s *GameServer) Shutdown(ctx context.Context) error {
	var err error
	s.closing.Do(func() {
		if s.httpServer != nil {
			if e := s.httpServer.Shutdown(ctx); e != nil {
				err = e
			}
		}
		if s.rpcServer != nil {
			s.rpcServer.Stop()
		}

		s.sessions.CloseAll(websocket.CloseGoingAway, "server shutting down")
		done := make(chan struct{})
		go func() {
			s.conns.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.log.Warnf("Shutdown: connections still closing: %v", ctx.Err())
		}

		s.cancel()
		if e := s.registry.Close(ctx); e != nil && err == nil {
			err = e
		}
	})
	return err
}
