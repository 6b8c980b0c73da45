package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wfunc/bncserver/game"
	"github.com/wfunc/bncserver/models"
	"github.com/wfunc/bncserver/persistence"
)

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

func (s *GameServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps a command or catalog error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, persistence.ErrRoomNotFound):
		return http.StatusNotFound
	case game.KindOf(err) == game.KindValidation:
		return http.StatusBadRequest
	case game.KindOf(err) == game.KindState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *GameServer) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Errorf("api: %v", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func roomInfo(rec *persistence.RoomRecord) models.RoomInfo {
	return models.RoomInfo{
		ID:           rec.ID,
		Name:         rec.Name,
		GameType:     rec.Config.GameType.String(),
		CodeLength:   rec.Config.CodeLength,
		NumOfColors:  rec.Config.NumColors,
		NumOfGuesses: rec.Config.MaxGuesses,
		CreatedAt:    rec.CreatedAt,
	}
}

func roomIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
	return id, err == nil && id > 0
}

func (s *GameServer) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *GameServer) handleListRooms(w http.ResponseWriter, r *http.Request) {
	recs, err := s.db.ListRooms(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	rooms := make([]models.RoomInfo, 0, len(recs))
	for i := range recs {
		rooms = append(rooms, roomInfo(&recs[i]))
	}
	writeJSON(w, http.StatusOK, rooms)
}

// handleCreateRoom creates a room from the request, filling gaps from the
// configured defaults. A secret is drawn when none is supplied.
func (s *GameServer) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := req.Config(s.defaults)
	cfg.Secret = strings.ToLower(strings.TrimSpace(cfg.Secret))
	if err := cfg.Validate(); err != nil {
		s.fail(w, err)
		return
	}
	if cfg.Secret == "" {
		cfg.Secret = game.RandomSecret(cfg.CodeLength, cfg.NumColors, s.source)
	}

	rec, err := s.db.CreateRoom(r.Context(), strings.TrimSpace(req.Name), cfg)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Infof("Room %d created (%s, %s)", rec.ID, rec.Name, cfg.GameType)
	writeJSON(w, http.StatusCreated, roomInfo(rec))
}

func (s *GameServer) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, persistence.ErrRoomNotFound.Error())
		return
	}
	rec, err := s.db.Load(r.Context(), roomID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomInfo(rec))
}

// handleRoomState reads the snapshot through the registry, so it never
// observes a half-applied command.
func (s *GameServer) handleRoomState(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, persistence.ErrRoomNotFound.Error())
		return
	}
	snap, err := s.games.State(r.Context(), roomID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

const (
	defaultChatHistory = 50
	maxChatHistory     = 500
)

// handleRoomMessages returns the room's latest chat lines, oldest first.
// ?limit= picks how many, up to maxChatHistory.
func (s *GameServer) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, persistence.ErrRoomNotFound.Error())
		return
	}
	limit := defaultChatHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxChatHistory {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxChatHistory))
			return
		}
		limit = n
	}

	if _, err := s.db.Load(r.Context(), roomID); err != nil {
		s.fail(w, err)
		return
	}
	lines, err := s.db.RecentChat(r.Context(), roomID, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if lines == nil {
		lines = []persistence.ChatRecord{}
	}
	writeJSON(w, http.StatusOK, lines)
}
