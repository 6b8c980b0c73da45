package server

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wfunc/bncserver/game"
	"github.com/wfunc/bncserver/network"
	"github.com/wfunc/bncserver/persistence"
	"github.com/wfunc/bncserver/session"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// resolveToken truncates the requested token to the configured length. A
// token that is missing, too short or has characters outside [A-Za-z0-9_-]
// is replaced by a fresh random one.
func (s *GameServer) resolveToken(requested string) string {
	n := s.cfg.Server.TokenLength
	if len(requested) >= n {
		token := requested[:n]
		if validToken(token) {
			return token
		}
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenAlphabet[rand.IntN(len(tokenAlphabet))]
	}
	return string(b)
}

func validToken(token string) bool {
	for i := 0; i < len(token); i++ {
		c := token[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

// closeCodeFor maps a failed join to the close frame sent to the client.
func closeCodeFor(err error) (int, string) {
	switch {
	case errors.Is(err, persistence.ErrRoomNotFound):
		return network.CloseRoomNotFound, "room not found"
	case errors.Is(err, game.ErrRoomFull):
		return network.CloseJoinRejected, "room is full"
	case game.KindOf(err) == game.KindValidation:
		return network.CloseJoinRejected, "join rejected"
	default:
		return network.CloseInternalError, "internal error"
	}
}

// errorMessage is the text of a private error frame. Concurrency and
// persistence details stay in the log.
func errorMessage(err error) string {
	switch game.KindOf(err) {
	case game.KindValidation, game.KindState:
		return err.Error()
	default:
		return "internal error"
	}
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	wsConn := network.NewWSConnection(conn, s.cfg.Server.WriteTimeout)

	roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
	if err != nil || roomID <= 0 {
		wsConn.WriteClose(network.CloseRoomNotFound, "room not found")
		wsConn.Close()
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()

	token := s.resolveToken(r.URL.Query().Get("token"))
	sess := session.NewSession(uuid.NewString(), token, roomID, wsConn, s.cfg.Server.SendQueue)
	s.sessions.Add(sess)
	s.metrics.IncOnlineConnections()
	s.log.Infof("New connection from %s, session ID: %s, room %d, player %s", wsConn.RemoteAddr(), sess.GetID(), roomID, token)

	go sess.WritePump(s.cfg.Server.PingPeriod)

	// 先订阅再加入，加入产生的更新也会发给自己
	s.hub.Subscribe(roomID, sess)
	if _, err := s.games.Join(s.ctx, roomID, token, sess); err != nil {
		code, reason := closeCodeFor(err)
		s.log.Infof("Session %s: join room %d rejected (%d): %v", sess.GetID(), roomID, code, err)
		s.hub.Unsubscribe(roomID, sess)
		sess.CloseWith(code, reason)
		s.sessions.Remove(sess.GetID())
		s.metrics.DecOnlineConnections()
		return
	}

	defer s.disconnect(sess)
	s.readLoop(sess)
}

func (s *GameServer) readLoop(sess *session.Session) {
	sess.Conn.SetHeartbeat(s.cfg.Server.PongWait)
	for {
		data, err := sess.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Infof("Session %s: read error: %v", sess.GetID(), err)
			}
			return
		}
		sess.Touch()
		s.handleMessage(sess, data)
	}
}

func (s *GameServer) handleMessage(sess *session.Session, data []byte) {
	msg, err := network.DecodeInbound(data)
	if err != nil {
		s.metrics.IncMessagesReceived("invalid")
		s.reply(sess, err)
		return
	}
	s.metrics.IncMessagesReceived(msg.Kind.String())

	switch msg.Kind {
	case network.MsgPing:
		sess.Enqueue(network.EncodePong())
	case network.MsgChatMessage:
		s.handleChat(sess, msg.Chat.Message)
	case network.MsgMakeMove:
		s.handleMove(sess, msg.Move)
	}
}

// handleChat stores the line, then relays it to the room. A line that
// could not be stored is not relayed.
func (s *GameServer) handleChat(sess *session.Session, message string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Server.WriteTimeout)
	defer cancel()

	rec, err := s.db.AppendChat(ctx, sess.RoomID, sess.Token, message, s.now())
	if err != nil {
		s.reply(sess, game.Wrap(game.KindPersistence, err))
		return
	}
	if err := s.hub.PublishChat(sess.RoomID, rec.Player, rec.Message, rec.CreatedAt); err != nil {
		s.reply(sess, err)
	}
}

// handleMove runs a make_move. On success the registry has already published
// the new state to the room, the sender included.
func (s *GameServer) handleMove(sess *session.Session, move *network.Move) {
	var err error
	switch move.Action {
	case network.ActionSubmitGuess:
		_, err = s.games.SubmitGuess(s.ctx, sess.RoomID, sess.Token, strings.TrimSpace(move.Guess))
	case network.ActionResetGame:
		_, err = s.games.Reset(s.ctx, sess.RoomID, move.Regenerate)
	case network.ActionStartGame:
		_, err = s.games.Start(s.ctx, sess.RoomID)
	}
	if err != nil {
		s.reply(sess, err)
	}
}

func (s *GameServer) reply(sess *session.Session, err error) {
	if game.KindOf(err) != game.KindValidation && game.KindOf(err) != game.KindState {
		s.log.Errorf("Session %s, room %d: %v", sess.GetID(), sess.RoomID, err)
	}
	sess.Enqueue(network.EncodeError(errorMessage(err)))
}

// disconnect unsubscribes sess and takes its player out of the room unless
// another connection still plays as the same token.
func (s *GameServer) disconnect(sess *session.Session) {
	defer s.metrics.DecOnlineConnections()

	s.hub.Unsubscribe(sess.RoomID, sess)
	sess.Close()
	s.sessions.Remove(sess.GetID())
	s.log.Infof("Connection closed from %s, session ID: %s", sess.Conn.RemoteAddr(), sess.GetID())

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.LeaveTimeout)
	defer cancel()
	if _, err := s.games.Leave(ctx, sess.RoomID, sess.Token); err != nil {
		s.log.Warnf("Session %s: leave room %d: %v", sess.GetID(), sess.RoomID, err)
	}
}
