package network

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/bncserver/game"
)

// 入站消息类型
type MessageKind int

const (
	MsgMakeMove MessageKind = iota + 1
	MsgPing
	MsgChatMessage
)

var messageKindNames = map[MessageKind]string{
	MsgMakeMove:    "make_move",
	MsgPing:        "ping",
	MsgChatMessage: "chat_message",
}

func (k MessageKind) String() string {
	if name, ok := messageKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// make_move 的具体动作
type MoveAction int

const (
	ActionSubmitGuess MoveAction = iota + 1
	ActionResetGame
	ActionStartGame
)

var moveActionNames = map[MoveAction]string{
	ActionSubmitGuess: "submit_guess",
	ActionResetGame:   "reset_game",
	ActionStartGame:   "start_game",
}

func (a MoveAction) String() string {
	if name, ok := moveActionNames[a]; ok {
		return name
	}
	return "unknown"
}

// 出站消息类型
const (
	TypeUpdate = "update"
	TypePong   = "pong"
	TypeError  = "error"
	TypeChat   = "chat"
)

// 关闭码
const (
	CloseJoinRejected  = 4000
	CloseRoomNotFound  = 4004
	CloseInternalError = 1011
)

// MaxChatLength is the longest chat message accepted, in characters.
const MaxChatLength = 512

var (
	ErrMalformedMessage   = game.Wrap(game.KindValidation, errors.New("malformed message"))
	ErrUnknownMessageType = game.Wrap(game.KindValidation, errors.New("unknown message type"))
	ErrUnknownAction      = game.Wrap(game.KindValidation, errors.New("unknown action"))
	ErrInvalidChat        = game.Wrap(game.KindValidation, errors.New("invalid chat message"))
)

// Envelope {"type": ..., "payload": {...}}
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MakeMovePayload is the payload of make_move. Action defaults to submit_guess.
type MakeMovePayload struct {
	Action     string `json:"action,omitempty"`
	Guess      string `json:"guess"`
	Regenerate bool   `json:"regenerate,omitempty"`
}

type ChatPayload struct {
	Message string `json:"message"`
}

// Inbound is a decoded client message. Exactly one payload field is set,
// matching Kind; ping carries none.
type Inbound struct {
	Kind MessageKind
	Move *Move
	Chat *ChatPayload
}

// Move is a validated make_move.
type Move struct {
	Action     MoveAction
	Guess      string
	Regenerate bool
}

// DecodeInbound parses a client frame. Unknown types and malformed payloads
// are validation errors.
func DecodeInbound(data []byte) (*Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", ErrMalformedMessage)
	}

	switch env.Type {
	case MsgMakeMove.String():
		var p MakeMovePayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		action, err := parseMoveAction(p.Action)
		if err != nil {
			return nil, err
		}
		return &Inbound{Kind: MsgMakeMove, Move: &Move{Action: action, Guess: p.Guess, Regenerate: p.Regenerate}}, nil
	case MsgPing.String():
		return &Inbound{Kind: MsgPing}, nil
	case MsgChatMessage.String():
		var p ChatPayload
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if n := len([]rune(p.Message)); n == 0 || n > MaxChatLength {
			return nil, fmt.Errorf("message must be 1 to %d characters: %w", MaxChatLength, ErrInvalidChat)
		}
		return &Inbound{Kind: MsgChatMessage, Chat: &p}, nil
	default:
		return nil, fmt.Errorf("%q: %w", env.Type, ErrUnknownMessageType)
	}
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", ErrMalformedMessage)
	}
	return nil
}

func parseMoveAction(name string) (MoveAction, error) {
	if name == "" {
		return ActionSubmitGuess, nil
	}
	for a, n := range moveActionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, ErrUnknownAction)
}

// UpdateMessage {"type":"update","state":...}
type UpdateMessage struct {
	Type  string        `json:"type"`
	State game.Snapshot `json:"state"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ChatMessage struct {
	Type      string    `json:"type"`
	Player    string    `json:"player"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func EncodeUpdate(snap game.Snapshot) ([]byte, error) {
	return json.Marshal(UpdateMessage{Type: TypeUpdate, State: snap})
}

func EncodePong() []byte {
	data, _ := json.Marshal(PongMessage{Type: TypePong})
	return data
}

func EncodeError(message string) []byte {
	data, _ := json.Marshal(ErrorMessage{Type: TypeError, Message: message})
	return data
}

func EncodeChat(player, message string, at time.Time) ([]byte, error) {
	return json.Marshal(ChatMessage{Type: TypeChat, Player: player, Message: message, Timestamp: at.UTC()})
}
