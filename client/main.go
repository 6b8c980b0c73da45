package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

// envelope mirrors the server's inbound message shape.
type envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type movePayload struct {
	Action     string `json:"action,omitempty"`
	Guess      string `json:"guess,omitempty"`
	Regenerate bool   `json:"regenerate,omitempty"`
}

type chatPayload struct {
	Message string `json:"message"`
}

var errEmptyLine = errors.New("empty line")

// parseLine turns one line of input into a message. Lines starting with a
// slash are commands; anything else is a guess.
func parseLine(line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errEmptyLine
	}

	var msg envelope
	switch {
	case line == "/ping":
		msg = envelope{Type: "ping"}
	case line == "/start":
		msg = envelope{Type: "make_move", Payload: movePayload{Action: "start_game"}}
	case line == "/reset" || line == "/reset new":
		msg = envelope{Type: "make_move", Payload: movePayload{Action: "reset_game", Regenerate: line == "/reset new"}}
	case strings.HasPrefix(line, "/say "):
		msg = envelope{Type: "chat_message", Payload: chatPayload{Message: strings.TrimSpace(line[len("/say "):])}}
	case strings.HasPrefix(line, "/"):
		return nil, fmt.Errorf("unknown command %q (try /start, /reset, /reset new, /ping, /say <text>)", line)
	default:
		msg = envelope{Type: "make_move", Payload: movePayload{Guess: line}}
	}
	return json.Marshal(msg)
}

// render formats a server frame for the terminal.
func render(data []byte) string {
	var msg struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Player  string `json:"player"`
		State   *struct {
			Guesses []struct {
				Guess  string `json:"guess"`
				Bulls  int    `json:"bulls"`
				Cows   int    `json:"cows"`
				Player string `json:"player"`
			} `json:"guesses"`
			RemainingGuesses int      `json:"remainingGuesses"`
			GameOver         bool     `json:"gameOver"`
			GameWon          bool     `json:"gameWon"`
			SecretCode       *string  `json:"secretCode"`
			Players          []string `json:"players"`
		} `json:"state"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return string(data)
	}

	switch msg.Type {
	case "pong":
		return "pong"
	case "error":
		return "error: " + msg.Message
	case "chat":
		return fmt.Sprintf("[%s] %s", msg.Player, msg.Message)
	case "update":
		if msg.State == nil {
			return string(data)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "players: %s\n", strings.Join(msg.State.Players, ", "))
		for i, g := range msg.State.Guesses {
			fmt.Fprintf(&b, "%2d. %s  %dB %dC  (%s)\n", i+1, g.Guess, g.Bulls, g.Cows, g.Player)
		}
		secret := "?"
		if msg.State.SecretCode != nil {
			secret = *msg.State.SecretCode
		}
		switch {
		case msg.State.GameWon:
			fmt.Fprintf(&b, "solved! secret was %s", secret)
		case msg.State.GameOver:
			fmt.Fprintf(&b, "out of guesses, secret was %s", secret)
		default:
			fmt.Fprintf(&b, "%d guesses left", msg.State.RemainingGuesses)
		}
		return b.String()
	default:
		return string(data)
	}
}

func main() {
	addr := pflag.String("addr", "localhost:8080", "server address")
	roomID := pflag.Int64("room", 1, "room id")
	token := pflag.String("token", "", "player token; the server assigns one when empty")
	pflag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/game/" + strconv.FormatInt(*roomID, 10)}
	if *token != "" {
		u.RawQuery = url.Values{"token": {*token}}.Encode()
	}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					log.Printf("Connection closed by server: %d %s", closeErr.Code, closeErr.Text)
				} else {
					log.Println("Read error:", err)
				}
				return
			}
			fmt.Println(render(message))
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	log.Println("Client started. Type a guess, or /start, /reset, /ping, /say <text>.")

	// Write loop
	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			data, err := parseLine(line)
			if errors.Is(err, errEmptyLine) {
				continue
			}
			if err != nil {
				log.Println(err)
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Println("Write error:", err)
				return
			}
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
