package main

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gsitechorg/open-belex-debug/internal/codec"
	"github.com/gsitechorg/open-belex-debug/internal/transport/ws"
)

// Client is an observer session on a relay.
type Client struct {
	conn      *websocket.Conn
	codec     codec.Codec
	sessionID string

	writeMu sync.Mutex
	nextID  int
}

// NewClient connects to addr and waits for hello_ack.
func NewClient(addr, codecName string) (*Client, error) {
	c, err := codec.ByName(codecName)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	q := u.Query()
	q.Set("codec", c.Name())
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	client := &Client{conn: conn, codec: c}

	env, err := client.Read()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read hello_ack: %w", err)
	}
	if env.Type != ws.TypeHelloAck {
		conn.Close()
		return nil, fmt.Errorf("expected hello_ack, got: %s", env.Type)
	}
	client.sessionID = env.SessionID
	return client, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Send writes one command and returns its request id.
func (c *Client) Send(msgType string, data ws.CommandData) (string, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.nextID++
	cmd := ws.Command{
		Type:      msgType,
		Ts:        time.Now().UnixMilli(),
		RequestID: fmt.Sprintf("req_%d", c.nextID),
		Data:      data,
	}
	payload, err := c.codec.Marshal(cmd)
	if err != nil {
		return "", err
	}
	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	return cmd.RequestID, c.conn.WriteMessage(frame, payload)
}

// Read blocks for the next frame.
func (c *Client) Read() (ws.Envelope, error) {
	var env ws.Envelope
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return env, err
	}
	if err := c.codec.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode frame: %w", err)
	}
	return env, nil
}

// ParseInput maps one line typed by the user to a command. Empty input
// steps to the next unit.
func ParseInput(input string) (msgType string, data ws.CommandData, quit bool, err error) {
	input = strings.TrimSpace(input)
	switch {
	case input == "" || input == "/next" || input == "n":
		return ws.TypeAwaitAppEvent, data, false, nil
	case input == "/quit":
		return "", data, true, nil
	case input == "/restart":
		return ws.TypeRestart, data, false, nil
	case strings.HasPrefix(input, "/load"):
		path := strings.TrimSpace(strings.TrimPrefix(input, "/load"))
		if path == "" {
			return "", data, false, fmt.Errorf("usage: /load PATH")
		}
		data.Path = path
		return ws.TypeLoadFile, data, false, nil
	}
	return "", data, false, fmt.Errorf("unknown command: %s", input)
}
