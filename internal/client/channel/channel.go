// Package channel maintains the client half of the real-time event channel:
// a single authenticated websocket connection with automatic, bounded
// reconnection and explicit subscription handles.
package channel

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"tasksync/internal/websocket"

	ws "github.com/gorilla/websocket"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateAuthFailed means the server rejected the credential at handshake
	// time. Retrying cannot help; the user must re-authenticate.
	StateAuthFailed State = "auth_failed"
)

const (
	maxReconnectAttempts = 5
	reconnectBaseDelay   = 2 * time.Second
)

type Client struct {
	serverURL string
	token     string
	dialer    *ws.Dialer

	mu                sync.Mutex
	state             State
	reconnectAttempts int
	conn              *ws.Conn
	closed            bool

	nextHandlerID  int
	eventHandlers  map[int]func(*websocket.Event)
	stateHandlers  map[int]func(State)
	reconnectDelay time.Duration
}

func New(serverURL, token string) *Client {
	return &Client{
		serverURL:      serverURL,
		token:          token,
		dialer:         ws.DefaultDialer,
		state:          StateDisconnected,
		eventHandlers:  make(map[int]func(*websocket.Event)),
		stateHandlers:  make(map[int]func(State)),
		reconnectDelay: reconnectBaseDelay,
	}
}

// Connect establishes the connection. A manual call resets the reconnect
// attempt counter, so a user-initiated retry always gets a fresh budget.
func (c *Client) Connect() error {
	c.mu.Lock()
	c.reconnectAttempts = 0
	c.closed = false
	c.mu.Unlock()

	return c.dial()
}

func (c *Client) dial() error {
	c.setState(StateConnecting)

	u, err := url.Parse(c.serverURL)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.setState(StateAuthFailed)
			return fmt.Errorf("authentication rejected: %w", err)
		}
		c.setState(StateDisconnected)
		c.scheduleReconnect()
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.reconnectAttempts = 0
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(conn)

	return nil
}

func (c *Client) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var event websocket.Event
		if err := json.Unmarshal(message, &event); err != nil {
			log.Printf("channel: dropping malformed event: %v", err)
			continue
		}

		c.dispatch(&event)
	}

	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}

	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.state == StateAuthFailed {
		c.mu.Unlock()
		return
	}
	if c.reconnectAttempts >= maxReconnectAttempts {
		log.Printf("channel: giving up after %d reconnect attempts", c.reconnectAttempts)
		c.mu.Unlock()
		return
	}
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	delay := c.reconnectDelay * time.Duration(attempt)
	c.mu.Unlock()

	log.Printf("channel: reconnect attempt %d/%d in %v", attempt, maxReconnectAttempts, delay)

	time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closed || c.state == StateConnected {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := c.dial(); err != nil {
			log.Printf("channel: reconnect failed: %v", err)
		}
	})
}

// Close tears the connection down and stops reconnection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.setState(StateDisconnected)

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers an event handler and returns its disposer. The
// disposer is idempotent.
func (c *Client) Subscribe(fn func(*websocket.Event)) func() {
	c.mu.Lock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.eventHandlers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.eventHandlers, id)
		c.mu.Unlock()
	}
}

// OnStateChange registers a connection-state observer and returns its
// disposer.
func (c *Client) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.stateHandlers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.stateHandlers, id)
		c.mu.Unlock()
	}
}

func (c *Client) dispatch(event *websocket.Event) {
	c.mu.Lock()
	handlers := make([]func(*websocket.Event), 0, len(c.eventHandlers))
	for _, fn := range c.eventHandlers {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(event)
	}
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	handlers := make([]func(State), 0, len(c.stateHandlers))
	for _, fn := range c.stateHandlers {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(state)
	}
}
