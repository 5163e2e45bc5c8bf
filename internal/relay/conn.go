package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

var (
	ErrRelayUnreachable  = errors.New("relay unreachable")
	ErrRelayTimeout      = errors.New("relay timeout")
	ErrNotConnected      = errors.New("relay not connected")
	ErrEventRejected     = errors.New("event rejected by relay")
	ErrInvalidTransition = errors.New("invalid relay state transition")
)

const writeTimeout = 10 * time.Second

type okResult struct {
	accepted bool
	message  string
}

// Conn manages a single websocket connection with multiple subscriptions.
// A Conn is used once: after it leaves Connected it is replaced, not redialed.
type Conn struct {
	url string

	mu           sync.Mutex
	writeMu      sync.Mutex
	ws           *websocket.Conn
	state        State
	info         *types.RelayInfo
	subs         map[string]*Subscription
	pending      map[string][]chan okResult
	dialing      bool
	closing      bool
	closed       bool
	done         chan struct{}
	lastActivity time.Time
}

// NewConn returns a connection in the Connecting state. Call Connect to dial.
func NewConn(relayURL string) *Conn {
	return &Conn{
		url:     relayURL,
		state:   StateConnecting,
		subs:    make(map[string]*Subscription),
		pending: make(map[string][]chan okResult),
		done:    make(chan struct{}),
	}
}

func (c *Conn) URL() string { return c.url }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info returns the relay information document, nil until fetched.
func (c *Conn) Info() *types.RelayInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

func (c *Conn) setInfo(info *types.RelayInfo) {
	c.mu.Lock()
	c.info = info
	c.mu.Unlock()
}

func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Done is closed once the connection has ended or failed to open.
func (c *Conn) Done() <-chan struct{} { return c.done }

// transition must be called with c.mu held.
func (c *Conn) transition(next State) error {
	if !c.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, next)
	}
	slog.Debug("relay state change", "relay", c.url, "from", c.state.String(), "to", next.String())
	c.state = next
	return nil
}

// Connect dials the relay and starts the read loop.
// It moves the connection to Connected on success and to Error otherwise.
func (c *Conn) Connect(ctx context.Context, dialer *websocket.Dialer) error {
	c.mu.Lock()
	if c.state != StateConnecting || c.dialing {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect from %s", ErrInvalidTransition, state)
	}
	c.dialing = true
	c.mu.Unlock()

	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, c.url, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		_ = c.transition(StateError)
		if !c.closed {
			c.closed = true
			close(c.done)
		}
		return fmt.Errorf("%w: %s: %v", ErrRelayUnreachable, c.url, err)
	}
	if c.closed {
		// Closed while dialing
		ws.Close()
		_ = c.transition(StateError)
		return fmt.Errorf("%w: closed while connecting", ErrNotConnected)
	}

	c.ws = ws
	c.lastActivity = time.Now()
	_ = c.transition(StateConnected)
	go c.readLoop()
	return nil
}

// Close ends the connection. A connected relay moves to Disconnected.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	return c.shutdown(StateDisconnected)
}

// shutdown marks the connection as closed and cleans up
func (c *Conn) shutdown(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.state == StateConnected {
		_ = c.transition(next)
	} else if c.state == StateConnecting && !c.dialing {
		_ = c.transition(StateError)
	}

	var err error
	if c.ws != nil {
		err = c.ws.Close()
	}
	for _, sub := range c.subs {
		sub.close()
	}
	c.subs = make(map[string]*Subscription)
	close(c.done)
	return err
}

func (c *Conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Set write deadline to prevent indefinite blocking
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer c.ws.SetWriteDeadline(time.Time{})
	return c.ws.WriteJSON(v)
}

// Publish sends the event and waits for the relay's OK.
// nil means the relay accepted it.
func (c *Conn) Publish(ctx context.Context, evt types.Event) error {
	c.mu.Lock()
	if c.state != StateConnected || c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ch := make(chan okResult, 1)
	c.pending[evt.ID] = append(c.pending[evt.ID], ch)
	c.mu.Unlock()
	defer c.removePending(evt.ID, ch)

	if err := c.writeJSON([]interface{}{"EVENT", evt}); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	select {
	case res := <-ch:
		if res.accepted {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrEventRejected, res.message)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: no OK for %s", ErrRelayTimeout, nostr.ShortID(evt.ID))
		}
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("%w: connection closed", ErrNotConnected)
	}
}

func (c *Conn) removePending(id string, ch chan okResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.pending[id]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(c.pending, id)
	} else {
		c.pending[id] = waiters
	}
}

// Subscribe registers a subscription and sends REQ. Events are handed over
// on Events and the read loop waits for each one to be received.
func (c *Conn) Subscribe(id string, filters []types.Filter) (*Subscription, error) {
	return c.subscribe(newSubscription(id, filters))
}

// SubscribeLive is Subscribe for long-lived consumers: events queue on the
// subscription until Take and never stall the read loop.
func (c *Conn) SubscribeLive(id string, filters []types.Filter) (*Subscription, error) {
	return c.subscribe(newLiveSubscription(id, filters))
}

func (c *Conn) subscribe(sub *Subscription) (*Subscription, error) {
	id, filters := sub.ID, sub.Filters
	c.mu.Lock()
	if c.state != StateConnected || c.closed {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	if _, exists := c.subs[id]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("subscription %q already active on %s", id, c.url)
	}
	c.subs[id] = sub
	c.mu.Unlock()

	frame := make([]interface{}, 0, 2+len(filters))
	frame = append(frame, "REQ", id)
	for _, f := range filters {
		frame = append(frame, f)
	}
	if err := c.writeJSON(frame); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		sub.close()
		return nil, fmt.Errorf("send REQ: %w", err)
	}
	return sub, nil
}

// Unsubscribe removes the subscription and sends CLOSE (best effort).
func (c *Conn) Unsubscribe(id string) {
	c.mu.Lock()
	sub, exists := c.subs[id]
	if exists {
		delete(c.subs, id)
	}
	shouldSendClose := exists && !c.closed
	c.mu.Unlock()

	if shouldSendClose {
		if err := c.writeJSON([]interface{}{"CLOSE", id}); err != nil {
			slog.Debug("failed to send CLOSE", "relay", c.url, "sub", id, "error", err)
		}
	}
	if sub != nil {
		sub.close()
	}
}

// Subscriptions returns the ids of active subscriptions.
func (c *Conn) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	return ids
}

// readLoop continuously reads from the connection and routes messages
func (c *Conn) readLoop() {
	defer c.shutdown(StateError)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if !closing {
				slog.Warn("relay read error", "relay", c.url, "error", err)
			}
			return
		}

		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()

		c.handleMessage(data)
	}
}

func (c *Conn) subscription(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *Conn) handleMessage(data []byte) {
	var msg []json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil || len(msg) < 2 {
		return
	}
	var msgType string
	if err := json.Unmarshal(msg[0], &msgType); err != nil {
		return
	}

	switch msgType {
	case "EVENT":
		if len(msg) < 3 {
			return
		}
		var subID string
		var evt types.Event
		if json.Unmarshal(msg[1], &subID) != nil || json.Unmarshal(msg[2], &evt) != nil {
			return
		}
		if !nostr.VerifyEvent(evt) {
			slog.Warn("event signature validation failed", "relay", c.url, "event_id", nostr.ShortID(evt.ID))
			return
		}
		evt.RelaysSeen = []string{c.url}
		if sub := c.subscription(subID); sub != nil {
			sub.deliver(evt)
		}

	case "EOSE":
		var subID string
		if json.Unmarshal(msg[1], &subID) != nil {
			return
		}
		if sub := c.subscription(subID); sub != nil {
			sub.markEOSE()
		}

	case "CLOSED":
		// Subscription was closed by relay
		var subID, reason string
		_ = json.Unmarshal(msg[1], &subID)
		if len(msg) >= 3 {
			_ = json.Unmarshal(msg[2], &reason)
		}
		c.mu.Lock()
		sub := c.subs[subID]
		delete(c.subs, subID)
		c.mu.Unlock()
		if sub != nil {
			slog.Info("relay closed subscription", "relay", c.url, "sub", subID, "reason", reason)
			sub.close()
		}

	case "OK":
		if len(msg) < 3 {
			return
		}
		var res okResult
		var eventID string
		if json.Unmarshal(msg[1], &eventID) != nil || json.Unmarshal(msg[2], &res.accepted) != nil {
			return
		}
		if len(msg) >= 4 {
			_ = json.Unmarshal(msg[3], &res.message)
		}
		c.mu.Lock()
		for _, ch := range c.pending[eventID] {
			select {
			case ch <- res:
			default:
			}
		}
		c.mu.Unlock()

	case "NOTICE":
		var notice string
		_ = json.Unmarshal(msg[1], &notice)
		slog.Info("relay notice", "relay", c.url, "notice", notice)
	}
}
