// Package network provides the client side of the local suggestion feed,
// used by out-of-process presenters.
package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"kbcheck/internal/protocol"
)

// DefaultRetryInterval is the wait between reconnection attempts.
const DefaultRetryInterval = 5 * time.Second

// FeedClient handles the WebSocket connection to a running detector
type FeedClient struct {
	addr  string
	token string
	log   logr.Logger
	send  chan protocol.Message

	// RetryInterval is the wait between reconnection attempts
	RetryInterval time.Duration

	// Callbacks, run on the read goroutine
	OnHello      func(protocol.HelloPayload)
	OnSuggestion func(protocol.SuggestionPayload)
	OnHide       func()
	OnStatus     func(protocol.StatusPayload)
	OnError      func(protocol.ErrorPayload)

	mu          sync.Mutex
	isConnected bool
}

// NewFeedClient creates a client for the detector API at addr ("127.0.0.1:18081").
func NewFeedClient(addr, token string, log logr.Logger) *FeedClient {
	return &FeedClient{
		addr:          addr,
		token:         token,
		log:           log,
		send:          make(chan protocol.Message, 100),
		RetryInterval: DefaultRetryInterval,
	}
}

// Run connects and reconnects until ctx is done.
func (c *FeedClient) Run(ctx context.Context) {
	for {
		c.connect(ctx)

		// If connect returns, it means we disconnected. Wait a bit and retry.
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.RetryInterval):
			c.log.V(1).Info("Attempting reconnection")
		}
	}
}

func (c *FeedClient) url() string {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/ws"}
	return u.String()
}

func (c *FeedClient) connect(ctx context.Context) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url(), header)
	if err != nil {
		c.log.V(1).Info("Connection failed", "url", c.url(), "error", err.Error())
		return
	}
	defer conn.Close()

	c.setConnected(true)
	defer c.setConnected(false)
	c.log.Info("Connected to suggestion feed", "url", c.url())

	// specific done channels for this connection
	readDone := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump(ctx, conn, readDone)
	}()

	c.RequestStatus()
	c.readPump(conn)
	close(readDone)
	<-writeDone
}

func (c *FeedClient) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = v
}

func (c *FeedClient) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(64 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Error(err, "Read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.V(1).Info("Invalid message", "error", err.Error())
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *FeedClient) writePump(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	for {
		select {
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				c.log.V(1).Info("Write error", "error", err.Error())
				return
			}

		case <-stop:
			return

		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
			return
		}
	}
}

func (c *FeedClient) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeHello:
		var payload protocol.HelloPayload
		if c.decode(msg, &payload) && c.OnHello != nil {
			c.OnHello(payload)
		}

	case protocol.TypeSuggestion:
		var payload protocol.SuggestionPayload
		if c.decode(msg, &payload) && c.OnSuggestion != nil {
			c.OnSuggestion(payload)
		}

	case protocol.TypeHide:
		if c.OnHide != nil {
			c.OnHide()
		}

	case protocol.TypeStatus:
		var payload protocol.StatusPayload
		if c.decode(msg, &payload) && c.OnStatus != nil {
			c.OnStatus(payload)
		}

	case protocol.TypeError:
		var payload protocol.ErrorPayload
		if c.decode(msg, &payload) && c.OnError != nil {
			c.OnError(payload)
		}
	}
}

func (c *FeedClient) decode(msg protocol.Message, v any) bool {
	if err := msg.DecodePayload(v); err != nil {
		c.log.V(1).Info("Invalid payload", "type", msg.Type, "error", err.Error())
		return false
	}
	return true
}

func (c *FeedClient) queue(msg protocol.Message) {
	select {
	case c.send <- msg:
	default:
		c.log.V(1).Info("Send queue full, dropping message", "type", msg.Type)
	}
}

// SendAccept asks the detector to apply the suggestion for layout. An
// empty layout picks the first candidate.
func (c *FeedClient) SendAccept(layout string) {
	c.queue(protocol.Message{Type: protocol.TypeAccept, Payload: protocol.AcceptPayload{Layout: layout}})
}

// SendReset asks the detector to clear the typed text.
func (c *FeedClient) SendReset() {
	c.queue(protocol.Message{Type: protocol.TypeReset})
}

// RequestStatus asks for a status message.
func (c *FeedClient) RequestStatus() {
	c.queue(protocol.Message{Type: protocol.TypeStatusRequest})
}

// IsConnected returns true if client is connected to the detector
func (c *FeedClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected
}
