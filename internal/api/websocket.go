package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"kbcheck/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin admits non-browser clients and pages served from this machine.
// Any other web page could otherwise read the typed text.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// WSManager handles WebSocket connections and broadcasting
type WSManager struct {
	server     *Server
	log        logr.Logger
	clients    map[*WebSocketClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan protocol.Message
	reply      chan reply
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	shutdown   chan struct{}
	stopOnce   sync.Once
}

type reply struct {
	client *WebSocketClient
	msg    protocol.Message
}

// WebSocketClient represents a connected feed client
type WebSocketClient struct {
	id      string
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string
}

func newWSManager(s *Server, log logr.Logger) *WSManager {
	return &WSManager{
		server:     s,
		log:        log,
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan protocol.Message, 64),
		reply:      make(chan reply, 16),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		shutdown:   make(chan struct{}),
	}
}

func (m *WSManager) start() {
	for {
		select {
		case client := <-m.register:
			m.clientsMu.Lock()
			m.clients[client] = true
			total := len(m.clients)
			m.clientsMu.Unlock()
			m.log.Info("Client connected", "client", client.id, "remote", client.ip, "clients", total)
			m.sendTo(client, protocol.Message{
				Type:    protocol.TypeHello,
				Payload: protocol.HelloPayload{ClientID: client.id, Version: m.server.deps.Version},
			})

		case client := <-m.unregister:
			m.drop(client)

		case r := <-m.reply:
			m.sendTo(r.client, r.msg)

		case message := <-m.broadcast:
			m.broadcastMessage(message)

		case <-m.shutdown:
			m.clientsMu.Lock()
			for client := range m.clients {
				delete(m.clients, client)
				close(client.send)
			}
			m.clientsMu.Unlock()
			return
		}
	}
}

func (m *WSManager) stop() {
	m.stopOnce.Do(func() { close(m.shutdown) })
}

func (m *WSManager) count() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

func (m *WSManager) drop(client *WebSocketClient) {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	if _, ok := m.clients[client]; ok {
		delete(m.clients, client)
		close(client.send)
		m.log.Info("Client disconnected", "client", client.id, "clients", len(m.clients))
	}
}

// Broadcast queues msg for every client without blocking.
func (m *WSManager) Broadcast(msg protocol.Message) {
	select {
	case m.broadcast <- msg:
	case <-m.shutdown:
	default:
		m.log.V(1).Info("Broadcast queue full, dropping message", "type", msg.Type)
	}
}

func (m *WSManager) broadcastMessage(message protocol.Message) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		m.log.Error(err, "Failed to marshal broadcast message")
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for client := range m.clients {
		select {
		case client.send <- jsonMsg:
		default:
			// Slow client.
			close(client.send)
			delete(m.clients, client)
		}
	}
}

// sendTo runs on the manager goroutine, so client.send is open while the
// client is registered.
func (m *WSManager) sendTo(client *WebSocketClient, msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		m.log.Error(err, "Failed to marshal message")
		return
	}
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	if !m.clients[client] {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Error(err, "Failed to upgrade connection")
		return
	}

	client := &WebSocketClient{
		id:      uuid.NewString(),
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 256),
		ip:      r.RemoteAddr,
	}

	select {
	case m.register <- client:
	case <-m.shutdown:
		conn.Close()
		return
	}

	// Start pump goroutines
	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the websocket connection to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.manager.log.Error(err, "Read error", "client", c.id)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) respond(msg protocol.Message) {
	select {
	case c.manager.reply <- reply{client: c, msg: msg}:
	case <-c.manager.shutdown:
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.manager.log.V(1).Info("Invalid message format", "client", c.id, "error", err.Error())
		return
	}

	s := c.manager.server
	switch msg.Type {
	case protocol.TypeStatusRequest:
		c.respond(protocol.Message{Type: protocol.TypeStatus, Payload: s.status()})

	case protocol.TypeReset:
		s.deps.Monitor.Reset()

	case protocol.TypeAccept:
		var payload protocol.AcceptPayload
		if err := msg.DecodePayload(&payload); err != nil {
			c.respond(errorMessage(msg.Type, err))
			return
		}
		if _, err := s.deps.Acceptor.Accept(payload.Layout); err != nil {
			c.respond(errorMessage(msg.Type, err))
		}

	case protocol.TypePing:
		c.respond(protocol.Message{Type: protocol.TypePing})
	}
}

func errorMessage(req protocol.MessageType, err error) protocol.Message {
	return protocol.Message{
		Type:    protocol.TypeError,
		Payload: protocol.ErrorPayload{Request: req, Message: err.Error()},
	}
}
