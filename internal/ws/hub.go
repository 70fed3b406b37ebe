// Package ws fans market-updates and client-filtered response envelopes
// out to WebSocket subscribers.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"predictionmarket/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub manages per-market WebSocket subscriptions for the broadcast
// market-updates topic, and per-client subscriptions for the response
// topic filtered by client id.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*conn]bool // marketID -> subscribers
	clients map[string]map[*conn]bool // clientID -> subscribers
	allConn map[*conn]bool
}

type conn struct {
	ws       *websocket.Conn
	send     chan []byte
	hub      *Hub
	market   string
	clientID string
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*conn]bool),
		clients: make(map[string]map[*conn]bool),
		allConn: make(map[*conn]bool),
	}
}

// BroadcastUpdate fans a market-updates envelope out to every subscriber
// of update.MarketID.
func (h *Hub) BroadcastUpdate(update events.MarketUpdate) {
	b, err := json.Marshal(update)
	if err != nil {
		return
	}
	h.mu.RLock()
	room := h.rooms[update.MarketID]
	h.mu.RUnlock()
	for c := range room {
		h.send(c, b)
	}
}

// Respond delivers a client-filtered response envelope to every connection
// subscribed under env.ClientID.
func (h *Hub) Respond(env events.ResponseEnvelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.RLock()
	subs := h.clients[env.ClientID]
	h.mu.RUnlock()
	for c := range subs {
		h.send(c, b)
	}
}

func (h *Hub) send(c *conn, b []byte) {
	select {
	case c.send <- b:
	default:
		// slow client, drop
	}
}

// RunUpdates drains a market-updates channel until it closes.
func (h *Hub) RunUpdates(updates <-chan events.MarketUpdate) {
	for u := range updates {
		h.BroadcastUpdate(u)
	}
}

// RunResponses drains a response channel until it closes.
func (h *Hub) RunResponses(responses <-chan events.ResponseEnvelope) {
	for r := range responses {
		h.Respond(r)
	}
}

// HandleWS upgrades the request and starts the connection's pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	c := &conn{
		ws:   wsConn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	h.mu.Lock()
	h.allConn[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		var sub struct {
			Action   string `json:"action"`
			MarketID string `json:"market_id"`
			ClientID string `json:"client_id"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe_market":
			c.hub.subscribeMarket(c, sub.MarketID)
		case "unsubscribe_market":
			c.hub.unsubscribeMarket(c, sub.MarketID)
		case "subscribe_client":
			c.hub.subscribeClient(c, sub.ClientID)
		}
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (h *Hub) subscribeMarket(c *conn, marketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.market != "" {
		if room, ok := h.rooms[c.market]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.market)
			}
		}
	}
	c.market = marketID
	room, ok := h.rooms[marketID]
	if !ok {
		room = make(map[*conn]bool)
		h.rooms[marketID] = room
	}
	room[c] = true
}

func (h *Hub) unsubscribeMarket(c *conn, marketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[marketID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, marketID)
		}
	}
	if c.market == marketID {
		c.market = ""
	}
}

func (h *Hub) subscribeClient(c *conn, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.clientID = clientID
	subs, ok := h.clients[clientID]
	if !ok {
		subs = make(map[*conn]bool)
		h.clients[clientID] = subs
	}
	subs[c] = true
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.allConn, c)
	if c.market != "" {
		if room, ok := h.rooms[c.market]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.market)
			}
		}
	}
	if c.clientID != "" {
		if subs, ok := h.clients[c.clientID]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.clients, c.clientID)
			}
		}
	}
	close(c.send)
}
