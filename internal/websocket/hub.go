package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rzzdr/qdfp-pricer/pkg/models"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

// Pricer answers pricing requests sent over a websocket
type Pricer interface {
	Result(ctx context.Context, req models.PricingRequest) models.PricingResult
}

// ClientGauge receives the connected client count
type ClientGauge interface {
	RecordWebsocketClients(count int)
}

// Hub maintains the set of active clients and broadcasts pricing results to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
	pricer     Pricer
	gauge      ClientGauge
	log        *logger.Logger
	mu         sync.RWMutex
}

type outbound struct {
	symbol string
	data   []byte
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	done          chan struct{}
	id            string
	subscriptions map[string]bool // symbols this client is subscribed to; empty means all
	mu            sync.RWMutex
}

// Message represents a WebSocket message
type Message struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	ID     string      `json:"id,omitempty"`
}

// Request is a message sent by a client
type Request struct {
	Type    string                 `json:"type"` // subscribe, unsubscribe, ping or price
	Symbols []string               `json:"symbols,omitempty"`
	Request *models.PricingRequest `json:"request,omitempty"`
	ID      string                 `json:"id,omitempty"`
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Time allowed to price a request received over the socket
	priceTimeout = 30 * time.Second
)

var clientSeq atomic.Uint64

// NewHub creates a new WebSocket hub. pricer and gauge may be nil.
func NewHub(pricer Pricer, gauge ClientGauge) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		pricer:     pricer,
		gauge:      gauge,
		log:        logger.GetLogger("websocket.hub"),
	}
}

// Run serves the hub until ctx is done
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Starting WebSocket hub")
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("WebSocket hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.recordClients()
			h.log.Infof("Client %s registered", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.log.Infof("Client %s unregistered", client.id)
			}
			h.mu.Unlock()
			h.recordClients()

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastResult sends a pricing result to every client subscribed to its
// symbol. Results are dropped when the hub is saturated.
func (h *Hub) BroadcastResult(res models.PricingResult) {
	data, err := json.Marshal(Message{Type: "pricing_result", Symbol: res.Symbol, Data: res, ID: res.ID})
	if err != nil {
		h.log.Errorf("Failed to marshal pricing result: %v", err)
		return
	}

	select {
	case h.broadcast <- outbound{symbol: res.Symbol, data: data}:
	default:
		h.log.Warnw("Broadcast queue full, dropping result", "id", res.ID)
	}
}

// HandleWebSocket handles WebSocket upgrade and client management
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		done:          make(chan struct{}),
		id:            fmt.Sprintf("client_%d", clientSeq.Add(1)),
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.stopped:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// drop removes client; h.mu must be held
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.done)
}

func (h *Hub) deliver(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.wants(msg.symbol) {
			continue
		}
		select {
		case client.send <- msg.data:
		default:
			h.log.Warnf("Client %s is too slow, disconnecting", client.id)
			h.drop(client)
		}
	}
}

func (h *Hub) recordClients() {
	if h.gauge != nil {
		h.gauge.RecordWebsocketClients(h.ClientCount())
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Errorf("WebSocket error: %v", err)
			}
			return
		}

		c.handleMessage(data)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage handles incoming messages from the client
func (c *Client) handleMessage(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("Invalid message format", "")
		return
	}

	switch req.Type {
	case "subscribe":
		c.mu.Lock()
		for _, symbol := range req.Symbols {
			c.subscriptions[symbol] = true
		}
		c.mu.Unlock()
		c.sendMessage(Message{Type: "subscription_confirmed", Data: map[string]interface{}{"symbols": req.Symbols}, ID: req.ID})

	case "unsubscribe":
		c.mu.Lock()
		for _, symbol := range req.Symbols {
			delete(c.subscriptions, symbol)
		}
		c.mu.Unlock()
		c.sendMessage(Message{Type: "unsubscription_confirmed", Data: map[string]interface{}{"symbols": req.Symbols}, ID: req.ID})

	case "ping":
		c.sendMessage(Message{Type: "pong", ID: req.ID})

	case "price":
		if c.hub.pricer == nil || req.Request == nil {
			c.sendError("Pricing is not available", req.ID)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), priceTimeout)
		res := c.hub.pricer.Result(ctx, *req.Request)
		cancel()
		c.sendMessage(Message{Type: "pricing_result", Symbol: res.Symbol, Data: res, ID: req.ID})

	default:
		c.sendError("Unknown message type", req.ID)
	}
}

// wants reports whether the client receives results for symbol
func (c *Client) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[symbol]
}

// sendMessage queues a reply to the client
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Errorf("Failed to marshal message: %v", err)
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.hub.log.Warnf("Dropping reply to slow client %s", c.id)
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(errorMsg, id string) {
	c.sendMessage(Message{
		Type:  "error",
		Error: errorMsg,
		ID:    id,
	})
}
