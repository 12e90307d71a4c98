package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tahcohcat/voiceforge/internal/logger"
	"github.com/tahcohcat/voiceforge/internal/studio"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Message types exchanged with the studio page.
const (
	TypeSpeak  = "speak"
	TypeCancel = "cancel"
	TypeState  = "state"

	TypeVoices = "voices"
	TypeEnded  = "ended"
	TypeError  = "error"
)

type Message struct {
	Type   string         `json:"type"`
	ID     string         `json:"id,omitempty"`
	Text   string         `json:"text,omitempty"`
	Voice  string         `json:"voice,omitempty"`
	Rate   float64        `json:"rate,omitempty"`
	Pitch  float64        `json:"pitch,omitempty"`
	Voices []studio.Voice `json:"voices,omitempty"`
	Error  string         `json:"error,omitempty"`
	State  *studio.State  `json:"state,omitempty"`
}

// Hub fans messages out to the browser tabs of each studio room. Tabs are
// kept in connection order.
type Hub struct {
	rooms      map[string][]*Client
	register   chan *Client
	unregister chan *Client
	send       chan envelope
	done       chan struct{}

	upgrader websocket.Upgrader
	logger   *logger.Log

	mu       sync.Mutex
	speakers map[string]*Speaker
}

type Client struct {
	hub  *Hub
	room string
	conn *websocket.Conn
	send chan []byte
}

type envelope struct {
	room  string
	data  []byte
	one   bool // newest tab only
	reply chan int
	// onDeliver runs on the Run goroutine for each tab that took data.
	onDeliver func(*Client)
}

func NewHub(log *logger.Log) *Hub {
	if log == nil {
		log = logger.New()
	}
	return &Hub{
		rooms:      make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		send:       make(chan envelope),
		done:       make(chan struct{}),
		// Nil CheckOrigin keeps the same-origin check: the socket rides on
		// the studio cookie.
		upgrader: websocket.Upgrader{},
		logger:   log.Named("websocket"),
		speakers: make(map[string]*Speaker),
	}
}

// Run owns the room table until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.rooms {
				for _, client := range clients {
					close(client.send)
				}
			}
			h.rooms = make(map[string][]*Client)
			return

		case client := <-h.register:
			h.rooms[client.room] = append(h.rooms[client.room], client)
			h.logger.Debug("client connected",
				zap.String("room", client.room),
				zap.Int("room_clients", len(h.rooms[client.room])))

		case client := <-h.unregister:
			h.remove(client)

		case env := <-h.send:
			env.reply <- h.deliver(env)
		}
	}
}

// deliver runs on the Run goroutine. A one-tab envelope goes to the newest tab
// that accepts it.
func (h *Hub) deliver(env envelope) int {
	clients := slices.Clone(h.rooms[env.room])
	delivered := 0
	for i := len(clients) - 1; i >= 0; i-- {
		client := clients[i]
		select {
		case client.send <- env.data:
			delivered++
			if env.onDeliver != nil {
				env.onDeliver(client)
			}
			if env.one {
				return delivered
			}
		default:
			h.logger.Warn("dropping slow client", zap.String("room", env.room))
			h.remove(client)
		}
	}
	return delivered
}

func (h *Hub) remove(client *Client) {
	clients := h.rooms[client.room]
	i := slices.Index(clients, client)
	if i < 0 {
		return
	}
	clients = slices.Delete(clients, i, i+1)
	h.rooms[client.room] = clients
	close(client.send)
	h.logger.Debug("client disconnected",
		zap.String("room", client.room),
		zap.Int("room_clients", len(clients)))

	if len(clients) == 0 {
		delete(h.rooms, client.room)
	}
	// Speaker callbacks may call back into Send.
	go h.clientLeft(client)
}

// clientLeft fails the utterances the departed tab was speaking.
func (h *Hub) clientLeft(client *Client) {
	h.mu.Lock()
	sp := h.speakers[client.room]
	h.mu.Unlock()
	if sp != nil {
		sp.failClient(client, ErrNoBrowser)
	}
}

// Send delivers msg to every tab in room and reports how many received it.
func (h *Hub) Send(room string, msg Message) int {
	return h.post(envelope{room: room}, msg)
}

// sendOne delivers msg to the most recently connected tab of room only and
// reports whether one took it. onDeliver learns which tab, before that tab
// can be unregistered.
func (h *Hub) sendOne(room string, msg Message, onDeliver func(*Client)) bool {
	return h.post(envelope{room: room, one: true, onDeliver: onDeliver}, msg) > 0
}

func (h *Hub) post(env envelope, msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("failed to encode message")
		return 0
	}

	env.data = data
	env.reply = make(chan int, 1)
	select {
	case h.send <- env:
	case <-h.done:
		return 0
	}

	select {
	case n := <-env.reply:
		return n
	case <-h.done:
		return 0
	}
}

// Speaker returns the browser speaker of room, creating it on first use.
func (h *Hub) Speaker(room string) *Speaker {
	h.mu.Lock()
	defer h.mu.Unlock()

	sp, ok := h.speakers[room]
	if !ok {
		sp = newSpeaker(h, room)
		h.speakers[room] = sp
	}
	return sp
}

// DropSpeaker forgets the speaker of room and fails its pending utterances.
func (h *Hub) DropSpeaker(room string) {
	h.mu.Lock()
	sp := h.speakers[room]
	delete(h.speakers, room)
	h.mu.Unlock()

	if sp != nil {
		sp.fail(ErrNoBrowser)
	}
}

func (h *Hub) dispatch(room string, msg Message) {
	h.mu.Lock()
	sp := h.speakers[room]
	h.mu.Unlock()

	if sp == nil {
		h.logger.Debug("message for room without speaker",
			zap.String("room", room),
			zap.String("type", msg.Type))
		return
	}
	sp.handle(msg)
}

// ServeRoom upgrades the request and attaches the connection to room.
func (h *Hub) ServeRoom(w http.ResponseWriter, r *http.Request, room string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{hub: h, room: room, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.WithError(err).Warn("websocket read failed")
			}
			return
		}
		c.hub.dispatch(c.room, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.hub.logger.WithError(err).Warn("websocket write failed")
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
