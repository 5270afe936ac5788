package network

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/thrylos-labs/hashsync/types"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	messageQueueSize = 16
)

// RootFeed pushes every root hash change to connected websocket clients.
type RootFeed struct {
	bus      types.MessageBusInterface
	events   chan types.Message
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	done    chan struct{}
	once    sync.Once
}

type feedClient struct {
	conn *websocket.Conn
	send chan types.RootEvent
}

// NewRootFeed subscribes to RootChanged on bus. Origins are checked against
// allowedOrigins; an empty list accepts any origin.
func NewRootFeed(bus types.MessageBusInterface, allowedOrigins []string) *RootFeed {
	f := &RootFeed{
		bus:     bus,
		events:  make(chan types.Message, messageQueueSize),
		clients: make(map[*feedClient]struct{}),
		done:    make(chan struct{}),
	}
	f.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	bus.Subscribe(types.RootChanged, f.events)
	go f.run()
	return f
}

func (f *RootFeed) run() {
	for {
		select {
		case msg, ok := <-f.events:
			if !ok {
				return
			}
			event, ok := msg.Data.(types.RootEvent)
			if !ok {
				continue
			}
			f.broadcast(event)
		case <-f.done:
			return
		}
	}
}

func (f *RootFeed) broadcast(event types.RootEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- event:
		default:
			log.Printf("Dropping root event for slow websocket client %s", c.conn.RemoteAddr())
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (f *RootFeed) ClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Serve upgrades the request and streams RootEvents until the client leaves.
// initial is sent right after the upgrade.
func (f *RootFeed) Serve(w http.ResponseWriter, r *http.Request, initial types.RootEvent) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}
	c := &feedClient{conn: conn, send: make(chan types.RootEvent, messageQueueSize)}
	c.send <- initial

	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	go f.readPump(c)
	f.writePump(c)
}

// readPump only handles control frames; clients do not send data.
func (f *RootFeed) readPump(c *feedClient) {
	defer f.remove(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *RootFeed) writePump(c *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *RootFeed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// Close disconnects every client and stops listening to the bus.
func (f *RootFeed) Close() {
	f.once.Do(func() {
		f.bus.Unsubscribe(types.RootChanged, f.events)
		close(f.done)

		f.mu.Lock()
		defer f.mu.Unlock()
		for c := range f.clients {
			delete(f.clients, c)
			close(c.send)
		}
	})
}
