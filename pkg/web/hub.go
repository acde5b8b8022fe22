package web

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/creker7/netvigil/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	clientQueueMax = 256
)

var wsClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "netvigil_websocket_clients",
	Help: "Connected WebSocket clients.",
})

// frame is one server-to-client message.
type frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type notificationPayload struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// snapshotFunc builds the hosts_update payload for one client's site
// filter. Evaluated at send time, so a burst of updates collapses into one
// current snapshot per client.
type snapshotFunc func(sites []string) interface{}

// Hub fans frames out to connected operator sessions. Plain state updates
// are coalesced per client; notifications and scan results are queued and
// never dropped below clientQueueMax.
type Hub struct {
	snapshot snapshotFunc
	status   func() bool // current monitoring state, nil when unwired

	mu      sync.Mutex
	clients map[*wsClient]bool
}

func NewHub(snapshot snapshotFunc, status func() bool) *Hub {
	return &Hub{
		snapshot: snapshot,
		status:   status,
		clients:  make(map[*wsClient]bool),
	}
}

type wsClient struct {
	hub   *Hub
	conn  *websocket.Conn
	sites []string

	mu         sync.Mutex
	pending    []frame
	hostsDirty bool
	notify     chan struct{}
	closed     bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cookie auth happened in the middleware; the origin check would only
	// block same-host operator browsers behind reverse proxies.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveWS upgrades one authenticated request and runs the client until it
// disconnects.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, sites []string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Web: websocket upgrade failed: %v", err)
		return
	}

	c := &wsClient{
		hub:    h,
		conn:   conn,
		sites:  sites,
		notify: make(chan struct{}, 1),
	}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	wsClients.Inc()

	// Fresh connections get the current state immediately: the monitoring
	// flag first, then a hosts snapshot. A client that connects before any
	// operator action must not assume monitoring is running.
	if h.status != nil {
		c.queue(frame{Event: "monitoring_status", Data: map[string]bool{"running": h.status()}})
	}

	c.markHostsDirty()

	go c.writePump()
	c.readPump()
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()

	if h.clients[c] {
		delete(h.clients, c)
		wsClients.Dec()
	}

	h.mu.Unlock()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wake()
	c.conn.Close()
}

// BroadcastHosts marks every client for a state push; each client sends
// one snapshot no matter how many updates arrived meanwhile.
func (h *Hub) BroadcastHosts() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.markHostsDirty()
	}
}

// Notification implements alerts.Broadcaster.
func (h *Hub) Notification(text string) {
	h.queueAll(frame{Event: "notification", Data: notificationPayload{Message: text, Type: "alert"}})
}

// DeviceFound pushes one scanner result as it arrives.
func (h *Hub) DeviceFound(dev models.DiscoveredDevice) {
	h.queueAll(frame{Event: "scan_device_found", Data: dev})
}

// MonitoringStatus announces scheduler start/stop.
func (h *Hub) MonitoringStatus(running bool) {
	h.queueAll(frame{Event: "monitoring_status", Data: map[string]bool{"running": running}})
}

func (h *Hub) queueAll(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.queue(f)
	}
}

func (c *wsClient) markHostsDirty() {
	c.mu.Lock()
	c.hostsDirty = true
	c.mu.Unlock()

	c.wake()
}

func (c *wsClient) queue(f frame) {
	c.mu.Lock()

	if len(c.pending) < clientQueueMax {
		c.pending = append(c.pending, f)
	}

	c.mu.Unlock()

	c.wake()
}

func (c *wsClient) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *wsClient) writePump() {
	for range c.notify {
		for {
			c.mu.Lock()

			if c.closed {
				c.mu.Unlock()
				return
			}

			var out *frame

			switch {
			case len(c.pending) > 0:
				out = &c.pending[0]
				c.pending = c.pending[1:]
			case c.hostsDirty:
				c.hostsDirty = false
				snapshot := c.hub.snapshot(c.sites)
				out = &frame{Event: "hosts_update", Data: snapshot}
			}

			c.mu.Unlock()

			if out == nil {
				break
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteJSON(out); err != nil {
				c.hub.drop(c)
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer c.hub.drop(c)

	for {
		var msg struct {
			Event string `json:"event"`
		}

		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if msg.Event == "request_update" {
			c.markHostsDirty()
		}
	}
}
