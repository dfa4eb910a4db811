package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"citypulse/database"
	"citypulse/models"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

// WebSocketHub manages live-feed connections. Every subscriber holds a
// projection of the complaint collection that is replaced wholesale on each
// broadcast, never patched incrementally.
type WebSocketHub struct {
	clients      map[*WebSocketClient]bool
	broadcast    chan []models.Complaint
	register     chan *WebSocketClient
	unregister   chan *WebSocketClient
	done         chan struct{}
	mutex        sync.RWMutex
	lastSnapshot []models.Complaint
}

// WebSocketClient represents one subscriber. Citizens only see their own
// complaints; admins see the full collection.
type WebSocketClient struct {
	hub    *WebSocketHub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	admin  bool
}

// NewWebSocketHub creates a new hub.
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan []models.Complaint),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			snapshot := h.lastSnapshot
			h.mutex.Unlock()
			log.Infof("Live feed client registered for user %s", client.userID)

			// New subscribers get the current state immediately, like a
			// snapshot listener's initial delivery.
			select {
			case client.send <- serializeSnapshot(filterComplaints(snapshot, client.userID, client.admin)):
			default:
			}

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			log.Infof("Live feed client unregistered for user %s", client.userID)

		case snapshot := <-h.broadcast:
			h.mutex.Lock()
			h.lastSnapshot = snapshot
			for client := range h.clients {
				message := serializeSnapshot(filterComplaints(snapshot, client.userID, client.admin))
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Stop disconnects every subscriber and terminates the Run loop.
func (h *WebSocketHub) Stop() {
	h.mutex.Lock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mutex.Unlock()

	close(h.done)
}

// RegisterClient registers a new subscriber and starts its pumps.
func (h *WebSocketHub) RegisterClient(conn *websocket.Conn, userID string, admin bool) {
	client := &WebSocketClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		admin:  admin,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// BroadcastSnapshot pushes a fresh complaint snapshot to all subscribers.
func (h *WebSocketHub) BroadcastSnapshot(snapshot []models.Complaint) {
	h.broadcast <- snapshot
}

// ConnectedClients returns the number of live subscribers.
func (h *WebSocketHub) ConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// filterComplaints scopes a snapshot to what a subscriber may see.
func filterComplaints(snapshot []models.Complaint, userID string, admin bool) []models.Complaint {
	if admin {
		return snapshot
	}
	filtered := []models.Complaint{}
	for _, c := range snapshot {
		if c.UserID == userID {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func serializeSnapshot(complaints []models.Complaint) []byte {
	message := models.BroadcastMessage{
		Type: "complaints",
		Data: models.ComplaintListResponse{
			Complaints: complaints,
			Count:      len(complaints),
		},
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(message)
	if err != nil {
		log.Errorf("Failed to serialize snapshot: %v", err)
		return []byte("{}")
	}
	return data
}

// readPump pumps messages from the WebSocket connection to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Errorf("WebSocket read error for user %s: %v", c.userID, err)
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
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

// WebSocketService watches the complaint table and feeds the hub. The store
// is the sole source of truth: the service does not track individual writes,
// it rebroadcasts the whole collection whenever the table fingerprint moves.
type WebSocketService struct {
	complaints   *database.ComplaintService
	hub          *WebSocketHub
	pollInterval time.Duration

	lastFingerprint string

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWebSocketService creates the live-feed service.
func NewWebSocketService(complaints *database.ComplaintService, pollInterval time.Duration) *WebSocketService {
	return &WebSocketService{
		complaints:   complaints,
		hub:          NewWebSocketHub(),
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
	}
}

// Hub returns the WebSocket hub.
func (s *WebSocketService) Hub() *WebSocketHub {
	return s.hub
}

// Start starts the hub and the change-watch loop.
func (s *WebSocketService) Start() error {
	go s.hub.Run()

	// Prime the fingerprint and the initial snapshot so early subscribers
	// see current state rather than an empty feed.
	ctx := context.Background()
	fingerprint, err := s.complaints.Fingerprint(ctx)
	if err != nil {
		return err
	}
	snapshot, err := s.complaints.ListAll(ctx)
	if err != nil {
		return err
	}
	s.lastFingerprint = fingerprint
	s.hub.BroadcastSnapshot(snapshot)

	s.wg.Add(1)
	go s.watchLoop()

	log.Info("Live feed service started")
	return nil
}

// Stop stops the service gracefully.
func (s *WebSocketService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	s.hub.Stop()
	log.Info("Live feed service stopped")
}

func (s *WebSocketService) watchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.checkOnce(context.Background()); err != nil {
				log.Errorf("Live feed check failed: %v", err)
			}
		}
	}
}

// checkOnce rebroadcasts the collection if the table changed since the last
// check.
func (s *WebSocketService) checkOnce(ctx context.Context) error {
	fingerprint, err := s.complaints.Fingerprint(ctx)
	if err != nil {
		return err
	}
	if fingerprint == s.lastFingerprint {
		return nil
	}

	snapshot, err := s.complaints.ListAll(ctx)
	if err != nil {
		return err
	}

	s.hub.BroadcastSnapshot(snapshot)
	s.lastFingerprint = fingerprint
	log.Infof("Broadcasted %d complaints to %d clients", len(snapshot), s.hub.ConnectedClients())
	return nil
}
