package assetcache

import "sync"

// Message is exchanged between the cache service and its clients.
type Message struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
}

const (
	// MessageSkipWaiting asks a waiting version to activate now.
	MessageSkipWaiting = "SKIP_WAITING"
	// MessageCacheUpdated is broadcast after activation.
	MessageCacheUpdated = "CACHE_UPDATED"
)

const clientBuffer = 8

// hub fans messages out to connected clients. Slow clients drop messages
// rather than block the service.
type hub struct {
	mu      sync.Mutex
	nextID  int
	clients map[int]chan Message
}

func newHub() *hub {
	return &hub{clients: make(map[int]chan Message)}
}

func (h *hub) connect() (<-chan Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan Message, clientBuffer)
	if h.clients == nil {
		close(ch)
		return ch, func() {}
	}
	h.clients[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.clients[id]; ok {
				delete(h.clients, id)
				close(c)
			}
		})
	}
}

// broadcast returns the number of clients the message reached.
func (h *hub) broadcast(m Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for _, ch := range h.clients {
		select {
		case ch <- m:
			sent++
		default:
		}
	}
	return sent
}

// closeAll disconnects every client and refuses new ones.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
	}
	h.clients = nil
}
