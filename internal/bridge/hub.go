package bridge

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/uxlensHQ/uxlens/internal/tracker"
)

// Hub owns the live sessions. The shim connects with its script-tag
// data-attributes forwarded verbatim as query parameters, so per-page
// configuration never needs a second round trip.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	upgrader websocket.Upgrader
	defaults tracker.Options
}

// NewHub builds a hub whose sessions inherit defaults for anything the
// connecting page does not override.
func NewHub(defaults tracker.Options, allowedOrigins []string) *Hub {
	allow := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allow[origin] = true
	}
	return &Hub{
		sessions: make(map[string]*Session),
		defaults: defaults,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allow) == 0 {
					return true
				}
				return allow[r.Header.Get("Origin")]
			},
		},
	}
}

// Handler upgrades one shim connection and runs its session until the page
// goes away.
func (h *Hub) Handler(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[BRIDGE] upgrade failed: %v", err)
		return
	}

	attrs := make(map[string]string, len(c.Request.URL.Query()))
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			attrs[key] = values[0]
		}
	}
	opts := tracker.OptionsFromScriptAttrs(attrs)
	if opts.ProjectID == "" {
		opts.ProjectID = h.defaults.ProjectID
	}
	if opts.APIURL == "" {
		opts.APIURL = h.defaults.APIURL
	}
	if h.defaults.Debug {
		opts.Debug = true
	}

	session := newSession(conn, opts, h.remove)
	h.mu.Lock()
	h.sessions[session.ID()] = session
	h.mu.Unlock()

	log.Printf("[BRIDGE] session %s connected (project %s)", session.ID(), opts.ProjectID)
	// The upgraded socket outlives the handler, so the request context (which
	// dies on return) cannot own the session.
	session.Start(context.Background())
}

// Count reports live sessions (health endpoint).
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown closes every live session, flushing their pending feedback.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	open := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.RUnlock()

	for _, s := range open {
		s.Close()
	}
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	h.mu.Unlock()
	log.Printf("[BRIDGE] session %s disconnected", s.ID())
}
