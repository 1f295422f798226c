// Package bridge carries telemetry between the page shim and its tracker
// over a WebSocket. Each connection gets a session loop goroutine that
// executes posted closures one at a time, so tracker state never needs
// locking.
package bridge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uxlensHQ/uxlens/internal/telemetry"
	"github.com/uxlensHQ/uxlens/internal/tracker"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	loopBacklog = 256
	sendBacklog = 64
)

// Session is one connected page. Frames read off the socket are posted onto
// the loop; commands for the shim go through the buffered send channel and
// the write pump.
type Session struct {
	tracker *tracker.Tracker

	conn *websocket.Conn
	send chan []byte
	loop chan func()
	done chan struct{}

	closeOnce sync.Once
	onClose   func(*Session)
	debug     bool
}

func newSession(conn *websocket.Conn, opts tracker.Options, onClose func(*Session)) *Session {
	s := &Session{
		conn:    conn,
		send:    make(chan []byte, sendBacklog),
		loop:    make(chan func(), loopBacklog),
		done:    make(chan struct{}),
		onClose: onClose,
		debug:   opts.Debug,
	}
	s.tracker = tracker.New(opts, tracker.Deps{
		Send:      s.sendCommand,
		Scheduler: s,
	})
	return s
}

// ID identifies the session in logs and delivered batches.
func (s *Session) ID() string { return s.tracker.SessionID() }

// Start launches the loop and both pumps, then initializes the tracker on
// the loop itself.
func (s *Session) Start(ctx context.Context) {
	go s.runLoop()
	go s.readPump()
	go s.writePump()

	s.Post(func() {
		if err := s.tracker.Start(ctx); err != nil {
			log.Printf("[BRIDGE] session %s: %v", s.ID(), err)
		}
	})
}

// Post queues fn onto the session loop. Posts after shutdown are dropped.
func (s *Session) Post(fn func()) {
	select {
	case s.loop <- fn:
	case <-s.done:
	}
}

// PostDelayed schedules fn onto the loop after d. The returned cancel is
// best-effort: a closure already posted still runs.
func (s *Session) PostDelayed(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, func() { s.Post(fn) })
	return func() { timer.Stop() }
}

// Close tears the session down exactly once: tracker stop runs on the loop
// so in-flight posts finish first, then the loop drains and the socket dies.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Post(func() { s.tracker.Stop() })
		close(s.done)
		s.conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// runLoop executes posted closures serially until done, then drains the
// backlog so the tracker's Stop always executes.
func (s *Session) runLoop() {
	for {
		select {
		case fn := <-s.loop:
			fn()
		case <-s.done:
			for {
				select {
				case fn := <-s.loop:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (s *Session) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[BRIDGE] session %s read: %v", s.ID(), err)
			}
			return
		}

		ev, err := telemetry.ParseEvent(message)
		if err != nil {
			s.tracef("dropping malformed frame: %v", err)
			continue
		}
		s.Post(func() { s.tracker.HandleEvent(ev) })
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// sendCommand serializes one shim command onto the write pump. A full send
// buffer means the page stopped reading; the session is cut rather than
// blocking the loop.
func (s *Session) sendCommand(cmd telemetry.Command) {
	data, err := cmd.Encode()
	if err != nil {
		log.Printf("[BRIDGE] session %s encode: %v", s.ID(), err)
		return
	}
	select {
	case s.send <- data:
	case <-s.done:
	default:
		s.tracef("send buffer full, closing")
		go s.Close()
	}
}

func (s *Session) tracef(format string, args ...interface{}) {
	if s.debug {
		log.Printf("[BRIDGE] session "+s.ID()+": "+format, args...)
	}
}
