package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/gallery/oplog"
	"github.com/go-pluto/gallery/view"
	"github.com/gorilla/websocket"
)

// Structs

// Hub pushes coordinator notifications to every
// connected websocket subscriber. Subscribers that
// cannot keep up are disconnected.
type Hub struct {
	lock     *sync.Mutex
	logger   log.Logger
	upgrader websocket.Upgrader
	clients  map[*subscriber]struct{}
	closed   bool
}

type subscriber struct {
	conn *websocket.Conn
	send chan Event
}

// Constants

const (
	sendQueue    = 32
	writeTimeout = 5 * time.Second
)

// Functions

// NewHub returns a hub without subscribers.
func NewHub(logger log.Logger) *Hub {

	return &Hub{
		lock:   &sync.Mutex{},
		logger: log.With(logger, "component", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket
// and subscribes it until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		level.Debug(h.logger).Log("msg", "failed to upgrade", "err", err)
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan Event, sendQueue),
	}

	h.lock.Lock()
	if h.closed {
		h.lock.Unlock()
		conn.Close()
		return
	}
	h.clients[sub] = struct{}{}
	h.lock.Unlock()

	go h.write(sub)

	// Subscribers do not send anything. Reading
	// only notices when they go away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(sub)
}

func (h *Hub) write(sub *subscriber) {

	defer sub.conn.Close()

	for ev := range sub.send {

		sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

		if err := sub.conn.WriteJSON(ev); err != nil {
			level.Debug(h.logger).Log("msg", "dropping subscriber", "err", err)
			h.remove(sub)
			return
		}
	}

	sub.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

func (h *Hub) remove(sub *subscriber) {

	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.clients[sub]; ok {
		delete(h.clients, sub)
		close(sub.send)
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {

	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {

	h.lock.Lock()
	defer h.lock.Unlock()

	for sub := range h.clients {

		select {
		case sub.send <- ev:
		default:
			level.Warn(h.logger).Log("msg", "subscriber too slow, disconnecting")
			delete(h.clients, sub)
			close(sub.send)
		}
	}
}

// Close disconnects all subscribers.
func (h *Hub) Close() {

	h.lock.Lock()
	defer h.lock.Unlock()

	h.closed = true

	for sub := range h.clients {
		delete(h.clients, sub)
		close(sub.send)
	}
}

func (h *Hub) OnViewChanged(entries []view.Entry) {
	h.broadcast(Event{Type: EventView, Files: toFiles(entries)})
}

func (h *Hub) OnUploadResult(filename string, err error) {

	ev := Event{Type: EventUpload, Filename: filename}
	if err != nil {
		ev.Error = err.Error()
	}

	h.broadcast(ev)
}

func (h *Hub) OnInviteReady(token string) {
	h.broadcast(Event{Type: EventInvite, Token: token})
}

func (h *Hub) OnInviteError(err error) {
	h.broadcast(Event{Type: EventInviteError, Error: err.Error()})
}

func (h *Hub) OnWriterJoined(writer oplog.WriterID) {
	h.broadcast(Event{Type: EventWriterJoined, Writer: string(writer)})
}

func (h *Hub) OnJoinTimeout() {
	h.broadcast(Event{Type: EventJoinTimeout})
}
