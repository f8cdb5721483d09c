package websocket

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/confabhq/confab/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 10 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
)

var ErrClosed = errors.New("connection closed")

type WSMessageHandler func(message []byte, err error)

// WS wraps a single websocket connection with read/write pumps.
// All reads are serialized into the OnMessage callback, all writes
// go through the send channel, so the underlying connection is never
// touched from two goroutines at once.
type WS struct {
	conn *websocket.Conn
	send chan []byte
	log  *logger.Logger

	OnMessage WSMessageHandler

	server bool

	once sync.Once
	done chan struct{}
	// Done is closed after both pumps have stopped.
	Done chan struct{}
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Blocking, must be called as goroutine. Serializes all websocket reads.
func (ws *WS) reader(wg *sync.WaitGroup) {
	defer func() {
		ws.shutdown()
		wg.Done()
	}()
	ws.conn.SetReadLimit(maxMessageSize)
	if ws.server {
		_ = ws.conn.SetReadDeadline(time.Now().Add(pongTime))
		ws.conn.SetPongHandler(func(string) error {
			return ws.conn.SetReadDeadline(time.Now().Add(pongTime))
		})
	}
	for {
		_, message, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Debug().Err(err).Msg("ws read")
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, nil)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, must be called as goroutine. Serializes all websocket writes.
func (ws *WS) writer(wg *sync.WaitGroup) {
	var ping <-chan time.Time
	if ws.server {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer func() {
		ws.shutdown()
		wg.Done()
	}()
	for {
		select {
		case message := <-ws.send:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ping:
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ws.done:
			return
		}
	}
}

func NewServerWithConn(conn *websocket.Conn, log *logger.Logger) *WS {
	return newSocket(conn, true, log)
}

func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, server bool, log *logger.Logger) *WS {
	return &WS{
		conn:   conn,
		send:   make(chan []byte, 32),
		server: server,
		log:    log,
		done:   make(chan struct{}),
		Done:   make(chan struct{}),
	}
}

// Listen starts the read/write pumps. Set OnMessage before calling it,
// otherwise early messages are lost.
func (ws *WS) Listen() {
	wg := &sync.WaitGroup{}
	wg.Add(2)
	go ws.writer(wg)
	go ws.reader(wg)
	go func() {
		wg.Wait()
		close(ws.Done)
	}()
}

func (ws *WS) IsServer() bool { return ws.server }

// Write queues a message for sending, ErrClosed after the connection is gone.
func (ws *WS) Write(data []byte) error {
	select {
	case ws.send <- data:
		return nil
	case <-ws.done:
		return ErrClosed
	}
}

// Close is safe to call multiple times and from any goroutine.
func (ws *WS) Close() {
	ws.once.Do(func() {
		_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		close(ws.done)
		_ = ws.conn.Close()
	})
}

func (ws *WS) shutdown() { ws.Close() }

// Upgrader wraps the gorilla upgrader with an origin check.
type Upgrader struct {
	websocket.Upgrader
}

var DefaultUpgrader = Upgrader{
	Upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
		CheckOrigin:     func(*http.Request) bool { return true },
	},
}

// NewUpgrader restricts upgrades to the given origin, * allows any.
func NewUpgrader(origin string) *Upgrader {
	u := DefaultUpgrader
	if origin != "" && origin != "*" {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}
