package relay

import (
	"sync"

	"github.com/confabhq/confab/pkg/logger"
	"github.com/confabhq/confab/pkg/network/websocket"
)

// Client is one websocket connection on the relay side.
type Client struct {
	sock *websocket.WS
	log  *logger.Logger

	mu   sync.Mutex
	id   string
	name string
}

func NewClient(sock *websocket.WS, log *logger.Logger) *Client {
	return &Client{sock: sock, log: log}
}

func (c *Client) Id() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Identify binds the client to the id and name announced in its join
// message. The id sticks for the lifetime of the connection.
func (c *Client) Identify(id string, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	if name != "" {
		c.name = name
	}
	c.log = c.log.Extend(c.log.With().Str("cid", shorten(id)))
}

func (c *Client) Send(data []byte) error { return c.sock.Write(data) }

func (c *Client) Close() { c.sock.Close() }

func shorten(id string) string {
	if len(id) > 6 {
		return id[len(id)-6:]
	}
	return id
}
