package relay

import (
	"net/http"

	"github.com/confabhq/confab/pkg/api"
	"github.com/confabhq/confab/pkg/com"
	"github.com/confabhq/confab/pkg/logger"
	"github.com/confabhq/confab/pkg/network/websocket"
)

// Hub accepts websocket connections and forwards signaling messages
// between the peers of a room. The hub never parses payloads: message
// envelopes are decoded once, the original bytes travel on.
type Hub struct {
	registry *Registry
	metrics  *Metrics
	upgrader *websocket.Upgrader
	conns    com.Map[string, *websocket.WS]
	log      *logger.Logger
}

func NewHub(origin string, metrics *Metrics, log *logger.Logger) *Hub {
	return &Hub{
		registry: NewRegistry(),
		metrics:  metrics,
		upgrader: websocket.NewUpgrader(origin),
		conns:    com.NewMap[string, *websocket.WS](),
		log:      log,
	}
}

// Close drops every live connection, unblocking their handlers so the
// HTTP server can shut down gracefully.
func (h *Hub) Close() { h.conns.ForEach(func(ws *websocket.WS) { ws.Close() }) }

// RoomSize reports the number of members currently in the room.
func (h *Hub) RoomSize(room string) int { return len(h.registry.ClientsInRoom(room, "")) }

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("couldn't upgrade the connection")
		return
	}
	sock := websocket.NewServerWithConn(conn, h.log)
	client := NewClient(sock, h.log)
	sock.OnMessage = func(message []byte, _ error) { h.route(client, message) }
	sock.Listen()
	h.conns.Put(r.RemoteAddr, sock)
	h.log.Debug().Msgf("new connection from %v", r.RemoteAddr)
	<-sock.Done
	h.conns.RemoveByKey(r.RemoteAddr)
	h.drop(client)
}

// route dispatches one wire message from the client.
// Malformed messages are counted and dropped, the connection stays up.
func (h *Hub) route(c *Client, message []byte) {
	in, err := api.Decode(message)
	if err != nil {
		h.metrics.Dropped.Inc()
		h.log.Debug().Err(err).Msg("dropping a message")
		return
	}
	switch in.T {
	case api.Join:
		h.join(c, in, message)
	case api.Exit:
		h.exit(c, in)
	case api.Offer, api.Answer, api.Candidate, api.Pli:
		h.forward(c, in, message)
	default:
		// peerExit and anything relay-originated is not accepted from clients
		h.metrics.Dropped.Inc()
		h.log.Debug().Msgf("unexpected %v from a client", in.T)
	}
}

// join registers the client in the room and relays the join to the
// members already there, so one of them can start the negotiation.
func (h *Hub) join(c *Client, in api.In, message []byte) {
	name := ""
	if p := api.Unwrap[api.JoinRoom](in.Payload); p != nil {
		name = p.Name
	}
	if c.Id() == "" {
		c.Identify(in.ClientId, name)
		h.registry.Register(c)
		h.metrics.Clients.Inc()
	}
	if prev, moved := h.registry.AddToRoom(c.Id(), in.RoomId); moved {
		h.announceExit(c, prev)
	}
	h.metrics.Rooms.Set(float64(h.registry.Rooms()))
	for _, peer := range h.registry.ClientsInRoom(in.RoomId, c.Id()) {
		_ = peer.Send(message)
	}
	c.log.Info().Str("room", in.RoomId).Msgf("%v joined", c.Name())
}

func (h *Hub) exit(c *Client, in api.In) {
	room, ok := h.registry.RemoveFromRoom(in.ClientId)
	if !ok {
		return
	}
	h.metrics.Rooms.Set(float64(h.registry.Rooms()))
	h.announceExit(c, room)
	c.log.Info().Str("room", room).Msgf("%v left", c.Name())
}

// forward relays the original message bytes to every other member of
// the sender's room.
func (h *Hub) forward(c *Client, in api.In, message []byte) {
	room, ok := h.registry.Room(in.ClientId)
	if !ok {
		h.metrics.Dropped.Inc()
		return
	}
	others := h.registry.ClientsInRoom(room, in.ClientId)
	if len(others) == 0 {
		h.metrics.Dropped.Inc()
		return
	}
	for _, peer := range others {
		if err := peer.Send(message); err != nil {
			h.log.Debug().Err(err).Msgf("couldn't relay %v to %v", in.T, peer.Id())
		}
	}
	h.metrics.Relayed.WithLabelValues(string(in.T)).Inc()
}

// announceExit tells the remaining members of the room that the client
// is gone, so they can tear down their side of the call.
func (h *Hub) announceExit(c *Client, room string) {
	out, err := api.Encode(api.Out{
		T:       api.PeerExit,
		RoomId:  room,
		Payload: api.PeerLeft{PeerId: c.Id(), PeerName: c.Name()},
	})
	if err != nil {
		h.log.Error().Err(err).Msg("peerExit encode fail")
		return
	}
	for _, peer := range h.registry.ClientsInRoom(room, c.Id()) {
		_ = peer.Send(out)
	}
	h.metrics.Relayed.WithLabelValues(string(api.PeerExit)).Inc()
}

// drop cleans up after a closed connection, announcing the exit to the
// room if the client did not say goodbye itself.
func (h *Hub) drop(c *Client) {
	id := c.Id()
	if id == "" {
		return
	}
	room, wasInRoom := h.registry.Unregister(id)
	h.metrics.Clients.Dec()
	h.metrics.Rooms.Set(float64(h.registry.Rooms()))
	if wasInRoom {
		h.announceExit(c, room)
	}
	c.log.Info().Msgf("%v disconnected", c.Name())
}
