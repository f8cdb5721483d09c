package relay

import "sync"

// Registry tracks connected clients and their room membership.
// A client belongs to at most one room at a time; joining a new room
// implicitly leaves the previous one.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
	rooms   map[string]map[string]struct{}
	// member maps a client id to the room it is currently in.
	member map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]struct{}),
		member:  make(map[string]string),
	}
}

// Register adds the client under its id, replacing a stale entry with
// the same id if one is still around.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Id()] = c
}

// Unregister drops the client and its room membership.
// Returns the room the client was in, if any.
func (r *Registry) Unregister(id string) (room string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
	return r.leaveLocked(id)
}

// AddToRoom moves the client into the room. Returns the room the
// client left, if it was in a different one before.
func (r *Registry) AddToRoom(id string, room string) (prev string, moved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, in := r.member[id]; in {
		if cur == room {
			return "", false
		}
		prev, moved = r.leaveLocked(id)
	}
	members, has := r.rooms[room]
	if !has {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[id] = struct{}{}
	r.member[id] = room
	return
}

// RemoveFromRoom takes the client out of its current room.
func (r *Registry) RemoveFromRoom(id string) (room string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(id)
}

func (r *Registry) leaveLocked(id string) (room string, ok bool) {
	room, ok = r.member[id]
	if !ok {
		return
	}
	delete(r.member, id)
	if members, has := r.rooms[room]; has {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	return
}

// Room returns the room the client is currently in.
func (r *Registry) Room(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.member[id]
	return room, ok
}

// Client finds a registered client by id.
func (r *Registry) Client(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

// ClientsInRoom lists the members of the room excluding the given id.
func (r *Registry) ClientsInRoom(room string, except string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, has := r.rooms[room]
	if !has {
		return nil
	}
	out := make([]*Client, 0, len(members))
	for id := range members {
		if id == except {
			continue
		}
		if c, ok := r.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
