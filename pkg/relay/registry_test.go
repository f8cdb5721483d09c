package relay

import "testing"

func TestRegistryRooms(t *testing.T) {
	r := NewRegistry()
	a := &Client{id: "a1"}
	b := &Client{id: "b1"}
	r.Register(a)
	r.Register(b)

	r.AddToRoom("a1", "room1")
	r.AddToRoom("b1", "room1")
	if got := len(r.ClientsInRoom("room1", "a1")); got != 1 {
		t.Fatalf("expected 1 other member, got %v", got)
	}
	if room, ok := r.Room("a1"); !ok || room != "room1" {
		t.Fatalf("wrong room: %v %v", room, ok)
	}
}

func TestRegistrySingleRoom(t *testing.T) {
	r := NewRegistry()
	r.Register(&Client{id: "a1"})
	r.AddToRoom("a1", "room1")
	prev, moved := r.AddToRoom("a1", "room2")
	if !moved || prev != "room1" {
		t.Fatalf("expected a move out of room1, got %v %v", prev, moved)
	}
	if got := len(r.ClientsInRoom("room1", "")); got != 0 {
		t.Fatalf("room1 should be empty, got %v members", got)
	}
	if room, _ := r.Room("a1"); room != "room2" {
		t.Fatalf("expected room2, got %v", room)
	}
	if _, moved := r.AddToRoom("a1", "room2"); moved {
		t.Fatal("re-joining the same room is not a move")
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(&Client{id: "a1"})
	r.AddToRoom("a1", "room1")

	room, ok := r.Unregister("a1")
	if !ok || room != "room1" {
		t.Fatalf("expected room1 membership on unregister, got %v %v", room, ok)
	}
	if r.Len() != 0 || r.Rooms() != 0 {
		t.Fatalf("registry should be empty, got %v clients %v rooms", r.Len(), r.Rooms())
	}
	if _, ok := r.RemoveFromRoom("a1"); ok {
		t.Fatal("removing twice should be a no-op")
	}
}
