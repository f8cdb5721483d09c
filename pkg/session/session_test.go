package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/confabhq/confab/pkg/api"
	"github.com/confabhq/confab/pkg/config"
	"github.com/confabhq/confab/pkg/logger"
	"github.com/confabhq/confab/pkg/relay"
	"github.com/gorilla/websocket"
	pion "github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
)

func testConf(t *testing.T, server *httptest.Server, name, room string) config.PeerConfig {
	t.Helper()
	conf := config.PeerConfig{}
	conf.Peer.Name = name
	conf.Peer.Room = room
	conf.Peer.CallTimeout = 20 * time.Second
	conf.Peer.Network.Address = strings.TrimPrefix(server.URL, "http://")
	conf.Peer.Network.Endpoint = "/"
	return conf
}

func testSession(t *testing.T, server *httptest.Server, name, room string) *Session {
	t.Helper()
	s, err := New(testConf(t, server, name, room), logger.Default())
	if err != nil {
		t.Fatalf("session fail: %v", err)
	}
	t.Cleanup(s.Cleanup)
	return s
}

func testTracks(t *testing.T) []pion.TrackLocal {
	t.Helper()
	video, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8}, "video", "confab")
	if err != nil {
		t.Fatalf("video track fail: %v", err)
	}
	audio, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus}, "audio", "confab")
	if err != nil {
		t.Fatalf("audio track fail: %v", err)
	}
	return []pion.TrackLocal{video, audio}
}

func newTestRelay(t *testing.T) (*relay.Hub, *httptest.Server) {
	t.Helper()
	hub := relay.NewHub("*", relay.NewMetrics(prometheus.NewRegistry()), logger.Default())
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return hub, server
}

func waitCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %v", what)
}

// The member already in the room offers to the newcomer, the newcomer
// answers, both end up with the remote description applied.
func TestNegotiation(t *testing.T) {
	hub, server := newTestRelay(t)
	alice := testSession(t, server, "Alice", "standup")
	bob := testSession(t, server, "Bob", "standup")

	if err := alice.InitSignalingConnection(); err != nil {
		t.Fatalf("alice init fail: %v", err)
	}
	if err := bob.InitSignalingConnection(); err != nil {
		t.Fatalf("bob init fail: %v", err)
	}
	if err := alice.Connect(testTracks(t)...); err != nil {
		t.Fatalf("alice connect fail: %v", err)
	}
	waitCond(t, "alice in the room", func() bool { return hub.RoomSize("standup") == 1 })
	if err := bob.Connect(testTracks(t)...); err != nil {
		t.Fatalf("bob connect fail: %v", err)
	}

	waitCond(t, "alice's offer", func() bool {
		alice.mu.Lock()
		defer alice.mu.Unlock()
		return alice.call != nil && alice.call.offered.Load()
	})
	waitCond(t, "bob's remote description", func() bool {
		bob.mu.Lock()
		defer bob.mu.Unlock()
		return bob.call != nil && bob.call.peer.HasRemoteDescription()
	})
	waitCond(t, "alice's remote description", func() bool {
		alice.mu.Lock()
		defer alice.mu.Unlock()
		return alice.call != nil && alice.call.peer.HasRemoteDescription()
	})
}

// A hang-up on one side must reach the other as a peerExit and drive
// its call back to inactive.
func TestPeerExit(t *testing.T) {
	hub, server := newTestRelay(t)
	alice := testSession(t, server, "Alice", "retro")
	bob := testSession(t, server, "Bob", "retro")

	var mu sync.Mutex
	var left string
	var streamStopped bool
	alice.OnPeerExit = func(name string) {
		mu.Lock()
		left = name
		mu.Unlock()
	}
	alice.OnRemoteStreamStopped = func() {
		mu.Lock()
		streamStopped = true
		mu.Unlock()
	}

	if err := alice.InitSignalingConnection(); err != nil {
		t.Fatalf("alice init fail: %v", err)
	}
	if err := bob.InitSignalingConnection(); err != nil {
		t.Fatalf("bob init fail: %v", err)
	}
	if err := alice.Connect(testTracks(t)...); err != nil {
		t.Fatalf("alice connect fail: %v", err)
	}
	waitCond(t, "alice in the room", func() bool { return hub.RoomSize("retro") == 1 })
	if err := bob.Connect(testTracks(t)...); err != nil {
		t.Fatalf("bob connect fail: %v", err)
	}
	waitCond(t, "both in the room", func() bool { return hub.RoomSize("retro") == 2 })

	if err := bob.Disconnect(); err != nil {
		t.Fatalf("bob disconnect fail: %v", err)
	}
	waitCond(t, "alice notified", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return left == "Bob" && streamStopped
	})
	waitCond(t, "alice back to inactive", func() bool { return alice.Status() == Inactive })
}

// recordingServer is a bare websocket endpoint that keeps every text
// frame it receives.
type recordingServer struct {
	mu       sync.Mutex
	messages []api.In
}

func (r *recordingServer) handler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			in, err := api.Decode(data)
			if err != nil {
				t.Errorf("client sent garbage: %v", err)
				continue
			}
			r.mu.Lock()
			r.messages = append(r.messages, in)
			r.mu.Unlock()
		}
	}
}

func (r *recordingServer) count(kind api.PT) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.T == kind {
			n++
		}
	}
	return n
}

func TestDisconnectIdempotent(t *testing.T) {
	rec := &recordingServer{}
	server := httptest.NewServer(rec.handler(t))
	t.Cleanup(server.Close)
	s := testSession(t, server, "Alice", "solo")

	var mu sync.Mutex
	var statuses []Status
	s.OnStatusChange = func(v Status) {
		mu.Lock()
		statuses = append(statuses, v)
		mu.Unlock()
	}

	if err := s.InitSignalingConnection(); err != nil {
		t.Fatalf("init fail: %v", err)
	}
	if err := s.Connect(testTracks(t)...); err != nil {
		t.Fatalf("connect fail: %v", err)
	}
	waitCond(t, "the join to arrive", func() bool { return rec.count(api.Join) == 1 })

	for i := 0; i < 3; i++ {
		if err := s.Disconnect(); err != nil {
			t.Fatalf("disconnect %d fail: %v", i, err)
		}
	}
	waitCond(t, "the exit to arrive", func() bool { return rec.count(api.Exit) >= 1 })
	time.Sleep(100 * time.Millisecond) // would catch duplicated exits
	if got := rec.count(api.Exit); got != 1 {
		t.Fatalf("expected exactly one exit message, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []Status{Loading, Inactive}
	if len(statuses) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, statuses)
		}
	}
}

// Losing the signaling transport mid-call must surface through the
// error callback and drive the call to inactive; a deliberate Cleanup
// must not.
func TestSignalingLoss(t *testing.T) {
	rec := &recordingServer{}
	server := httptest.NewServer(rec.handler(t))
	t.Cleanup(server.Close)
	s := testSession(t, server, "Alice", "standup")

	var mu sync.Mutex
	var reported error
	s.OnError = func(err error) {
		mu.Lock()
		reported = err
		mu.Unlock()
	}

	if err := s.InitSignalingConnection(); err != nil {
		t.Fatalf("init fail: %v", err)
	}
	if err := s.Connect(testTracks(t)...); err != nil {
		t.Fatalf("connect fail: %v", err)
	}
	waitCond(t, "the join to arrive", func() bool { return rec.count(api.Join) == 1 })

	server.CloseClientConnections()

	waitCond(t, "the loss to surface", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errors.Is(reported, ErrSignalingLost)
	})
	waitCond(t, "the call to drop", func() bool { return s.Status() == Inactive })
	if err := s.Connect(testTracks(t)...); !errors.Is(err, ErrNoSignaling) {
		t.Fatalf("a dead transport must reject new calls, got %v", err)
	}
}

func TestCleanupStaysQuiet(t *testing.T) {
	rec := &recordingServer{}
	server := httptest.NewServer(rec.handler(t))
	t.Cleanup(server.Close)
	s := testSession(t, server, "Alice", "standup")

	var mu sync.Mutex
	var reported error
	s.OnError = func(err error) {
		mu.Lock()
		reported = err
		mu.Unlock()
	}

	if err := s.InitSignalingConnection(); err != nil {
		t.Fatalf("init fail: %v", err)
	}
	s.Cleanup()
	time.Sleep(200 * time.Millisecond) // would catch a spurious loss report
	mu.Lock()
	defer mu.Unlock()
	if reported != nil {
		t.Fatalf("a deliberate close must not report errors, got %v", reported)
	}
}

func TestConnectPreconditions(t *testing.T) {
	rec := &recordingServer{}
	server := httptest.NewServer(rec.handler(t))
	t.Cleanup(server.Close)

	t.Run("no transport", func(t *testing.T) {
		s := testSession(t, server, "Alice", "x")
		if err := s.Connect(testTracks(t)...); !errors.Is(err, ErrNoSignaling) {
			t.Fatalf("expected ErrNoSignaling, got %v", err)
		}
	})

	t.Run("no media", func(t *testing.T) {
		s := testSession(t, server, "Alice", "x")
		if err := s.InitSignalingConnection(); err != nil {
			t.Fatalf("init fail: %v", err)
		}
		video, _ := pion.NewTrackLocalStaticSample(
			pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8}, "video", "confab")
		if err := s.Connect(video); !errors.Is(err, ErrNoMedia) {
			t.Fatalf("expected ErrNoMedia, got %v", err)
		}
	})

	t.Run("mid-call", func(t *testing.T) {
		s := testSession(t, server, "Alice", "x")
		var reported error
		s.OnError = func(err error) { reported = err }
		if err := s.InitSignalingConnection(); err != nil {
			t.Fatalf("init fail: %v", err)
		}
		if err := s.Connect(testTracks(t)...); err != nil {
			t.Fatalf("first connect fail: %v", err)
		}
		if err := s.Connect(testTracks(t)...); !errors.Is(err, ErrCallInProgress) {
			t.Fatalf("expected ErrCallInProgress, got %v", err)
		}
		if !errors.Is(reported, ErrCallInProgress) {
			t.Fatalf("the error callback must fire, got %v", reported)
		}
	})
}
