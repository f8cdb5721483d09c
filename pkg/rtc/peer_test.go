package rtc

import (
	"strings"
	"testing"

	"github.com/confabhq/confab/pkg/config"
	"github.com/confabhq/confab/pkg/logger"
	"github.com/pion/webrtc/v3"
)

func testFactory(t *testing.T) *ApiFactory {
	t.Helper()
	factory, err := NewApiFactory(config.Webrtc{LogLevel: int(logger.ErrorLevel)}, logger.Default())
	if err != nil {
		t.Fatalf("factory fail: %v", err)
	}
	return factory
}

func testTracks(t *testing.T) []webrtc.TrackLocal {
	t.Helper()
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "confab")
	if err != nil {
		t.Fatalf("video track fail: %v", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "confab")
	if err != nil {
		t.Fatalf("audio track fail: %v", err)
	}
	return []webrtc.TrackLocal{video, audio}
}

func TestOfferAnswer(t *testing.T) {
	factory := testFactory(t)
	caller, err := factory.NewPeer()
	if err != nil {
		t.Fatalf("caller fail: %v", err)
	}
	defer caller.Close()
	callee, err := factory.NewPeer()
	if err != nil {
		t.Fatalf("callee fail: %v", err)
	}
	defer callee.Close()

	if err := caller.AddTracks(testTracks(t)...); err != nil {
		t.Fatalf("tracks fail: %v", err)
	}
	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("offer fail: %v", err)
	}
	if !strings.Contains(offer, "v=0") {
		t.Fatalf("not an SDP: %q", offer)
	}
	answer, err := callee.HandleOffer(offer)
	if err != nil {
		t.Fatalf("answer fail: %v", err)
	}
	if err := caller.HandleAnswer(answer); err != nil {
		t.Fatalf("handle answer fail: %v", err)
	}
}

func TestCandidateBuffering(t *testing.T) {
	factory := testFactory(t)
	caller, err := factory.NewPeer()
	if err != nil {
		t.Fatalf("caller fail: %v", err)
	}
	defer caller.Close()
	callee, err := factory.NewPeer()
	if err != nil {
		t.Fatalf("callee fail: %v", err)
	}
	defer callee.Close()

	mid := "0"
	var idx uint16
	candidates := []webrtc.ICECandidateInit{
		{Candidate: "candidate:1 1 udp 2113937151 192.168.1.1 50000 typ host", SDPMid: &mid, SDPMLineIndex: &idx},
		{Candidate: "candidate:2 1 udp 2113937150 192.168.1.1 50001 typ host", SDPMid: &mid, SDPMLineIndex: &idx},
		{Candidate: "candidate:3 1 udp 2113937149 192.168.1.1 50002 typ host", SDPMid: &mid, SDPMLineIndex: &idx},
	}
	// candidates outrun the offer over signaling, they must be held back
	for _, c := range candidates {
		if err := callee.AddCandidate(c); err != nil {
			t.Fatalf("early candidate rejected: %v", err)
		}
	}
	callee.mu.Lock()
	buffered := len(callee.pending)
	first := callee.pending[0].Candidate
	callee.mu.Unlock()
	if buffered != len(candidates) || first != candidates[0].Candidate {
		t.Fatalf("expected %d buffered candidates in order, got %d (%q)", len(candidates), buffered, first)
	}

	if err := caller.AddTracks(testTracks(t)...); err != nil {
		t.Fatalf("tracks fail: %v", err)
	}
	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("offer fail: %v", err)
	}
	if _, err := callee.HandleOffer(offer); err != nil {
		t.Fatalf("handle offer fail: %v", err)
	}

	callee.mu.Lock()
	flushed := len(callee.pending) == 0 && callee.remoteSet
	callee.mu.Unlock()
	if !flushed {
		t.Fatal("candidates were not flushed after the remote description")
	}
	// late candidates go straight in now
	if err := callee.AddCandidate(candidates[0]); err != nil {
		t.Fatalf("late candidate fail: %v", err)
	}
}

func TestPeerCloseIdempotent(t *testing.T) {
	factory := testFactory(t)
	peer, err := factory.NewPeer()
	if err != nil {
		t.Fatalf("peer fail: %v", err)
	}
	peer.Close()
	if !peer.Closed() {
		t.Fatal("peer should be closed")
	}
	peer.Close() // no panic, no effect
	if !peer.Closed() {
		t.Fatal("peer should stay closed")
	}
}
