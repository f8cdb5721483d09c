// Package session coordinates one room call on the client side: it owns
// the signaling transport, drives the negotiation with whoever else is
// in the room, and surfaces call lifecycle events to the application.
package session

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confabhq/confab/pkg/api"
	"github.com/confabhq/confab/pkg/com"
	"github.com/confabhq/confab/pkg/config"
	"github.com/confabhq/confab/pkg/logger"
	"github.com/confabhq/confab/pkg/network/websocket"
	"github.com/confabhq/confab/pkg/rtc"
	"github.com/pion/webrtc/v3"
)

type Status int

const (
	Inactive Status = iota
	Loading
	Active
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Active:
		return "active"
	}
	return "inactive"
}

var (
	ErrNoSignaling    = errors.New("the signaling transport is not open")
	ErrSignalingLost  = errors.New("the signaling transport was lost")
	ErrCallInProgress = errors.New("another call is in progress")
	ErrNoMedia        = errors.New("local media must carry at least one audio and one video track")
	ErrCallTimeout    = errors.New("the call took too long to connect")
)

// call is the state of one negotiation attempt. The exited flag makes
// teardown exactly-once no matter how many paths race into it: explicit
// hang-up, peer exit, transport failure or timeout.
type call struct {
	peer   *rtc.Peer
	tracks []webrtc.TrackLocal
	timer  *time.Timer

	exited   atomic.Bool
	offered  atomic.Bool
	gotTrack atomic.Bool
}

// Session binds a room and a local identity to at most one live call.
// The signaling transport outlives individual calls: it is opened once
// with InitSignalingConnection and survives connect/disconnect cycles.
type Session struct {
	conf    config.PeerConfig
	log     *logger.Logger
	id      com.Uid
	factory *rtc.ApiFactory

	mu     sync.Mutex
	sock   *websocket.WS
	call   *call
	status Status

	OnStatusChange        func(Status)
	OnRemoteTrack         func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	OnRemoteStreamStopped func()
	OnPeerExit            func(name string)
	OnKeyFrameRequest     func()
	OnError               func(error)
}

func New(conf config.PeerConfig, log *logger.Logger) (*Session, error) {
	factory, err := rtc.NewApiFactory(conf.Webrtc, log)
	if err != nil {
		return nil, err
	}
	id := com.NewUid()
	return &Session{
		conf:    conf,
		id:      id,
		factory: factory,
		log:     log.Extend(log.With().Str("cid", id.Short()).Str("room", conf.Peer.Room)),
	}, nil
}

func (s *Session) Id() string { return s.id.String() }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// InitSignalingConnection opens the websocket to the relay.
// Must be called once before Connect.
func (s *Session) InitSignalingConnection() error {
	scheme := "ws"
	if s.conf.Peer.Network.Secure {
		scheme = "wss"
	}
	address := url.URL{Scheme: scheme, Host: s.conf.Peer.Network.Address, Path: s.conf.Peer.Network.Endpoint}
	sock, err := websocket.NewClient(address, s.log)
	if err != nil {
		return fmt.Errorf("couldn't reach the relay at %v: %w", address.String(), err)
	}
	sock.OnMessage = s.handleMessage
	sock.Listen()
	s.mu.Lock()
	s.sock = sock
	s.mu.Unlock()
	// an unexpected transport loss must reach the app and drop the call;
	// Cleanup detaches the socket first, so a deliberate close stays quiet
	go func() {
		<-sock.Done
		s.mu.Lock()
		lost := s.sock == sock
		if lost {
			s.sock = nil
		}
		s.mu.Unlock()
		if !lost {
			return
		}
		_ = s.fail(ErrSignalingLost)
		_ = s.Disconnect()
	}()
	s.log.Info().Msgf("signaling open to %v", address.String())
	return nil
}

// Connect starts a new call in the configured room: announces the local
// identity with a join message and waits for the negotiation to begin.
// The offer is created by whichever side was in the room first, when the
// relay tells it about the newcomer.
func (s *Session) Connect(tracks ...webrtc.TrackLocal) error {
	if err := checkMedia(tracks); err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	if s.sock == nil {
		s.mu.Unlock()
		return s.fail(ErrNoSignaling)
	}
	if s.call != nil && !s.call.exited.Load() {
		s.mu.Unlock()
		return s.fail(ErrCallInProgress)
	}
	s.mu.Unlock()

	c := &call{tracks: tracks}
	peer, err := s.newWiredPeer(c)
	if err != nil {
		return s.fail(err)
	}
	c.peer = peer
	if err := peer.AddTracks(tracks...); err != nil {
		peer.Close()
		return s.fail(err)
	}
	timer := time.AfterFunc(s.conf.Peer.CallTimeout, func() {
		s.mu.Lock()
		stuck := s.call == c && s.status == Loading
		s.mu.Unlock()
		if !stuck {
			return
		}
		_ = s.fail(ErrCallTimeout)
		_ = s.Disconnect()
	})

	s.mu.Lock()
	if s.call != nil && !s.call.exited.Load() {
		s.mu.Unlock()
		timer.Stop()
		peer.Close()
		return s.fail(ErrCallInProgress)
	}
	c.timer = timer
	s.call = c
	s.mu.Unlock()
	s.send(api.Join, api.JoinRoom{Name: s.conf.Peer.Name})
	s.setStatus(Loading)
	s.log.Info().Msgf("joining as %v", s.conf.Peer.Name)
	return nil
}

// Disconnect hangs up the current call. Idempotent: the exit message,
// the peer teardown and the inactive status callback fire exactly once.
// The signaling transport stays open for the next call.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c == nil || !c.exited.CompareAndSwap(false, true) {
		return nil
	}
	s.stopTimer(c)
	s.send(api.Exit, api.ExitRoom{PeerName: s.conf.Peer.Name})
	c.peer.Close()
	s.mu.Lock()
	if s.call == c {
		s.call = nil
	}
	s.mu.Unlock()
	s.setStatus(Inactive)
	s.log.Info().Msg("left the room")
	return nil
}

// Cleanup is the terminal teardown: hangs up and closes the signaling
// transport. The session cannot Connect afterward.
func (s *Session) Cleanup() {
	_ = s.Disconnect()
	s.mu.Lock()
	sock := s.sock
	s.sock = nil
	s.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
}

func (s *Session) handleMessage(message []byte, _ error) {
	in, err := api.Decode(message)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping a signaling message")
		return
	}
	if in.ClientId == s.id.String() {
		return
	}
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c == nil || c.exited.Load() {
		if in.T != api.PeerExit {
			s.log.Debug().Msgf("no call for %v, ignored", in.T)
		}
		return
	}
	switch in.T {
	case api.Join:
		s.handleJoin(c, in)
	case api.Offer:
		s.handleOffer(c, in)
	case api.Answer:
		s.handleAnswer(c, in)
	case api.Candidate:
		s.handleCandidate(c, in)
	case api.PeerExit:
		s.handlePeerExit(c, in)
	case api.Pli:
		if f := s.OnKeyFrameRequest; f != nil {
			f()
		}
	default:
		s.log.Debug().Msgf("unexpected %v, ignored", in.T)
	}
}

// handleJoin reacts to a newcomer: this side was in the room first, so
// it opens the negotiation.
func (s *Session) handleJoin(c *call, in api.In) {
	sdp, err := s.peerOf(c).CreateOffer()
	if err != nil {
		_ = s.fail(fmt.Errorf("offer fail: %w", err))
		return
	}
	c.offered.Store(true)
	s.send(api.Offer, api.Sdp{Sdp: sdp})
	s.log.Debug().Msgf("offering to %v", in.ClientId)
}

func (s *Session) handleOffer(c *call, in api.In) {
	p := api.Unwrap[api.Sdp](in.Payload)
	if p == nil {
		s.log.Warn().Msg("broken offer payload")
		return
	}
	// An outstanding local offer means both sides tried to start; yield
	// by renegotiating from a clean peer and answering theirs.
	if c.offered.Load() && s.Status() == Loading {
		if err := s.renewPeer(c); err != nil {
			_ = s.fail(err)
			return
		}
	}
	answer, err := s.peerOf(c).HandleOffer(p.Sdp)
	if err != nil {
		_ = s.fail(fmt.Errorf("couldn't apply the offer: %w", err))
		return
	}
	s.send(api.Answer, api.Sdp{Sdp: answer})
}

func (s *Session) handleAnswer(c *call, in api.In) {
	p := api.Unwrap[api.Sdp](in.Payload)
	if p == nil {
		s.log.Warn().Msg("broken answer payload")
		return
	}
	if err := s.peerOf(c).HandleAnswer(p.Sdp); err != nil {
		_ = s.fail(fmt.Errorf("couldn't apply the answer: %w", err))
	}
}

func (s *Session) handleCandidate(c *call, in api.In) {
	p := api.Unwrap[api.Ice](in.Payload)
	if p == nil {
		s.log.Warn().Msg("broken candidate payload")
		return
	}
	mid, idx := p.SdpMid, p.SdpMLineIndex
	err := s.peerOf(c).AddCandidate(webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})
	if err != nil {
		_ = s.fail(fmt.Errorf("couldn't apply a candidate: %w", err))
	}
}

func (s *Session) handlePeerExit(c *call, in api.In) {
	name := ""
	if p := api.Unwrap[api.PeerLeft](in.Payload); p != nil {
		name = p.PeerName
	}
	s.log.Info().Msgf("%v left the room", name)
	if f := s.OnPeerExit; f != nil {
		f(name)
	}
	if f := s.OnRemoteStreamStopped; f != nil {
		f()
	}
	_ = s.Disconnect()
}

// newWiredPeer makes a peer connection with its events routed into the
// session callbacks and the signaling transport.
func (s *Session) newWiredPeer(c *call) (*rtc.Peer, error) {
	peer, err := s.factory.NewPeer()
	if err != nil {
		return nil, err
	}
	peer.OnIceCandidate = func(candidate webrtc.ICECandidateInit) {
		ice := api.Ice{Candidate: candidate.Candidate}
		if candidate.SDPMid != nil {
			ice.SdpMid = *candidate.SDPMid
		}
		if candidate.SDPMLineIndex != nil {
			ice.SdpMLineIndex = *candidate.SDPMLineIndex
		}
		s.send(api.Candidate, ice)
	}
	peer.OnConnected = func() {
		s.stopTimer(c)
		s.setStatus(Active)
		s.log.Info().Msg("call is up")
	}
	peer.OnDisconnected = func() {
		s.log.Warn().Msg("media transport lost")
		_ = s.Disconnect()
	}
	peer.OnTrack = func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		// ask for a keyframe right away so the first frame renders fast
		if c.gotTrack.CompareAndSwap(false, true) {
			s.send(api.Pli, api.KeyFrameRequest{})
		}
		if f := s.OnRemoteTrack; f != nil {
			f(track, receiver)
		}
	}
	peer.OnKeyFrameRequest = func() {
		if f := s.OnKeyFrameRequest; f != nil {
			f()
		}
	}
	return peer, nil
}

// renewPeer replaces the call's peer connection with a fresh one
// carrying the same local tracks.
func (s *Session) renewPeer(c *call) error {
	peer, err := s.newWiredPeer(c)
	if err != nil {
		return err
	}
	if err := peer.AddTracks(c.tracks...); err != nil {
		peer.Close()
		return err
	}
	s.mu.Lock()
	old := c.peer
	c.peer = peer
	s.mu.Unlock()
	c.offered.Store(false)
	old.Close()
	return nil
}

func (s *Session) stopTimer(c *call) {
	s.mu.Lock()
	timer := c.timer
	s.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (s *Session) peerOf(c *call) *rtc.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.peer
}

func (s *Session) send(t api.PT, payload any) {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return
	}
	out, err := api.Encode(api.Out{T: t, ClientId: s.id.String(), RoomId: s.conf.Peer.Room, Payload: payload})
	if err != nil {
		s.log.Error().Err(err).Msgf("%v encode fail", t)
		return
	}
	if err := sock.Write(out); err != nil {
		s.log.Warn().Err(err).Msgf("%v send fail", t)
	}
}

func (s *Session) setStatus(v Status) {
	s.mu.Lock()
	changed := s.status != v
	s.status = v
	s.mu.Unlock()
	if changed {
		if f := s.OnStatusChange; f != nil {
			f(v)
		}
	}
}

// fail reports the error through the callback and returns it, so the
// caller can both observe it in-band and surface it to the user.
func (s *Session) fail(err error) error {
	s.log.Error().Err(err).Msg("session error")
	if f := s.OnError; f != nil {
		f(err)
	}
	return err
}

func checkMedia(tracks []webrtc.TrackLocal) error {
	var audio, video bool
	for _, track := range tracks {
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			audio = true
		case webrtc.RTPCodecTypeVideo:
			video = true
		}
	}
	if !audio || !video {
		return ErrNoMedia
	}
	return nil
}
