package rtc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/confabhq/confab/pkg/logger"
	"github.com/gofrs/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

// Peer wraps a single pion peer connection for one call.
//
// Remote ICE candidates may arrive over signaling before the remote
// description does; those are buffered and replayed in arrival order
// once the description is set.
type Peer struct {
	id   uuid.UUID
	conn *webrtc.PeerConnection
	log  *logger.Logger

	OnIceCandidate    func(webrtc.ICECandidateInit)
	OnConnected       func()
	OnDisconnected    func()
	OnTrack           func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	OnKeyFrameRequest func()

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	exited atomic.Bool
	bye    sync.Once
}

func newPeer(conn *webrtc.PeerConnection, log *logger.Logger) *Peer {
	id := uuid.Must(uuid.NewV4())
	p := &Peer{
		id:   id,
		conn: conn,
		log:  log.Extend(log.With().Str("cid", id.String()[:8])),
	}
	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if f := p.OnIceCandidate; f != nil {
			f(c.ToJSON())
		}
	})
	conn.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.log.Debug().Msgf("new remote track %v (%v)", track.ID(), track.Kind())
		if f := p.OnTrack; f != nil {
			f(track, receiver)
		}
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug().Msgf("connection state -> %v", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if f := p.OnConnected; f != nil {
				f()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			// deliberate closes don't count as connection loss
			if p.exited.Load() {
				return
			}
			p.bye.Do(func() {
				if f := p.OnDisconnected; f != nil {
					f()
				}
			})
		}
	})
	return p
}

func (p *Peer) Id() string { return p.id.String() }

// AddTracks attaches the outgoing media tracks and starts an RTCP
// reader per sender, surfacing picture loss indications as keyframe
// requests.
func (p *Peer) AddTracks(tracks ...webrtc.TrackLocal) error {
	for _, track := range tracks {
		sender, err := p.conn.AddTrack(track)
		if err != nil {
			return fmt.Errorf("couldn't add track %v: %w", track.ID(), err)
		}
		go p.readRTCP(sender)
	}
	return nil
}

func (p *Peer) readRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			if _, ok := packet.(*rtcp.PictureLossIndication); ok {
				if f := p.OnKeyFrameRequest; f != nil {
					f()
				}
			}
		}
	}
}

// CreateOffer makes and sets the local offer. ICE candidates trickle
// through OnIceCandidate as they are gathered.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.conn.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err = p.conn.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

// HandleOffer applies the remote offer and returns the local answer.
func (p *Peer) HandleOffer(sdp string) (string, error) {
	if err := p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", err
	}
	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err = p.conn.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (p *Peer) HandleAnswer(sdp string) error {
	return p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (p *Peer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		return err
	}
	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, candidate := range pending {
		if err := p.conn.AddICECandidate(candidate); err != nil {
			p.log.Warn().Err(err).Msg("buffered candidate fail")
		}
	}
	return nil
}

// AddCandidate applies a remote ICE candidate, buffering it if the
// remote description is not in place yet.
func (p *Peer) AddCandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.conn.AddICECandidate(candidate)
}

func (p *Peer) Closed() bool { return p.exited.Load() }

func (p *Peer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteSet
}

// Close tears the connection down exactly once; repeated calls are no-ops.
func (p *Peer) Close() {
	if !p.exited.CompareAndSwap(false, true) {
		return
	}
	if err := p.conn.Close(); err != nil {
		p.log.Warn().Err(err).Msg("close fail")
	}
	p.log.Debug().Msg("closed")
}
