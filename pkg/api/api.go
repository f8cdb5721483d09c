// Package api defines the signaling wire protocol shared by the relay and its clients.
//
// Each message is a JSON-encoded packet of the following structure:
//
//	    type - (required) one of the predefined message kinds;
//	clientId - (required) an opaque id of the sending client tab;
//	  roomId - (optional) the room the message refers to;
//	 payload - (optional) kind-specific data.
//
// Messages are decoded exactly once at the transport boundary; the payload
// stays raw until it is unwrapped into the kind-specific struct, so the
// relay can forward the original bytes unmodified.
//
// Example:
//
//	{"type":"offer","clientId":"cfv68irdrc3ifu3jn6bg","roomId":"room1","payload":{"sdp":"v=0..."}}
package api

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// PT is the message kind tag.
type PT string

const (
	Join      PT = "join"
	Exit      PT = "exit"
	PeerExit  PT = "peerExit"
	Offer     PT = "offer"
	Answer    PT = "answer"
	Candidate PT = "candidate"
	Pli       PT = "pli"
)

func (t PT) Valid() bool {
	switch t {
	case Join, Exit, PeerExit, Offer, Answer, Candidate, Pli:
		return true
	}
	return false
}

// In is an inbound packet with a raw payload for 2-pass unmarshal.
type In struct {
	T        PT              `json:"type"`
	ClientId string          `json:"clientId"`
	RoomId   string          `json:"roomId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Out is an outbound packet with an arbitrary payload.
type Out struct {
	T        PT     `json:"type"`
	ClientId string `json:"clientId,omitempty"`
	RoomId   string `json:"roomId,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// Payload shapes, one per message kind.
type (
	// JoinRoom carries the display name of the joining user.
	JoinRoom struct {
		Name string `json:"name"`
	}
	// ExitRoom carries the display name of the leaving user.
	ExitRoom struct {
		PeerName string `json:"peerName"`
	}
	// PeerLeft notifies the remaining room members about the leaver (relay -> clients).
	PeerLeft struct {
		PeerId   string `json:"peerId,omitempty"`
		PeerName string `json:"peerName"`
	}
	// Sdp is an opaque session description blob (offer and answer).
	Sdp struct {
		Sdp string `json:"sdp"`
	}
	// Ice is a single trickled ICE candidate.
	Ice struct {
		Candidate     string `json:"candidate"`
		SdpMid        string `json:"sdpMid"`
		SdpMLineIndex uint16 `json:"sdpMLineIndex"`
	}
	// KeyFrameRequest (pli) has no fields, it is a signal only.
	KeyFrameRequest struct{}
)

var (
	ErrMalformed   = errors.New("malformed")
	ErrNoClientId  = errors.New("no client id")
	ErrUnknownType = errors.New("unknown message type")
)

// Decode parses a raw wire message into the tagged union.
// A message without a client id or with an unlisted type is rejected,
// so downstream handlers never see a half-valid packet. The only
// kind allowed without a client id is peerExit, which originates
// at the relay rather than at a client.
func Decode(data []byte) (In, error) {
	var in In
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !in.T.Valid() {
		return in, fmt.Errorf("%w: %q", ErrUnknownType, in.T)
	}
	if in.ClientId == "" && in.T != PeerExit {
		return in, ErrNoClientId
	}
	return in, nil
}

func Encode(out Out) ([]byte, error) { return json.Marshal(out) }

// Unwrap decodes the raw payload into the given shape, nil on fail.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
