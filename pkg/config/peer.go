package config

import (
	"time"

	flag "github.com/spf13/pflag"
)

type PeerConfig struct {
	Peer struct {
		Debug bool
		// Name is the display name announced to the room.
		Name string
		Room string
		// CallTimeout bounds how long a call may stay in the loading
		// state before it is forced back to inactive.
		CallTimeout time.Duration
		Network     struct {
			// Address is the host:port of the relay.
			Address  string
			Endpoint string
			Secure   bool
		}
	}
	Webrtc Webrtc
}

var peerConfigPath string

func NewPeerConfig() (conf PeerConfig) {
	conf.Peer.Name = "confab"
	conf.Peer.Room = "lobby"
	conf.Peer.CallTimeout = 30 * time.Second
	conf.Peer.Network.Address = "localhost:8000"
	conf.Peer.Network.Endpoint = "/ws"
	conf.Webrtc.IceServers = defaultIceServers()
	if err := LoadConfig(&conf, peerConfigPath); err != nil {
		panic(err)
	}
	return
}

func (c *PeerConfig) ParseFlags() {
	flag.StringVar(&c.Peer.Network.Address, "relay", c.Peer.Network.Address, "Relay address (host:port)")
	flag.StringVar(&c.Peer.Room, "room", c.Peer.Room, "Room to join")
	flag.StringVar(&c.Peer.Name, "name", c.Peer.Name, "Display name")
	flag.BoolVar(&c.Peer.Debug, "debug", c.Peer.Debug, "Enable debug logging")
	flag.StringVar(&peerConfigPath, "conf", peerConfigPath, "Set custom configuration file path")
	flag.Parse()
}
