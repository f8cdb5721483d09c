package config

import (
	flag "github.com/spf13/pflag"
)

type RelayConfig struct {
	Relay struct {
		Debug      bool
		LockFile   string
		Monitoring Monitoring
		// Origin restricts websocket upgrades to the given origin, * allows any.
		Origin string
		Server Server
	}
	Webrtc Webrtc
}

// allows custom config path
var relayConfigPath string

func NewRelayConfig() (conf RelayConfig) {
	conf.Relay.Server.Address = ":8000"
	conf.Relay.Origin = "*"
	conf.Relay.Monitoring = Monitoring{Port: 6601, URLPrefix: "/relay"}
	conf.Webrtc.IceServers = defaultIceServers()
	if err := LoadConfig(&conf, relayConfigPath); err != nil {
		panic(err)
	}
	return
}

func (c *RelayConfig) ParseFlags() {
	flag.StringVar(&c.Relay.Server.Address, "address", c.Relay.Server.Address, "HTTP server address (host:port)")
	flag.StringVar(&c.Relay.Server.Tls.Address, "httpsAddress", c.Relay.Server.Tls.Address, "HTTPS server address (host:port)")
	flag.BoolVar(&c.Relay.Debug, "debug", c.Relay.Debug, "Enable debug logging")
	flag.IntVar(&c.Relay.Monitoring.Port, "monitoring.port", c.Relay.Monitoring.Port, "Monitoring server port")
	flag.StringVar(&relayConfigPath, "conf", relayConfigPath, "Set custom configuration file path")
	flag.Parse()
}
