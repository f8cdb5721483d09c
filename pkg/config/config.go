package config

type Server struct {
	Address string
	Https   bool
	Tls     struct {
		Address   string
		Domain    string
		HttpsKey  string
		HttpsCert string
	}
}

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

type Monitoring struct {
	Port             int
	URLPrefix        string
	MetricEnabled    bool `fig:"metricEnabled"`
	ProfilingEnabled bool `fig:"profilingEnabled"`
}

func (m *Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

// IceServer mirrors the RTCIceServer shape handed to browsers.
type IceServer struct {
	Urls       string `json:"urls"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

type Webrtc struct {
	DisableDefaultInterceptors bool
	// IceFile points to an optional JSON file with the ICE server list;
	// when set, the relay watches it for changes.
	IceFile    string
	IceServers []IceServer
	IcePorts   struct {
		Min uint16
		Max uint16
	}
	LogLevel int
}

func (w *Webrtc) HasPortRange() bool { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }

func defaultIceServers() []IceServer {
	return []IceServer{{Urls: "stun:stun.l.google.com:19302"}}
}
