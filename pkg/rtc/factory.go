package rtc

import (
	"github.com/confabhq/confab/pkg/config"
	"github.com/confabhq/confab/pkg/logger"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// ApiFactory builds peer connections sharing one pion API instance.
type ApiFactory struct {
	api  *webrtc.API
	conf webrtc.Configuration
	log  *logger.Logger
}

func NewApiFactory(conf config.Webrtc, log *logger.Logger) (*ApiFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if !conf.DisableDefaultInterceptors {
		if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			return nil, err
		}
	}
	settings := webrtc.SettingEngine{
		LoggerFactory: logger.NewPionLogger(log, conf.LogLevel),
	}
	if conf.HasPortRange() {
		if err := settings.SetEphemeralUDPPortRange(conf.IcePorts.Min, conf.IcePorts.Max); err != nil {
			return nil, err
		}
	}
	return &ApiFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(i),
			webrtc.WithSettingEngine(settings),
		),
		conf: webrtc.Configuration{ICEServers: iceServersOf(conf)},
		log:  log,
	}, nil
}

func (f *ApiFactory) NewPeer() (*Peer, error) {
	conn, err := f.api.NewPeerConnection(f.conf)
	if err != nil {
		return nil, err
	}
	return newPeer(conn, f.log), nil
}

func iceServersOf(conf config.Webrtc) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(conf.IceServers))
	for _, s := range conf.IceServers {
		ice := webrtc.ICEServer{URLs: []string{s.Urls}}
		if s.Username != "" {
			ice.Username = s.Username
		}
		if s.Credential != "" {
			ice.Credential = s.Credential
		}
		servers = append(servers, ice)
	}
	return servers
}
