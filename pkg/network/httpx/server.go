package httpx

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/confabhq/confab/pkg/logger"
	"golang.org/x/crypto/acme/autocert"
)

type Server struct {
	http.Server

	autoCert *autocert.Manager
	opts     Options
	listener net.Listener
	log      *logger.Logger
}

func NewServer(address string, handler func(*Server) http.Handler, options ...Option) (*Server, error) {
	opts := &Options{
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	opts.override(options...)
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	server := &Server{
		Server: http.Server{
			Addr:         address,
			IdleTimeout:  opts.IdleTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		opts: *opts,
		log:  opts.Logger,
	}
	server.Handler = handler(server)

	if opts.Https && opts.IsAutoHttpsCert() {
		server.autoCert = &autocert.Manager{
			Prompt: autocert.AcceptTOS,
			Cache:  autocert.DirCache("assets/cache"),
		}
		if opts.HttpsDomain != "" {
			server.autoCert.HostPolicy = autocert.HostWhitelist(opts.HttpsDomain)
		}
		server.TLSConfig = server.autoCert.TLSConfig()
	}

	addr := server.Addr
	if addr == "" {
		addr = ":http"
		if opts.Https {
			addr = ":https"
		}
		opts.Logger.Warn().Msgf("Empty server address has been changed to %v", addr)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server.listener = listener
	server.Addr = listener.Addr().String()

	return server, nil
}

func (s *Server) Run() { go s.run() }

func (s *Server) run() {
	protocol := s.GetProtocol()
	s.log.Info().Msgf("Starting %s server on %s", protocol, s.Addr)

	var err error
	if s.opts.Https {
		err = s.ServeTLS(s.listener, s.opts.HttpsCert, s.opts.HttpsKey)
	} else {
		err = s.Serve(s.listener)
	}
	if err != nil && err != http.ErrServerClosed {
		s.log.Error().Err(err).Msgf("%s server was closed", protocol)
	}
}

func (s *Server) Stop(ctx context.Context) error { return s.Shutdown(ctx) }

func (s *Server) GetProtocol() string {
	if s.opts.Https {
		return "https"
	}
	return "http"
}
