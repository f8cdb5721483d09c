package httpx

import (
	"time"

	"github.com/confabhq/confab/pkg/config"
	"github.com/confabhq/confab/pkg/logger"
)

type (
	Options struct {
		Https        bool
		HttpsCert    string
		HttpsKey     string
		HttpsDomain  string
		IdleTimeout  time.Duration
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		Logger       *logger.Logger
	}
	Option func(*Options)
)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

func (o *Options) IsAutoHttpsCert() bool { return !(o.HttpsCert != "" && o.HttpsKey != "") }

func WithLogger(log *logger.Logger) Option { return func(opts *Options) { opts.Logger = log } }

func WithServerConfig(conf config.Server) Option {
	return func(opts *Options) {
		opts.Https = conf.Https
		opts.HttpsCert = conf.Tls.HttpsCert
		opts.HttpsKey = conf.Tls.HttpsKey
		opts.HttpsDomain = conf.Tls.Domain
	}
}
