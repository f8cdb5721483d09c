package main

import (
	"context"
	goflag "flag"
	"time"

	"github.com/confabhq/confab/pkg/config"
	"github.com/confabhq/confab/pkg/logger"
	"github.com/confabhq/confab/pkg/os"
	"github.com/confabhq/confab/pkg/relay"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func run() {
	conf := config.NewRelayConfig()
	conf.ParseFlags()

	log := logger.NewConsole(conf.Relay.Debug, "r", false)
	log.Info().Msgf("version: %v", Version)
	log.Debug().Msgf("config: %+v", conf)

	lock, err := os.NewFileLock(conf.Relay.LockFile)
	if err != nil {
		log.Fatal().Err(err).Msg("couldn't make the lock file")
	}
	locked, err := lock.TryLock()
	if err != nil || !locked {
		log.Fatal().Err(err).Msg("another relay instance is already running")
	}

	r, err := relay.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("relay init fail")
	}
	r.Start()

	<-os.ExpectTermination()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown fail")
	}
	if err := lock.Unlock(); err != nil {
		log.Error().Err(err).Msg("couldn't release the lock file")
	}
}

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	run()
}
