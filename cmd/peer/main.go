package main

import (
	goflag "flag"

	"github.com/confabhq/confab/pkg/config"
	"github.com/confabhq/confab/pkg/logger"
	"github.com/confabhq/confab/pkg/os"
	"github.com/confabhq/confab/pkg/session"
	"github.com/pion/webrtc/v3"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func run() {
	conf := config.NewPeerConfig()
	conf.ParseFlags()

	log := logger.NewConsole(conf.Peer.Debug, "p", false)
	log.Info().Msgf("version: %v", Version)

	s, err := session.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("session init fail")
	}
	s.OnStatusChange = func(v session.Status) { log.Info().Msgf("call status: %v", v) }
	s.OnRemoteTrack = func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Msgf("remote %v track %v", track.Kind(), track.ID())
	}
	s.OnRemoteStreamStopped = func() { log.Info().Msg("remote stream stopped") }
	s.OnPeerExit = func(name string) { log.Info().Msgf("%v hung up", name) }
	s.OnKeyFrameRequest = func() { log.Debug().Msg("keyframe requested") }
	s.OnError = func(err error) { log.Error().Err(err).Msg("call error") }

	if err := s.InitSignalingConnection(); err != nil {
		log.Fatal().Err(err).Msg("couldn't open signaling")
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "confab")
	if err != nil {
		log.Fatal().Err(err).Msg("video track fail")
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "confab")
	if err != nil {
		log.Fatal().Err(err).Msg("audio track fail")
	}
	if err := s.Connect(video, audio); err != nil {
		log.Fatal().Err(err).Msg("couldn't join the room")
	}

	<-os.ExpectTermination()
	s.Cleanup()
	log.Info().Msg("bye")
}

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	run()
}
