package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/spinchat/engine/internal/config"
	"github.com/spinchat/engine/internal/domain"
	"github.com/spinchat/engine/internal/matchmaking"
	"github.com/spinchat/engine/internal/peer"
	"github.com/spinchat/engine/internal/session"
	"github.com/spinchat/engine/internal/signaling"
)

const helpText = `spinchat - 1:1 video chat connection engine demo

Without a signaling URL configured, two local sessions are paired through
the in-memory hub and exchange a greeting over the peer data channel.

Environment Variables (optional):
  SPINCHAT_ENV              production or development (default development)
  SPINCHAT_SIGNALING_URL    websocket signaling server (default in-memory hub)
  SPINCHAT_MATCHMAKING_URL  matchmaking service (default local allocator)
  SPINCHAT_TOKEN            bearer token for the matchmaking service
  SPINCHAT_TURN_URL_1       numbered TURN endpoint (with _USERNAME_/_CREDENTIAL_)
  SPINCHAT_LOG_LEVEL        zerolog level (default info)

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if cfg.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			log = log.Level(level)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	sessionCfg := session.Config{Environment: cfg.Environment}
	sessionCfg.Resolver.RelayServers = cfg.RelayServers

	if cfg.SignalingURL != "" {
		runNetworked(ctx, cfg, sessionCfg, log)
		return
	}
	runLoopback(ctx, sessionCfg, log)
}

// runNetworked connects one session to a real signaling server and waits
// for a partner.
func runNetworked(ctx context.Context, cfg *config.Config, sessionCfg session.Config, log zerolog.Logger) {
	var rooms domain.RoomProvider = &matchmaking.Local{}
	if cfg.MatchmakingURL != "" {
		rooms = matchmaking.NewClient(cfg.MatchmakingURL, cfg.AuthToken, log)
	}

	channel := signaling.NewWebsocketChannel(cfg.SignalingURL, log)
	s := newSession("self", channel, rooms, sessionCfg, log)
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start session")
	}
	<-ctx.Done()
}

// runLoopback pairs two sessions through the in-memory hub.
func runLoopback(ctx context.Context, sessionCfg session.Config, log zerolog.Logger) {
	hub := signaling.NewHub(log)
	rooms := &matchmaking.Local{RoomID: "loopback"}

	alice := newSession("alice", hub.NewChannel(), rooms, sessionCfg, log)
	bob := newSession("bob", hub.NewChannel(), rooms, sessionCfg, log)
	defer alice.Close()
	defer bob.Close()

	if err := alice.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start alice")
	}
	if err := bob.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start bob")
	}

	<-ctx.Done()
}

func newSession(name string, channel domain.SignalingChannel, rooms domain.RoomProvider, cfg session.Config, log zerolog.Logger) *session.Session {
	log = log.With().Str("peer", name).Logger()

	manager, err := peer.NewManager(&peer.SyntheticSource{StreamID: name}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("create peer manager")
	}

	var s *session.Session
	s = session.New(channel, manager, rooms, cfg, session.Callbacks{
		OnStateChange: func(state domain.SessionState) {
			log.Info().
				Str("status", state.Status.String()).
				Bool("partner", state.PartnerConnected).
				Str("quality", state.ConnectionQuality.String()).
				Msg("state")
			if state.Status == domain.StatusConnected {
				s.SendMessage("hello from " + name)
			}
		},
		OnMessage: func(msg domain.ChatMessage) {
			if !msg.IsOwn {
				log.Info().Str("text", msg.Text).Msg("chat received")
			}
		},
		OnNotice: func(text string) {
			log.Info().Str("notice", text).Msg("notice")
		},
		OnError: func(err error) {
			log.Warn().Err(err).Msg("session error")
		},
	}, log)
	return s
}
