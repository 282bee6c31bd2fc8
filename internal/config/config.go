package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/spinchat/engine/internal/domain"
	"github.com/spinchat/engine/internal/ice"
)

// Config holds the engine configuration.
type Config struct {
	Environment    ice.Environment
	SignalingURL   string // empty selects the in-memory hub
	MatchmakingURL string // empty selects the local allocator
	AuthToken      string
	RelayServers   []domain.ICEServer
	LogLevel       string
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		Environment:    ice.Development,
		SignalingURL:   os.Getenv("SPINCHAT_SIGNALING_URL"),
		MatchmakingURL: os.Getenv("SPINCHAT_MATCHMAKING_URL"),
		AuthToken:      os.Getenv("SPINCHAT_TOKEN"),
		LogLevel:       os.Getenv("SPINCHAT_LOG_LEVEL"),
	}

	switch env := os.Getenv("SPINCHAT_ENV"); env {
	case "", "development":
	case "production":
		cfg.Environment = ice.Production
	default:
		return nil, fmt.Errorf("SPINCHAT_ENV must be production or development, got %q", env)
	}

	// Relay endpoints come in numbered triples: SPINCHAT_TURN_URL_1,
	// SPINCHAT_TURN_USERNAME_1, SPINCHAT_TURN_CREDENTIAL_1 and so on. An
	// incomplete credential pair is kept here and filtered by the resolver.
	for i := 1; ; i++ {
		n := strconv.Itoa(i)
		url := os.Getenv("SPINCHAT_TURN_URL_" + n)
		if url == "" {
			break
		}
		cfg.RelayServers = append(cfg.RelayServers, domain.ICEServer{
			URL:        url,
			Username:   os.Getenv("SPINCHAT_TURN_USERNAME_" + n),
			Credential: os.Getenv("SPINCHAT_TURN_CREDENTIAL_" + n),
		})
	}

	if cfg.Environment == ice.Production && cfg.MatchmakingURL != "" && cfg.AuthToken == "" {
		return nil, fmt.Errorf("SPINCHAT_TOKEN is required when a matchmaking URL is configured")
	}

	return cfg, nil
}
