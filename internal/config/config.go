package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for bedrock-sync.
type Config struct {
	// WorldsDir is the Minecraft Bedrock worlds folder to sync. This is
	// the directory that contains one subdirectory per world.
	WorldsDir string `env:"BEDROCK_WORLDS_DIR"`

	// CredentialsFile is the path to the Google OAuth client credentials
	// JSON downloaded from the cloud console.
	CredentialsFile string `env:"BEDROCK_CREDENTIALS_FILE"`

	// TokenFile is where the granted OAuth token is cached between runs.
	// Defaults to ~/.bedrock-sync/token.json.
	TokenFile string `env:"BEDROCK_TOKEN_FILE"`

	// StateFile is the path of the bbolt database holding the last-known
	// catalog and per-world sync times. Defaults to
	// ~/.bedrock-sync/state.db.
	StateFile string `env:"BEDROCK_STATE_FILE"`

	// StrictWorldsDir requires WorldsDir to be named "minecraftWorlds",
	// matching the layout Bedrock uses on-device. Disable when syncing a
	// copy kept under a different name.
	StrictWorldsDir bool `env:"BEDROCK_STRICT_WORLDS_DIR" envDefault:"true"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve WorldsDir once at startup so later chdirs cannot move the
	// worlds root out from under running operations.
	absDir, err := filepath.Abs(cfg.WorldsDir)
	if err != nil {
		return nil, fmt.Errorf("resolving worlds dir to absolute path: %w", err)
	}

	cfg.WorldsDir = absDir

	if cfg.TokenFile == "" {
		cfg.TokenFile, err = defaultStatePath("token.json")
		if err != nil {
			return nil, err
		}
	}

	if cfg.StateFile == "" {
		cfg.StateFile, err = defaultStatePath("state.db")
		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.WorldsDir == "" {
		return fmt.Errorf("BEDROCK_WORLDS_DIR is required")
	}

	if c.CredentialsFile == "" {
		return fmt.Errorf("BEDROCK_CREDENTIALS_FILE is required")
	}

	return nil
}

// defaultStatePath returns ~/.bedrock-sync/<name>.
func defaultStatePath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".bedrock-sync", name), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
