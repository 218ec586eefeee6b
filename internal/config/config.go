package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	defaultNotificationWorkers = 4
	defaultFileBaseURL         = "http://localhost:8000/"
	envPrefix                  = "chathub"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	// FileBaseURL prefixes stored attachment paths in message payloads.
	FileBaseURL string
	// RequireFriendship rejects direct messages between users who are not friends.
	RequireFriendship   bool
	NotificationWorkers int
	LogLevel            string
}

type Option func(*Config)

func WithFileBaseURL(u string) Option {
	return func(c *Config) {
		if u != "" {
			c.FileBaseURL = u
		}
	}
}

func WithRequireFriendship(required bool) Option {
	return func(c *Config) {
		c.RequireFriendship = required
	}
}

func WithNotificationWorkers(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.NotificationWorkers = n
		}
	}
}

func WithLogLevel(level string) Option {
	return func(c *Config) {
		c.LogLevel = level
	}
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, opts ...Option) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		DatabaseDSN:         databaseDSN,
		ServerAddr:          serverAddr,
		SigningKey:          signingKey,
		AllowedOrigins:      allowedOrigins,
		FileBaseURL:         defaultFileBaseURL,
		NotificationWorkers: defaultNotificationWorkers,
		LogLevel:            "info",
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg, nil
}

// Env holds CHATHUB_* environment settings. They seed the command line
// flag defaults, so an explicit flag always wins.
type Env struct {
	ServerAddr          string   `envconfig:"ADDR" default:"localhost:8000"`
	DatabaseDSN         string   `envconfig:"DSN" default:"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"`
	SigningKey          string   `envconfig:"SIGNING_KEY"`
	AllowedOrigins      []string `envconfig:"ALLOWED_ORIGINS"`
	FileBaseURL         string   `envconfig:"FILE_BASE_URL" default:"http://localhost:8000/"`
	RequireFriendship   bool     `envconfig:"REQUIRE_FRIENDSHIP" default:"false"`
	NotificationWorkers int      `envconfig:"NOTIFICATION_WORKERS" default:"4"`
	LogLevel            string   `envconfig:"LOG_LEVEL" default:"info"`
	Migrate             bool     `envconfig:"MIGRATE" default:"true"`
}

// LoadEnv reads the given dotenv files, skipping any that do not exist,
// then processes the environment.
func LoadEnv(files ...string) (*Env, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var env Env
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	return &env, nil
}
