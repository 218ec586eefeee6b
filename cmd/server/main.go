package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/npezzotti/go-chathub/internal/api"
	"github.com/npezzotti/go-chathub/internal/config"
	"github.com/npezzotti/go-chathub/internal/database"
	"github.com/npezzotti/go-chathub/internal/server"
	"github.com/npezzotti/go-chathub/internal/stats"
	"github.com/rs/zerolog"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr                string
	dsn                 string
	signingKey          string
	allowedOrigins      stringSliceFlag
	fileBaseURL         string
	requireFriendship   bool
	notificationWorkers int
	logLevel            string
	migrate             bool
)

func main() {
	bootLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	env, err := config.LoadEnv(".env")
	if err != nil {
		bootLog.Fatal().Err(err).Msg("env")
	}
	if env.SigningKey == "" {
		env.SigningKey = defaultSigningKey
	}

	flag.StringVar(&addr, "addr", env.ServerAddr, "server address")
	flag.StringVar(&dsn, "dsn", env.DatabaseDSN, "database connection string")
	flag.StringVar(&signingKey, "signing-key", env.SigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS (default $CHATHUB_ALLOWED_ORIGINS)")
	flag.StringVar(&fileBaseURL, "file-base-url", env.FileBaseURL, "base URL for attachment links")
	flag.BoolVar(&requireFriendship, "require-friendship", env.RequireFriendship, "only allow direct messages between friends")
	flag.IntVar(&notificationWorkers, "notification-workers", env.NotificationWorkers, "number of notification workers")
	flag.StringVar(&logLevel, "log-level", env.LogLevel, "log level (debug, info, warn, error)")
	flag.BoolVar(&migrate, "migrate", env.Migrate, "apply database migrations on startup")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins = env.AllowedOrigins
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("log level")
	}
	logger := bootLog.Level(level).With().Str("service", "go-chathub").Logger()

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins,
		config.WithFileBaseURL(fileBaseURL),
		config.WithRequireFriendship(requireFriendship),
		config.WithNotificationWorkers(notificationWorkers),
		config.WithLogLevel(logLevel),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	dbConn, err := database.NewPgGoChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	if migrate {
		if err := dbConn.Migrate(); err != nil {
			logger.Fatal().Err(err).Msg("db migrate")
		}
		logger.Info().Msg("database migrations applied")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("new chat server")
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Stringer("signal", sig).Msg("received signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}

	logger.Info().Msg("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Error().Err(err).Msg("chat server shutdown")
	}

	logger.Info().Msg("shutdown complete")
}
