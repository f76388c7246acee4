package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/TheusHen/Rotor/rotor/config"
	"github.com/TheusHen/Rotor/rotor/feed/redisfeed"
)

var (
	cfg    config.Config
	logger *slog.Logger

	logLevel  string
	redisAddr string
	keyPrefix string
	stream    string
)

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "rotor",
		Short:        "Rotate sessions across independently subscribed components",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg = c
			logger, err = cfg.Logger(cmd.ErrOrStderr())
			return err
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (env ROTOR_LOG_LEVEL)")
	root.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address (env ROTOR_REDIS_ADDR)")
	root.PersistentFlags().StringVar(&keyPrefix, "prefix", "", "Redis key prefix (env ROTOR_REDIS_KEY_PREFIX)")
	root.PersistentFlags().StringVar(&stream, "stream", "", "session stream name (env ROTOR_STREAM)")

	root.AddCommand(simulateCmd(), rotateCmd(), serveCmd(), sendCmd())
	return root
}

// loadConfig reads the environment, applies flag overrides and validates the
// combined result once.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	c, err := config.Parse()
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("redis") {
		c.RedisAddr = redisAddr
	}
	if flags.Changed("prefix") {
		c.RedisKeyPrefix = keyPrefix
	}
	if flags.Changed("stream") {
		c.Stream = stream
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

// openFeed connects to the configured session stream. The caller closes the
// returned client; closing the feed additionally ends the stream for everyone.
func openFeed(ctx context.Context) (*redisfeed.Feed, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	f := redisfeed.New(redisfeed.Config{
		Client:    client,
		KeyPrefix: cfg.RedisKeyPrefix,
		Stream:    cfg.Stream,
		Logger:    logger,
	})
	return f, client, nil
}
