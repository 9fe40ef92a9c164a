package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Nine-Minds/alga-psa-sub020/store"
	"github.com/Nine-Minds/alga-psa-sub020/store/memory"
	"github.com/Nine-Minds/alga-psa-sub020/store/postgres"
	redisstore "github.com/Nine-Minds/alga-psa-sub020/store/redis"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "automationd",
		Short:         "Tenant-scoped workflow automation daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig(cfgFile)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./automationd.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())

	return root
}

func loadConfig(cfgFile string) error {
	viper.SetDefault("listen", ":8080")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("store.postgres.dsn", "postgres://localhost:5432/automation?sslmode=disable")
	viper.SetDefault("store.redis.addr", "localhost:6379")
	viper.SetDefault("concurrency", 10)
	viper.SetDefault("action.timeout", time.Minute)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("api.rate_limit.rps", 0)
	viper.SetDefault("api.rate_limit.burst", 0)

	viper.SetEnvPrefix("AUTOMATION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("automationd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/automationd")
	}

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; env and defaults carry the rest.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(viper.GetString("log.level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if viper.GetString("log.format") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore connects the backend named by store.backend.
func openStore(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	switch backend := viper.GetString("store.backend"); backend {
	case "memory":
		return memory.New(), nil
	case "postgres":
		return postgres.New(ctx, viper.GetString("store.postgres.dsn"), postgres.WithLogger(logger))
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     viper.GetString("store.redis.addr"),
			Password: viper.GetString("store.redis.password"),
			DB:       viper.GetInt("store.redis.db"),
		})
		return redisstore.New(client, redisstore.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
