package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/api"
	"github.com/Nine-Minds/alga-psa-sub020/engine"
	"github.com/Nine-Minds/alga-psa-sub020/observability"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the automation engine and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger()

	st, err := openStore(ctx, logger)
	if err != nil {
		return err
	}

	if err = st.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	if err = st.Migrate(ctx); err != nil {
		return fmt.Errorf("store migrate: %w", err)
	}

	rt, err := automation.New(
		automation.WithStore(st),
		automation.WithLogger(logger),
		automation.WithConcurrency(viper.GetInt("concurrency")),
		automation.WithActionTimeout(viper.GetDuration("action.timeout")),
	)
	if err != nil {
		return err
	}
	defer rt.Close() //nolint:errcheck // shutdown path

	eng, err := engine.Build(rt)
	if err != nil {
		return err
	}

	if viper.GetBool("metrics.enabled") {
		metricsExt, extErr := observability.NewMetricsExtension()
		if extErr != nil {
			return extErr
		}
		eng.Extensions().Register(metricsExt)
	}

	apiOpts := make([]api.Option, 0, 4)
	for key, tenant := range viper.GetStringMapString("api.keys") {
		apiOpts = append(apiOpts, api.WithAPIKey(key, tenant))
	}
	if rps := viper.GetFloat64("api.rate_limit.rps"); rps > 0 {
		apiOpts = append(apiOpts, api.WithRateLimit(rps, viper.GetInt("api.rate_limit.burst")))
	}

	if err = eng.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              viper.GetString("listen"),
		Handler:           api.New(eng, apiOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.Config().ShutdownTimeout)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http shutdown", "error", err)
	}
	return eng.Stop(shutdownCtx)
}
