package cli

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

	"github.com/raysh454/perfsandbox/internal/app"
	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/server"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	var origins []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, origins, logger)
		},
	}

	cmd.Flags().String("listen", v.GetString("LISTEN_ADDR"), "HTTP listen address")
	mustBind(v, "LISTEN_ADDR", cmd.Flags().Lookup("listen"))
	cmd.Flags().String("public-base-url", v.GetString("PUBLIC_BASE_URL"), "Base URL artifact links are built from")
	mustBind(v, "PUBLIC_BASE_URL", cmd.Flags().Lookup("public-base-url"))
	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "CORS origin to allow (repeatable; default any)")
	return cmd
}

// serve runs the API until ctx is cancelled, then drains the HTTP server and
// the application in that order.
func serve(ctx context.Context, cfg *app.Config, origins []string, logger logging.Logger) error {
	application, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	if err := application.Start(); err != nil {
		return err
	}

	scfg := server.DefaultConfig()
	scfg.ListenAddr = cfg.ListenAddr
	if len(origins) > 0 {
		scfg.AllowedOrigins = origins
	}
	srv, err := server.New(scfg, server.Deps{
		Coordinator: application.Coordinator,
		Artifacts:   application.Artifacts,
		Shares:      application.Share,
		Logger:      logger,
	})
	if err != nil {
		_ = application.Shutdown(context.Background())
		return err
	}

	httpSrv := srv.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.F("addr", httpSrv.Addr), logging.F("public_base_url", cfg.PublicBaseURL))
		errCh <- httpSrv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), scfg.ShutdownTimeout+15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Err(err))
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("application shutdown: %w", err))
	}
	return serveErr
}
