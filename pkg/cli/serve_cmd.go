package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		listen           string
		discoveryRunFile string
		maskingRunFile   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the trigger API and run scheduled discovery and masking",
		Long: "Serve the HTTP trigger API. DISCOVERY_SCHEDULE and MASKING_SCHEDULE start " +
			"recurring runs of the given run files.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if listen == "" {
				listen = s.cfg.ListenAddr
			}

			sched, err := s.app.Scheduler(discoveryRunFile, maskingRunFile)
			if err != nil {
				return err
			}
			router, err := s.app.Router(ctx)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              listen,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				s.logger.Info("trigger API listening", "addr", listen)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()
			sched.Start()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				sched.Stop()
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			}

			s.logger.Info("shutting down")
			sched.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn("http shutdown", "error", err)
			}
			s.app.Runner.Wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides LISTEN_ADDR)")
	cmd.Flags().StringVar(&discoveryRunFile, "discovery-run-file", "", "Run file of the scheduled discovery run")
	cmd.Flags().StringVar(&maskingRunFile, "masking-run-file", "", "Run file of the scheduled masking run")
	return cmd
}
