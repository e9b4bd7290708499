package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/crosstask/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the experiment over HTTP and websockets",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := startRuntime(cmd, "")
		if err != nil {
			return err
		}
		addr := rt.cfg.Server.Addr
		if a, _ := cmd.Flags().GetString("addr"); a != "" {
			addr = a
		}
		anyOrigin, _ := cmd.Flags().GetBool("allow-any-origin")

		api := httpapi.New(rt.sessions, httpapi.Options{
			Ready:          rt.store.Ping,
			AllowAnyOrigin: anyOrigin,
			Logger:         rt.log.With("component", "http"),
			Metrics:        rt.metrics,
		})
		srv := &http.Server{
			Addr:              addr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			rt.log.Info("server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				rt.log.Warn("graceful shutdown failed", "err", err)
				return srv.Close()
			}
			return nil
		})

		serveErr := g.Wait()
		return errors.Join(serveErr, rt.stop())
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().Bool("allow-any-origin", false, "Accept websocket upgrades from any origin")
}
