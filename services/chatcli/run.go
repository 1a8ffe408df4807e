package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatclient/internal/events"
	"github.com/chatclient/internal/handler"
	"github.com/chatclient/internal/logger"
	"github.com/chatclient/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect and stay online until interrupted",
	Long: `Seeds chats from the REST API, opens the realtime channel and keeps it
alive with backoff reconnects. When inspect_addr is set a local HTTP
inspector exposes state, conversations and the debug log.`,
	Args: cobra.NoArgs,
	RunE: runClient,
}

func runClient(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var sink storage.ChangeSink
	if mirror := openMirror(ctx, cfg); mirror != nil {
		sink = mirror
		defer func() {
			if err := mirror.Close(); err != nil {
				logger.Errorf("mirror close: %v", err)
			}
			if n := mirror.Dropped(); n > 0 {
				logger.Infof("mirror dropped %d changes", n)
			}
		}()
	}
	client, err := newClient(cfg, sink)
	if err != nil {
		return err
	}
	client.Events().On(events.ReconnectFailed, func(events.Event) error {
		logger.Error("channel gave up reconnecting; POST /api/reconnect or restart to retry")
		return nil
	})

	go client.Run(ctx)
	defer stop(client, cancel)

	if err := client.Seed(ctx); err != nil {
		logger.Errorf("seed: %v", err)
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	logger.Infof("connecting to %s as %s", cfg.Endpoint, cfg.UserID)

	var srv *http.Server
	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	if cfg.InspectAddr != "" {
		h := handler.NewInspectHandler(client, client.Store())
		srv = &http.Server{
			Addr:              cfg.InspectAddr,
			Handler:           h.Router(cfg.CORSAllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		srvWg.Add(1)
		go func() {
			defer srvWg.Done()
			logger.Infof("inspector listening on %s", cfg.InspectAddr)
			errCh <- srv.ListenAndServe()
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("inspector error: %v", err)
		}
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("inspector shutdown: %v", err)
		}
		shutdownCancel()
		srvWg.Wait()
	}
	return nil
}
