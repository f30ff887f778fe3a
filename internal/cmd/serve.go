package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/mapbridge/internal/config"
	"github.com/MeKo-Tech/mapbridge/internal/host"
	"github.com/MeKo-Tech/mapbridge/internal/prefs"
	"github.com/MeKo-Tech/mapbridge/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve [file]",
	Short: "Serve a headless map: state snapshot, SSE state stream and commands",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("engine", "", "Engine to start with (default: prefs, then document, then maplibre)")
	serveCmd.Flags().Int("fetch-workers", 4, "Parallel GeoJSON source fetches")
	serveCmd.Flags().Duration("heartbeat", 15*time.Second, "Keep-alive interval on idle state streams")
	serveCmd.Flags().Duration("search-timeout", 30*time.Second, "Timeout per search request")
	serveCmd.Flags().Duration("shutdown-timeout", 5*time.Second, "Grace period for open requests on shutdown")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.engine", "engine")
	mustBind("serve.fetch_workers", "fetch-workers")
	mustBind("serve.heartbeat", "heartbeat")
	mustBind("serve.search_timeout", "search-timeout")
	mustBind("serve.shutdown_timeout", "shutdown-timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")

	path, err := documentPath(args)
	if err != nil {
		return err
	}
	doc, _, err := config.Load(path, logger)
	if err != nil {
		return err
	}

	var store *prefs.Store
	if p := viper.GetString("prefs"); p != "" {
		store, err = prefs.Open(p, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	reg, _ := headlessRegistry(logger)
	m, err := host.New(host.Options{
		Engine:       viper.GetString("serve.engine"),
		Document:     doc,
		Registry:     reg,
		Prefs:        store,
		FetchWorkers: viper.GetInt("serve.fetch_workers"),
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer m.Detach()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := m.Attach(ctx); err != nil {
		return err
	}

	srv := server.New(m, server.Config{
		Heartbeat:     viper.GetDuration("serve.heartbeat"),
		SearchTimeout: viper.GetDuration("serve.search_timeout"),
	}, logger)

	logger.Info("map server listening",
		"addr", addr,
		"document", path,
		"engine", m.Engine(),
		"layers", len(doc.Catalog.VisibleLayers()),
	)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// state streams end when the signal context does
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("Received interrupt signal, shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("serve.shutdown_timeout"))
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
