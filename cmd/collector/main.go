// Command collector runs the flight tracker collection service.
//
// In the default "collector" mode it runs the per-region collection loops
// with the push ingress API embedded. In "standalone-ingress" mode it serves
// only the push API, for deployments that separate ingest from collection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jeffstrout/flightTrackerCollector/internal/cache"
	"github.com/jeffstrout/flightTrackerCollector/internal/ingress"
	"github.com/jeffstrout/flightTrackerCollector/internal/registry"
	"github.com/jeffstrout/flightTrackerCollector/internal/scheduler"
	"github.com/jeffstrout/flightTrackerCollector/pkg/config"
)

// Exit codes.
const (
	exitOK     = 0
	exitConfig = 1
	exitCache  = 2
	exitFatal  = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	mode := flag.String("mode", "collector", "run mode: collector or standalone-ingress")
	configPath := flag.String("config", "", "path to the YAML config file (default: collectors.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	setupLogging(cfg.Log.Level)
	log := logrus.WithField("mode", *mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := cache.NewRedis(ctx, cfg.Cache.Addr(), cfg.Cache.DB)
	if err != nil {
		log.WithError(err).Error("Cache unreachable at startup")
		return exitCache
	}
	defer store.Close()

	switch *mode {
	case "collector":
		err = runCollector(ctx, cfg, store)
	case "standalone-ingress":
		err = serveHTTP(ctx, cfg, store)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		return exitConfig
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Service failed")
		return exitFatal
	}
	log.Info("Shutdown complete")
	return exitOK
}

// runCollector starts the region schedulers with the ingress API embedded.
func runCollector(ctx context.Context, cfg *config.Config, store cache.Store) error {
	reg := registry.New(store)
	if err := reg.Load(ctx, cfg.Registry); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.New(cfg, store, reg).Run(ctx)
	})
	g.Go(func() error {
		return serveHTTP(ctx, cfg, store)
	})
	return g.Wait()
}

func serveHTTP(ctx context.Context, cfg *config.Config, store cache.Store) error {
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           ingress.New(cfg, store).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", srv.Addr).Info("Ingress API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	switch strings.ToUpper(level) {
	case "DEBUG":
		logrus.SetLevel(logrus.DebugLevel)
	case "WARN", "WARNING":
		logrus.SetLevel(logrus.WarnLevel)
	case "ERROR":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
