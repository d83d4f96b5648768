package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shubhamavl/suspensionpcb-can-go/internal/server"
	"github.com/shubhamavl/suspensionpcb-can-go/logging"
)

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:8080", "http listen address")
		dataDir = flag.String("data", "./data", "directory for calibration and tare files")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logger := logging.NewDefaultLogger(*debug)
	defer func() { _ = logger.Sync() }()

	srv, err := server.New(server.Options{DataDir: *dataDir, Logger: logger})
	if err != nil {
		logger.Errorf("startup failed: %v", err)
		os.Exit(1)
	}
	defer srv.Close()

	httpSrv := &http.Server{Addr: *addr, Handler: srv.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("serving on http://%s", *addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}
