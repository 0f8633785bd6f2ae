package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	cfgpkg "github.com/open-chat-labs/open-chat-sub002/internal/config"
	"github.com/open-chat-labs/open-chat-sub002/internal/runtime"
	httpserver "github.com/open-chat-labs/open-chat-sub002/internal/server/http"
	pebblestore "github.com/open-chat-labs/open-chat-sub002/internal/storage/pebble"
)

type Options struct {
	DataDir  string
	HTTPAddr string
	Config   cfgpkg.Config
	Logger   zerolog.Logger
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context. We layer a
	// local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = opts.Config.HTTPAddr
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	metrics := pebblestore.NewPromMetrics(prometheus.DefaultRegisterer)
	rt, err := runtime.Open(runtime.Options{
		DataDir: storeDir,
		Config:  opts.Config,
		Metrics: metrics,
		Logger:  opts.Logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	opts.Logger.Info().
		Str("data_dir", opts.DataDir).
		Str("http", opts.HTTPAddr).
		Str("fsync", opts.Config.Fsync).
		Msg("starting chatlog server")

	hsrv := httpserver.New(rt, opts.Logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			opts.Logger.Error().Err(err).Msg("http server error")
		}
	}()

	<-sctx.Done()
	// Shut servers down before closing the runtime/DB to avoid races.
	hsrv.Close()
	wg.Wait()
	return nil
}
