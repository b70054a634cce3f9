// Command bridged serves the state bridge over JSON-RPC.
//
// It runs a coordinator over the configured store, a host with the env
// state imports, and a controller routing JSON-RPC calls to the host.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/controller"
	"github.com/wippyai/wasm-bridge/coordinator"
	"github.com/wippyai/wasm-bridge/host"
	"github.com/wippyai/wasm-bridge/internal/app"
	"github.com/wippyai/wasm-bridge/rpcapi"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load("bridged", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	app.SetLoggers(logger)

	st, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	verifier, err := app.ReadVerifier(cfg.Verifier)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	coord := coordinator.New(st, cfg.CoordinatorOptions()...)
	h, err := host.New(ctx, coord, cfg.HostConfig(verifier))
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	defer h.Close(context.Background())

	client, g := controller.Connect(ctx, h)
	g.Go(func() error {
		return coord.Run(ctx)
	})

	handler, err := rpcapi.NewHandler(rpcapi.NewService(client, cfg.RPCTimeout))
	if err != nil {
		return fmt.Errorf("rpc handler: %w", err)
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("bridge listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("store", cfg.StoreBackend),
		zap.Bool("verifier", verifier != nil))

	g.Go(func() error {
		err := srv.Serve(ln)
		cancel()
		if !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("bridge stopped")
	if err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
