package explorerd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/interaction"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// Run serves the HTTP and gRPC APIs until ctx is done, then shuts both down
// and closes every session. It returns early if a listener fails.
func Run(ctx context.Context, cfg *config.Config, fetcher interaction.Fetcher) error {
	if cfg == nil {
		cfg = config.Default()
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	store := NewSessionStore(ctx, fetcher, cfg)
	defer store.Close()

	// TODO: Configure gRPC server security (TLS, authentication) before
	// exposing the daemon beyond localhost.
	grpcServer := grpc.NewServer()
	RegisterExplorerServer(grpcServer, NewExplorerGRPCServer(store, cfg.Server.StreamInterval))

	var grpcLis, httpLis net.Listener
	if addr := cfg.Server.GRPCAddr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC on %s: %w", addr, err)
		}
		grpcLis = lis
	}
	if addr := cfg.Server.HTTPAddr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			if grpcLis != nil {
				grpcLis.Close()
			}
			return fmt.Errorf("failed to listen for HTTP on %s: %w", addr, err)
		}
		httpLis = lis
	}
	if grpcLis == nil && httpLis == nil {
		return errors.New("no listen address configured")
	}

	httpSrv := &http.Server{
		Handler:           NewHTTPServer(store, cfg.Server).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: snapshot streams stay open.
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errc := make(chan error, 2)
	if grpcLis != nil {
		go func() {
			logger.Info("gRPC server listening", "addr", grpcLis.Addr().String())
			if err := grpcServer.Serve(grpcLis); err != nil {
				errc <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}
	if httpLis != nil {
		go func() {
			logger.Info("HTTP server listening", "addr", httpLis.Addr().String())
			if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case serveErr = <-errc:
		logger.Error("server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Ending sessions first lets open snapshot streams finish.
	store.Close()
	grpcServer.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	return serveErr
}
