package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"stakepool/internal/runner"
)

// Server exposes the pool API over JSON-RPC on HTTP.
type Server struct {
	logger  *zap.Logger
	rpcSrv  *rpc.Server
	httpSrv *http.Server
}

// New registers the pool service and prepares the HTTP listener.
func New(listenAddr string, r *runner.Runner, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rpcSrv := rpc.NewServer()
	if err := rpcSrv.RegisterName("pool", NewPoolService(r)); err != nil {
		return nil, fmt.Errorf("register pool service: %w", err)
	}
	return &Server{
		logger: logger,
		rpcSrv: rpcSrv,
		httpSrv: &http.Server{
			Addr:              listenAddr,
			Handler:           rpcSrv,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.rpcSrv.Stop()
	return <-errCh
}
