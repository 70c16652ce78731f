// Package server runs the HTTP gateway and the gRPC health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	httpapi "github.com/hb-chen/skillexec/internal/api/http"
	"github.com/hb-chen/skillexec/internal/config"
	"github.com/hb-chen/skillexec/pkg/grpc/gateway"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// ServiceName is the name reported by the gRPC health service
const ServiceName = "skillexec"

const shutdownTimeout = 5 * time.Second

// Serve starts both HTTP and gRPC servers and blocks until ctx is done
func Serve(ctx context.Context, cfg *config.Config, handlers *httpapi.Handlers) error {
	g, ctx := errgroup.WithContext(ctx)

	if cfg.Server.GRPC.Addr != "" {
		g.Go(func() error {
			return runGRPC(ctx, cfg.Server.GRPC.Addr)
		})
	}

	if cfg.Server.HTTP.Addr != "" {
		handler, err := NewHTTPHandler(handlers)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return runHTTP(ctx, cfg.Server.HTTP.Addr, handler)
		})
	}

	err := g.Wait()
	logger.Infof("Servers stopped")
	return err
}

// NewGRPCServer creates a gRPC server exposing the health service
func NewGRPCServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

func runGRPC(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s, hs := NewGRPCServer()
	logger.Infof("gRPC server listening on %s", addr)

	go func() {
		<-ctx.Done()
		logger.Infof("Stopping gRPC server...")
		hs.Shutdown()
		s.GracefulStop()
	}()

	if err := s.Serve(lis); err != nil {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

// NewHTTPHandler builds the gateway mux with every API route and access logs
func NewHTTPHandler(handlers *httpapi.Handlers) (http.Handler, error) {
	gw := gateway.New(
		runtime.WithErrorHandler(httpErrorHandler),
	)
	if err := handlers.Register(gw); err != nil {
		return nil, fmt.Errorf("failed to register routes: %w", err)
	}
	return accessLogMiddleware(gw), nil
}

func runHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Infof("HTTP server listening on %s", addr)

	go func() {
		<-ctx.Done()
		logger.Infof("Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// httpErrorHandler handles errors from grpc-gateway
func httpErrorHandler(ctx context.Context, mux *runtime.ServeMux, marshaler runtime.Marshaler, w http.ResponseWriter, r *http.Request, err error) {
	logger.Errorf("HTTP error: %v, path: %s", err, r.URL.Path)
	runtime.DefaultHTTPErrorHandler(ctx, mux, marshaler, w, r, err)
}

// accessLogMiddleware logs one line per request
func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		clientIP := r.RemoteAddr
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			clientIP = forwarded
		} else if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			clientIP = realIP
		}

		userAgent := r.UserAgent()
		if userAgent == "" {
			userAgent = "-"
		}

		logger.Infof("%s - \"%s %s %s\" %d %d \"%s\" %v",
			clientIP,
			r.Method,
			r.URL.Path,
			r.Proto,
			rw.statusCode,
			rw.bytesWritten,
			userAgent,
			time.Since(start),
		)
	})
}

// responseWriter captures status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
