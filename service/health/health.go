package health

import (
	"context"
	"net"
	"strconv"

	"PPRealtime/logger"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "realtime.Gateway"

// Server exposes grpc.health.v1.Health so orchestrators can probe the
// gateway without speaking WebSocket.
type Server struct {
	gs     *grpc.Server
	health *health.Server
	log    *zap.Logger
}

func New(l *zap.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	s := &Server{gs: gs, health: hs, log: logger.Named(l, "health")}
	s.SetServing(false)
	return s
}

func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve answers health checks on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.SetServing(true)
	s.log.Info("gRPC health listening", zap.String("addr", lis.Addr().String()))

	stop := context.AfterFunc(ctx, func() {
		s.health.Shutdown()
		s.gs.GracefulStop()
	})
	defer stop()

	if err := s.gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "grpc serve")
	}
	return nil
}

// ListenAndServe is Serve on ":port".
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return errors.Wrapf(err, "grpc listen :%d", port)
	}
	return s.Serve(ctx, lis)
}
