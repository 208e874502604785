// Package health exposes registration state through the standard gRPC
// health service.
package health

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dense-identity/softphone/internal/phone"
	"github.com/dense-identity/softphone/internal/state"
)

// Service is the name the registration status is reported under. The empty
// name mirrors it for clients that probe the whole server.
const Service = "softphone.Registration"

// Watch keeps srv in step with st until ctx is done.
func Watch(ctx context.Context, st *state.Store, srv *grpchealth.Server) {
	snaps, cancel := st.Subscribe()
	defer cancel()

	set(srv, st.Snapshot().Status)
	for {
		select {
		case <-ctx.Done():
			srv.Shutdown()
			return
		case snap := <-snaps:
			set(srv, snap.Status)
		}
	}
}

func set(srv *grpchealth.Server, s phone.ConnectionStatus) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s == phone.StatusRegistered {
		status = healthpb.HealthCheckResponse_SERVING
	}
	srv.SetServingStatus(Service, status)
	srv.SetServingStatus("", status)
}

// Serve listens on addr and serves the health service until ctx is done.
func Serve(ctx context.Context, addr string, st *state.Store, log *logrus.Entry) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, lis, st, log)
}

func ServeListener(ctx context.Context, lis net.Listener, st *state.Store, log *logrus.Entry) error {
	grpcServer := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	go Watch(ctx, st, hs)
	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	log.WithField("addr", lis.Addr().String()).Info("grpc health listening")
	return grpcServer.Serve(lis)
}
