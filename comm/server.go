package comm

import (
	"context"
	"net"
	"time"

	"crypto/tls"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Structs

// Server exposes a Backend as the peer service.
type Server struct {
	logger log.Logger
	grpc   *grpc.Server
}

// Functions

// NewServer registers backend with a fresh gRPC server.
func NewServer(logger log.Logger, backend Backend, tlsConfig *tls.Config) *Server {

	s := &Server{logger: logger}

	opts := append(ServerOptions(tlsConfig), grpc.UnaryInterceptor(s.intercept))
	s.grpc = grpc.NewServer(opts...)
	s.grpc.RegisterService(&peerServiceDesc, backend)

	return s
}

// intercept logs every call and maps backend
// errors onto status codes.
func (s *Server) intercept(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	begin := time.Now()

	resp, err := handler(ctx, req)
	if err != nil {
		err = toStatus(err)
	}

	level.Debug(s.logger).Log(
		"method", info.FullMethod,
		"code", status.Code(err),
		"duration", time.Since(begin),
		"err", err,
	)

	return resp, err
}

// Serve accepts peer connections on l until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	return s.grpc.Serve(l)
}

// Stop finishes pending calls and closes all listeners.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
