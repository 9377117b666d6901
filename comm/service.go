package comm

import (
	"context"

	"github.com/go-pluto/gallery/admission"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Variables

// ErrUnauthorized is returned by a Backend for pull
// requests whose token does not check out.
var ErrUnauthorized = errors.New("requester is not a member of the space")

// ErrUnknownSpace is returned by a Backend for requests
// naming a discovery id it does not serve.
var ErrUnknownSpace = errors.New("space is not served by this peer")

const (
	serviceName = "gallery.comm.Peer"
	pullMethod  = "/" + serviceName + "/Pull"
	pairMethod  = "/" + serviceName + "/Pair"
)

// Structs

// Backend answers the calls of the peer service.
type Backend interface {
	Pull(ctx context.Context, req *PullRequest) (*PullResponse, error)
	Pair(ctx context.Context, req *PairRequest) (*PairResponse, error)
}

// Client calls the peer service of one remote peer.
type Client struct {
	conn *grpc.ClientConn
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Backend)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Pull",
			Handler:    pullHandler,
		},
		{
			MethodName: "Pair",
			Handler:    pairHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gallery/comm/service.go",
}

// Functions

func pullHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	in := new(PullRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(Backend).Pull(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: pullMethod,
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).Pull(ctx, req.(*PullRequest))
	}

	return interceptor(ctx, in, info, handler)
}

func pairHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	in := new(PairRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(Backend).Pair(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: pairMethod,
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Backend).Pair(ctx, req.(*PairRequest))
	}

	return interceptor(ctx, in, info, handler)
}

// NewClient wraps an established connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Pull fetches operations beyond req.Heads.
func (c *Client) Pull(ctx context.Context, req *PullRequest) (*PullResponse, error) {

	out := new(PullResponse)
	if err := c.conn.Invoke(ctx, pullMethod, req, out); err != nil {
		return nil, fromStatus(err)
	}

	return out, nil
}

// Pair delivers an admission request.
func (c *Client) Pair(ctx context.Context, req *PairRequest) (*PairResponse, error) {

	out := new(PairResponse)
	if err := c.conn.Invoke(ctx, pairMethod, req, out); err != nil {
		return nil, fromStatus(err)
	}

	return out, nil
}

// toStatus maps errors of a Backend onto gRPC status codes.
func toStatus(err error) error {

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case admission.IsVerification(err):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, admission.ErrInviteUnavailable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrUnknownSpace):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus turns the status codes toStatus produces
// back into the errors callers match on.
func fromStatus(err error) error {

	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.PermissionDenied:
		return &admission.VerificationError{Reason: st.Message()}
	case codes.FailedPrecondition:
		return errors.Wrap(admission.ErrInviteUnavailable, st.Message())
	case codes.Unauthenticated:
		return errors.Wrap(ErrUnauthorized, st.Message())
	case codes.NotFound:
		return errors.Wrap(ErrUnknownSpace, st.Message())
	default:
		return err
	}
}
