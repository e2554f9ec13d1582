package coordinator

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ravi-parthasarathy/stagecoord/pkg/protocol"
)

type requestIDKey struct{}

// RequestID returns the id assigned to the current call by the server, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewServer returns a gRPC server with srv registered as the coordinator
// service. Every call gets a request id and panics become codes.Internal.
func NewServer(srv protocol.CommunicateServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(requestIDInterceptor, recoverInterceptor),
	}, opts...)
	s := grpc.NewServer(opts...)
	protocol.RegisterCommunicateServer(s, srv)
	return s
}

func requestIDInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	id := uuid.NewString()
	ctx = context.WithValue(ctx, requestIDKey{}, id)
	start := time.Now()
	resp, err := next(ctx, req)
	slog.Debug("rpc", "method", info.FullMethod, "request_id", id, "duration", time.Since(start), "error", err)
	return resp, err
}

func recoverInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in handler", "method", info.FullMethod, "request_id", RequestID(ctx), "panic", r, "stack", string(debug.Stack()))
			resp, err = nil, status.Errorf(codes.Internal, "panic handling %s: %v", info.FullMethod, r)
		}
	}()
	return next(ctx, req)
}
