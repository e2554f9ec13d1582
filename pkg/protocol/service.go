package protocol

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "service_coordinator.Communicate"

// Full method names, as seen by interceptors.
const (
	MethodInformPreviousServiceInfo = "/" + serviceName + "/informPreviousServiceInfo"
	MethodInformCurrentServiceInfo  = "/" + serviceName + "/informCurrentServiceInfo"
	MethodStart                     = "/" + serviceName + "/start"
	MethodStop                      = "/" + serviceName + "/stop"
)

// CommunicateServer is implemented by the coordinator.
// Application failures are reported in the response status, not as errors.
type CommunicateServer interface {
	InformPreviousServiceInfo(context.Context, *InformPreviousServiceInfoRequest) (*InformPreviousServiceInfoResponse, error)
	InformCurrentServiceInfo(context.Context, *InformCurrentServiceInfoRequest) (*InformCurrentServiceInfoResponse, error)
	Start(context.Context, *StartRequest) (*StartResponse, error)
	Stop(context.Context, *StopRequest) (*StopResponse, error)
}

// RegisterCommunicateServer registers srv with a gRPC server.
func RegisterCommunicateServer(s grpc.ServiceRegistrar, srv CommunicateServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the coordinator service to grpc-go.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CommunicateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "informPreviousServiceInfo", Handler: informPreviousHandler},
		{MethodName: "informCurrentServiceInfo", Handler: informCurrentHandler},
		{MethodName: "start", Handler: startHandler},
		{MethodName: "stop", Handler: stopHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "service_coordinator.proto",
}

func informPreviousHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InformPreviousServiceInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(CommunicateServer).InformPreviousServiceInfo(ctx, req.(*InformPreviousServiceInfoRequest))
	}
	return intercept(srv, ctx, in, MethodInformPreviousServiceInfo, interceptor, call)
}

func informCurrentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InformCurrentServiceInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(CommunicateServer).InformCurrentServiceInfo(ctx, req.(*InformCurrentServiceInfoRequest))
	}
	return intercept(srv, ctx, in, MethodInformCurrentServiceInfo, interceptor, call)
}

func startHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StartRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(CommunicateServer).Start(ctx, req.(*StartRequest))
	}
	return intercept(srv, ctx, in, MethodStart, interceptor, call)
}

func stopHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StopRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(CommunicateServer).Stop(ctx, req.(*StopRequest))
	}
	return intercept(srv, ctx, in, MethodStop, interceptor, call)
}

func intercept(srv any, ctx context.Context, in any, method string, interceptor grpc.UnaryServerInterceptor, call grpc.UnaryHandler) (any, error) {
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
	return interceptor(ctx, in, info, call)
}

// CommunicateClient is the calling side of the coordinator service.
type CommunicateClient interface {
	InformPreviousServiceInfo(ctx context.Context, in *InformPreviousServiceInfoRequest, opts ...grpc.CallOption) (*InformPreviousServiceInfoResponse, error)
	InformCurrentServiceInfo(ctx context.Context, in *InformCurrentServiceInfoRequest, opts ...grpc.CallOption) (*InformCurrentServiceInfoResponse, error)
	Start(ctx context.Context, in *StartRequest, opts ...grpc.CallOption) (*StartResponse, error)
	Stop(ctx context.Context, in *StopRequest, opts ...grpc.CallOption) (*StopResponse, error)
}

type communicateClient struct {
	cc grpc.ClientConnInterface
}

// NewCommunicateClient returns a client that sends every call with the JSON codec.
func NewCommunicateClient(cc grpc.ClientConnInterface) CommunicateClient {
	return &communicateClient{cc: cc}
}

func (c *communicateClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *communicateClient) InformPreviousServiceInfo(ctx context.Context, in *InformPreviousServiceInfoRequest, opts ...grpc.CallOption) (*InformPreviousServiceInfoResponse, error) {
	out := new(InformPreviousServiceInfoResponse)
	if err := c.invoke(ctx, MethodInformPreviousServiceInfo, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *communicateClient) InformCurrentServiceInfo(ctx context.Context, in *InformCurrentServiceInfoRequest, opts ...grpc.CallOption) (*InformCurrentServiceInfoResponse, error) {
	out := new(InformCurrentServiceInfoResponse)
	if err := c.invoke(ctx, MethodInformCurrentServiceInfo, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *communicateClient) Start(ctx context.Context, in *StartRequest, opts ...grpc.CallOption) (*StartResponse, error) {
	out := new(StartResponse)
	if err := c.invoke(ctx, MethodStart, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *communicateClient) Stop(ctx context.Context, in *StopRequest, opts ...grpc.CallOption) (*StopResponse, error) {
	out := new(StopResponse)
	if err := c.invoke(ctx, MethodStop, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
