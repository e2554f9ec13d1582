package protocol

import (
	"context"
	"net"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// Metadata keys carrying the calling stage's identity.
const (
	mdStageName = "x-stage-name"
	mdStageIP   = "x-stage-ip"
	mdStagePort = "x-stage-port"
)

// WithIdentity attaches the calling stage's endpoint to outgoing call metadata.
func WithIdentity(ctx context.Context, self Endpoint) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		mdStageName, self.Name,
		mdStageIP, self.IP,
		mdStagePort, self.Port,
	)
}

// IdentityFromContext returns the caller's endpoint from incoming metadata.
// When the caller sent no IP, the host of the gRPC peer address is used.
func IdentityFromContext(ctx context.Context) Endpoint {
	var ep Endpoint
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ep.Name = first(md.Get(mdStageName))
		ep.IP = first(md.Get(mdStageIP))
		ep.Port = first(md.Get(mdStagePort))
	}
	if ep.IP == "" {
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
				ep.IP = host
			}
		}
	}
	return ep
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
