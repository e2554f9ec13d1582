// Package stage is the client a pipeline stage uses to hand a task off
// through the coordinator.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/ravi-parthasarathy/stagecoord/pkg/argmap"
	"github.com/ravi-parthasarathy/stagecoord/pkg/protocol"
)

// Operation names used in errors and logs.
const (
	OpInformPrevious = "inform-previous"
	OpInformCurrent  = "inform-current"
	OpStart          = "start"
	OpStop           = "stop"
)

// Client calls the coordinator on behalf of one stage instance.
// It is safe for concurrent use.
type Client struct {
	self protocol.Endpoint
	rpc  protocol.CommunicateClient
	conn *grpc.ClientConn
}

// Dial connects to the coordinator at target ("host:port"). Without dial
// options the connection is unencrypted.
func Dial(target string, self protocol.Endpoint, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial coordinator %s: %w", target, err)
	}
	c := NewClient(conn, self)
	c.conn = conn
	slog.Debug("stage client initialized", "coordinator", target, "stage", self.String())
	return c, nil
}

// NewClient wraps an existing connection. Close does not close cc.
func NewClient(cc grpc.ClientConnInterface, self protocol.Endpoint) *Client {
	return &Client{self: self, rpc: protocol.NewCommunicateClient(cc)}
}

// Close releases the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Identity returns the endpoint this client reports as its own.
func (c *Client) Identity() protocol.Endpoint { return c.self }

func (c *Client) outgoing(ctx context.Context) context.Context {
	return protocol.WithIdentity(ctx, c.self)
}

// InformPreviousServiceInfo tells the coordinator which stage precedes this one
// for taskID and what it produced.
func (c *Client) InformPreviousServiceInfo(ctx context.Context, taskID string, prev protocol.Endpoint, args argmap.Map) error {
	resp, err := c.rpc.InformPreviousServiceInfo(c.outgoing(ctx), &protocol.InformPreviousServiceInfoRequest{
		TaskID:         taskID,
		PreServiceName: prev.Name,
		PreServiceIP:   prev.IP,
		PreServicePort: prev.Port,
		Args:           args.Pairs(),
	})
	if err != nil {
		return c.failed(OpInformPrevious, taskID, &prev, err)
	}
	if !resp.Response.OK() {
		return c.rejected(OpInformPrevious, taskID, &prev, resp.Response)
	}
	slog.Info("informed previous service info", "task", taskID, "previous", prev.String())
	return nil
}

// InformCurrentServiceInfo reports this stage's own info for taskID and returns
// the arguments the coordinator computed for it. The map is never nil on success.
func (c *Client) InformCurrentServiceInfo(ctx context.Context, taskID string, args argmap.Map) (argmap.Map, error) {
	resp, err := c.rpc.InformCurrentServiceInfo(c.outgoing(ctx), &protocol.InformCurrentServiceInfoRequest{
		TaskID: taskID,
		Args:   args.Pairs(),
	})
	if err != nil {
		return nil, c.failed(OpInformCurrent, taskID, nil, err)
	}
	if !resp.Response.OK() {
		return nil, c.rejected(OpInformCurrent, taskID, nil, resp.Response)
	}
	slog.Info("informed current service info", "task", taskID, "args", len(resp.Args))
	return argmap.FromPairs(resp.Args), nil
}

// Start asks the coordinator to move taskID to RUNNING.
func (c *Client) Start(ctx context.Context, taskID string) error {
	resp, err := c.rpc.Start(c.outgoing(ctx), &protocol.StartRequest{TaskID: taskID})
	if err != nil {
		return c.failed(OpStart, taskID, nil, err)
	}
	if !resp.Response.OK() {
		return c.rejected(OpStart, taskID, nil, resp.Response)
	}
	slog.Info("started task", "task", taskID)
	return nil
}

// Stop asks the coordinator to move taskID to STOPPED.
func (c *Client) Stop(ctx context.Context, taskID string) error {
	resp, err := c.rpc.Stop(c.outgoing(ctx), &protocol.StopRequest{TaskID: taskID})
	if err != nil {
		return c.failed(OpStop, taskID, nil, err)
	}
	if !resp.Response.OK() {
		return c.rejected(OpStop, taskID, nil, resp.Response)
	}
	slog.Info("stopped task", "task", taskID)
	return nil
}

// failed classifies a call error. Only an unreachable coordinator, a dropped
// connection or an expired deadline is a TransportError; any other gRPC
// failure was produced by the coordinator and is reported as an INTERNAL
// ProtocolError.
func (c *Client) failed(op, taskID string, prev *protocol.Endpoint, err error) error {
	if isTransport(err) {
		return &TransportError{Op: op, TaskID: taskID, Cause: err}
	}
	st := status.Convert(err)
	pe := c.rejected(op, taskID, prev,
		protocol.Failure(protocol.StatusInternal, "coordinator failed the call (%s): %s", st.Code(), st.Message()))
	pe.Cause = err
	return pe
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return true
	}
	return false
}

func (c *Client) rejected(op, taskID string, prev *protocol.Endpoint, st protocol.Status) *ProtocolError {
	return &ProtocolError{
		Op:       op,
		TaskID:   taskID,
		Self:     c.self,
		Previous: prev,
		Code:     st.Code,
		Message:  st.Message,
	}
}
