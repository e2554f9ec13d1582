// Package coordinator implements the server side of the hand-off protocol:
// it validates each operation against the task registry, applies it, and
// reports the outcome as a status code.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ravi-parthasarathy/stagecoord/pkg/argmap"
	"github.com/ravi-parthasarathy/stagecoord/pkg/protocol"
	"github.com/ravi-parthasarathy/stagecoord/pkg/registry"
	"github.com/ravi-parthasarathy/stagecoord/pkg/topology"
)

// Handler implements protocol.CommunicateServer. Application failures are
// always returned as a non-200 status, never as a Go error.
type Handler struct {
	reg      *registry.Registry
	injector Injector
	topo     *topology.Topology
	metrics  *Metrics
}

var _ protocol.CommunicateServer = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithInjector sets the source of inform-current reply arguments.
func WithInjector(i Injector) Option {
	return func(h *Handler) { h.injector = i }
}

// WithTopology makes the handler check each predecessor against the pipeline.
func WithTopology(t *topology.Topology) Option {
	return func(h *Handler) { h.topo = t }
}

// WithMetrics records every operation in m.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a Handler over reg. Without WithInjector, a
// RuntimeInjector using the configured topology is used.
func NewHandler(reg *registry.Registry, opts ...Option) (*Handler, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry must not be nil")
	}
	h := &Handler{reg: reg}
	for _, o := range opts {
		o(h)
	}
	if h.injector == nil {
		h.injector = &RuntimeInjector{Topology: h.topo}
	}
	return h, nil
}

// Registry returns the registry the handler operates on.
func (h *Handler) Registry() *registry.Registry { return h.reg }

func (h *Handler) InformPreviousServiceInfo(ctx context.Context, req *protocol.InformPreviousServiceInfoRequest) (*protocol.InformPreviousServiceInfoResponse, error) {
	start := time.Now()
	caller := protocol.IdentityFromContext(ctx)
	st := h.informPrevious(caller, req)
	h.finish(ctx, OpInformPrevious, req.TaskID, caller, st, start)
	return &protocol.InformPreviousServiceInfoResponse{Response: st}, nil
}

func (h *Handler) informPrevious(caller protocol.Endpoint, req *protocol.InformPreviousServiceInfoRequest) protocol.Status {
	if req.TaskID == "" {
		return protocol.Failure(protocol.StatusInvalidArgument, "taskId is required")
	}
	if req.PreServiceName == "" {
		return protocol.Failure(protocol.StatusInvalidArgument, "preServiceName is required")
	}
	if h.topo != nil && h.topo.Contains(caller.Name) {
		want, ok := h.topo.Predecessor(caller.Name)
		if !ok {
			return protocol.Failure(protocol.StatusInvalidArgument,
				"stage %q is the first stage of the pipeline and has no predecessor", caller.Name)
		}
		if want != req.PreServiceName {
			return protocol.Failure(protocol.StatusInvalidArgument,
				"stage %q follows %q in the pipeline, not %q", caller.Name, want, req.PreServiceName)
		}
	}

	handOff := registry.HandOff{Endpoint: req.Previous(), Args: argmap.FromPairs(req.Args)}
	if _, err := h.reg.SetPrevious(req.TaskID, handOff); err != nil {
		return statusFromError(err)
	}
	return protocol.Success()
}

func (h *Handler) InformCurrentServiceInfo(ctx context.Context, req *protocol.InformCurrentServiceInfoRequest) (*protocol.InformCurrentServiceInfoResponse, error) {
	start := time.Now()
	caller := protocol.IdentityFromContext(ctx)
	injected, st := h.informCurrent(ctx, caller, req)
	h.finish(ctx, OpInformCurrent, req.TaskID, caller, st, start)
	return &protocol.InformCurrentServiceInfoResponse{Response: st, Args: injected.Pairs()}, nil
}

func (h *Handler) informCurrent(ctx context.Context, caller protocol.Endpoint, req *protocol.InformCurrentServiceInfoRequest) (argmap.Map, protocol.Status) {
	if req.TaskID == "" {
		return nil, protocol.Failure(protocol.StatusInvalidArgument, "taskId is required")
	}

	// The reply is computed before the write so a failing injector leaves
	// the registry untouched.
	rec, ok := h.reg.Lookup(req.TaskID)
	if !ok {
		rec = registry.Record{TaskID: req.TaskID, State: registry.StateRegistered}
	}
	injected, err := h.injector.Inject(ctx, caller, rec)
	if err != nil {
		return nil, protocol.Failure(protocol.StatusInternal, "computing arguments for task %q: %v", req.TaskID, err)
	}

	handOff := registry.HandOff{Endpoint: caller, Args: argmap.FromPairs(req.Args)}
	if _, err := h.reg.SetCurrent(req.TaskID, handOff); err != nil {
		return nil, statusFromError(err)
	}
	return injected, protocol.Success()
}

func (h *Handler) Start(ctx context.Context, req *protocol.StartRequest) (*protocol.StartResponse, error) {
	start := time.Now()
	st := h.advance(req.TaskID, registry.StateInformed, registry.StateRunning)
	h.finish(ctx, OpStart, req.TaskID, protocol.IdentityFromContext(ctx), st, start)
	return &protocol.StartResponse{Response: st}, nil
}

func (h *Handler) Stop(ctx context.Context, req *protocol.StopRequest) (*protocol.StopResponse, error) {
	start := time.Now()
	st := h.advance(req.TaskID, registry.StateRunning, registry.StateStopped)
	h.finish(ctx, OpStop, req.TaskID, protocol.IdentityFromContext(ctx), st, start)
	return &protocol.StopResponse{Response: st}, nil
}

func (h *Handler) advance(taskID string, from, to registry.State) protocol.Status {
	if taskID == "" {
		return protocol.Failure(protocol.StatusInvalidArgument, "taskId is required")
	}
	if _, err := h.reg.Advance(taskID, from, to); err != nil {
		return statusFromError(err)
	}
	return protocol.Success()
}

func (h *Handler) finish(ctx context.Context, op, taskID string, caller protocol.Endpoint, st protocol.Status, start time.Time) {
	elapsed := time.Since(start)
	h.metrics.observe(op, st.Code, elapsed)

	attrs := []any{"op", op, "task", taskID, "stage", caller.Name, "code", st.Code}
	if rid := RequestID(ctx); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	if st.OK() {
		slog.Info("operation succeeded", attrs...)
		return
	}
	slog.Warn("operation rejected", append(attrs, "message", st.Message)...)
}

// statusFromError maps registry errors to protocol status codes.
func statusFromError(err error) protocol.Status {
	var (
		ce  *registry.ConflictError
		ite *registry.IllegalTransitionError
		ute *registry.UnknownTaskError
	)
	switch {
	case errors.As(err, &ce):
		return protocol.Failure(protocol.StatusConflict, "%s", ce.Error())
	case errors.As(err, &ite):
		return protocol.Failure(protocol.StatusIllegalTransition, "%s", ite.Error())
	case errors.As(err, &ute):
		return protocol.Failure(protocol.StatusUnknownTask, "%s", ute.Error())
	default:
		return protocol.Failure(protocol.StatusInternal, "%v", err)
	}
}
