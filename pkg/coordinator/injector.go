package coordinator

import (
	"context"
	"strconv"

	"github.com/ravi-parthasarathy/stagecoord/pkg/argmap"
	"github.com/ravi-parthasarathy/stagecoord/pkg/protocol"
	"github.com/ravi-parthasarathy/stagecoord/pkg/registry"
	"github.com/ravi-parthasarathy/stagecoord/pkg/topology"
)

// Keys set by RuntimeInjector.
const (
	ArgTaskID              = "task_id"
	ArgStageIndex          = "stage_index"
	ArgPreviousStage       = "previous_stage"
	ArgNextStage           = "next_stage"
	ArgPreviousServiceName = "previous_service_name"
	ArgPreviousServiceIP   = "previous_service_ip"
	ArgPreviousServicePort = "previous_service_port"
)

// Injector computes the arguments returned to a stage by inform-current.
// rec is the task record as seen at call time; the stage's submitted args are
// deliberately not an input.
type Injector interface {
	Inject(ctx context.Context, stage protocol.Endpoint, rec registry.Record) (argmap.Map, error)
}

// InjectorFunc adapts a function to the Injector interface.
type InjectorFunc func(ctx context.Context, stage protocol.Endpoint, rec registry.Record) (argmap.Map, error)

func (f InjectorFunc) Inject(ctx context.Context, stage protocol.Endpoint, rec registry.Record) (argmap.Map, error) {
	return f(ctx, stage, rec)
}

// RuntimeInjector hands each stage its configured defaults plus where it sits
// in the pipeline and where its predecessor can be reached.
type RuntimeInjector struct {
	// StageArgs are per-stage defaults keyed by stage name.
	StageArgs map[string]argmap.Map
	// Topology is optional.
	Topology *topology.Topology
}

func (i *RuntimeInjector) Inject(_ context.Context, stage protocol.Endpoint, rec registry.Record) (argmap.Map, error) {
	out := argmap.Map{}
	out.Merge(i.StageArgs[stage.Name])
	out[ArgTaskID] = rec.TaskID

	if rec.Previous != nil {
		out[ArgPreviousServiceName] = rec.Previous.Endpoint.Name
		out[ArgPreviousServiceIP] = rec.Previous.Endpoint.IP
		out[ArgPreviousServicePort] = rec.Previous.Endpoint.Port
	}

	if i.Topology != nil && i.Topology.Contains(stage.Name) {
		out[ArgStageIndex] = strconv.Itoa(i.Topology.Index(stage.Name))
		if p, ok := i.Topology.Predecessor(stage.Name); ok {
			out[ArgPreviousStage] = p
		}
		if n, ok := i.Topology.Successor(stage.Name); ok {
			out[ArgNextStage] = n
		}
	}
	return out, nil
}
