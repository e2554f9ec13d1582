// Package topology describes the fixed, ordered list of stages a task flows through.
package topology

import (
	"fmt"
	"slices"
	"strings"
)

// Topology is a linear pipeline of named stages.
type Topology struct {
	Name   string
	Stages []string
}

// New builds a Topology from an ordered stage list.
func New(name string, stages []string) (*Topology, error) {
	t := &Topology{Name: name, Stages: slices.Clone(stages)}
	if err := ValidateErr(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Index returns the position of stage, or -1.
func (t *Topology) Index(stage string) int {
	return slices.Index(t.Stages, stage)
}

// Contains reports whether stage is part of the pipeline.
func (t *Topology) Contains(stage string) bool {
	return t.Index(stage) >= 0
}

// Predecessor returns the stage before stage. ok is false for the first stage
// and for unknown stages.
func (t *Topology) Predecessor(stage string) (string, bool) {
	i := t.Index(stage)
	if i <= 0 {
		return "", false
	}
	return t.Stages[i-1], true
}

// Successor returns the stage after stage. ok is false for the last stage and
// for unknown stages.
func (t *Topology) Successor(stage string) (string, bool) {
	i := t.Index(stage)
	if i < 0 || i == len(t.Stages)-1 {
		return "", false
	}
	return t.Stages[i+1], true
}

// String renders the pipeline as "name: A -> B -> C".
func (t *Topology) String() string {
	chain := strings.Join(t.Stages, " -> ")
	if t.Name == "" {
		return chain
	}
	return fmt.Sprintf("%s: %s", t.Name, chain)
}
