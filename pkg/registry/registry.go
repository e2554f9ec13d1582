// Package registry holds the coordinator's per-task hand-off state.
//
// Each task record has two write-once slots, the predecessor hand-off and the
// stage's own hand-off, and a lifecycle state that only moves forward:
//
//	REGISTERED --(both slots set)--> INFORMED --(start)--> RUNNING --(stop)--> STOPPED
//
// Mutations of one task are serialized by that task's lock; different tasks
// only share the brief map lookup.
package registry

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ravi-parthasarathy/stagecoord/pkg/argmap"
	"github.com/ravi-parthasarathy/stagecoord/pkg/protocol"
)

// HandOff is what a stage reported for one role: where it is and its args.
type HandOff struct {
	Endpoint protocol.Endpoint `json:"endpoint"`
	Args     argmap.Map        `json:"args,omitempty"`
}

// Equal reports whether h and o carry the same endpoint and arguments.
func (h HandOff) Equal(o HandOff) bool {
	return h.Endpoint == o.Endpoint && argmap.Equal(h.Args, o.Args)
}

func (h *HandOff) clone() *HandOff {
	if h == nil {
		return nil
	}
	return &HandOff{Endpoint: h.Endpoint, Args: h.Args.Clone()}
}

// Record is a point-in-time copy of one task's state.
type Record struct {
	TaskID    string    `json:"task_id"`
	Previous  *HandOff  `json:"previous,omitempty"`
	Current   *HandOff  `json:"current,omitempty"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r Record) clone() Record {
	r.Previous = r.Previous.clone()
	r.Current = r.Current.clone()
	return r
}

type task struct {
	mu  sync.Mutex
	rec Record
}

// Registry maps task ids to records.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[string]*task
	now      func() time.Time
	onChange func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithOnChange registers fn to be called after every mutation that changes
// stored state. Rejected calls and identical resubmissions do not call it.
// fn runs on the caller's goroutine and must not block or call back into the
// registry.
func WithOnChange(fn func()) Option {
	return func(r *Registry) { r.onChange = fn }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{tasks: make(map[string]*task), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

func (r *Registry) lookup(taskID string) (*task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[taskID]
	return t, ok
}

func (r *Registry) getOrCreate(taskID string) *task {
	if t, ok := r.lookup(taskID); ok {
		return t
	}
	r.mu.Lock()
	if t, ok := r.tasks[taskID]; ok {
		r.mu.Unlock()
		return t
	}
	now := r.now()
	t := &task{rec: Record{TaskID: taskID, State: StateRegistered, CreatedAt: now, UpdatedAt: now}}
	r.tasks[taskID] = t
	r.mu.Unlock()
	r.changed()
	return t
}

// GetOrCreate returns the record for taskID, creating a REGISTERED one if needed.
func (r *Registry) GetOrCreate(taskID string) Record {
	t := r.getOrCreate(taskID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.clone()
}

// Lookup returns the record for taskID without creating it.
func (r *Registry) Lookup(taskID string) (Record, bool) {
	t, ok := r.lookup(taskID)
	if !ok {
		return Record{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.clone(), true
}

// SetPrevious records the predecessor hand-off for taskID.
func (r *Registry) SetPrevious(taskID string, h HandOff) (Record, error) {
	return r.setHandOff(taskID, "previous", h, func(rec *Record) **HandOff { return &rec.Previous })
}

// SetCurrent records the stage's own hand-off for taskID.
func (r *Registry) SetCurrent(taskID string, h HandOff) (Record, error) {
	return r.setHandOff(taskID, "current", h, func(rec *Record) **HandOff { return &rec.Current })
}

// setHandOff writes a slot once. An identical resubmission succeeds without
// change; a different value is a conflict. Nothing changes once the task runs.
func (r *Registry) setHandOff(taskID, role string, h HandOff, slot func(*Record) **HandOff) (Record, error) {
	t := r.getOrCreate(taskID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rec.State > StateInformed {
		return t.rec.clone(), illegalTransition(taskID, t.rec.State, StateInformed,
			"%s service info cannot be changed once the task is %s", role, t.rec.State)
	}

	p := slot(&t.rec)
	if *p != nil {
		if !(*p).Equal(h) {
			return t.rec.clone(), conflict(taskID, "%s service info already recorded as %s%s, got %s%s",
				role, (*p).Endpoint, formatArgs((*p).Args), h.Endpoint, formatArgs(h.Args))
		}
		return t.rec.clone(), nil
	}

	*p = (&h).clone()
	if t.rec.Previous != nil && t.rec.Current != nil && t.rec.State == StateRegistered {
		t.rec.State = StateInformed
	}
	t.rec.UpdatedAt = r.now()
	r.changed()
	return t.rec.clone(), nil
}

// Transition moves taskID forward to target. Moving to the current state is a
// no-op; moving backwards is rejected.
func (r *Registry) Transition(taskID string, target State) (Record, error) {
	t, ok := r.lookup(taskID)
	if !ok {
		return Record{}, unknownTask(taskID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if target < t.rec.State {
		return t.rec.clone(), illegalTransition(taskID, t.rec.State, target,
			"cannot move from %s back to %s", t.rec.State, target)
	}
	if target != t.rec.State {
		t.rec.State = target
		t.rec.UpdatedAt = r.now()
		r.changed()
	}
	return t.rec.clone(), nil
}

// Advance moves taskID from exactly `from` to `to`.
func (r *Registry) Advance(taskID string, from, to State) (Record, error) {
	t, ok := r.lookup(taskID)
	if !ok {
		return Record{}, unknownTask(taskID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rec.State != from {
		return t.rec.clone(), illegalTransition(taskID, t.rec.State, to,
			"cannot move to %s from %s, task must be %s", to, t.rec.State, from)
	}
	if to < from {
		return t.rec.clone(), illegalTransition(taskID, from, to, "cannot move from %s back to %s", from, to)
	}
	t.rec.State = to
	t.rec.UpdatedAt = r.now()
	r.changed()
	return t.rec.clone(), nil
}

// Reap removes STOPPED tasks not updated within retention and returns their
// ids in sorted order.
func (r *Registry) Reap(retention time.Duration) []string {
	cutoff := r.now().Add(-retention)
	r.mu.Lock()
	var reaped []string
	for id, t := range r.tasks {
		t.mu.Lock()
		expired := t.rec.State == StateStopped && !t.rec.UpdatedAt.After(cutoff)
		t.mu.Unlock()
		if expired {
			delete(r.tasks, id)
			reaped = append(reaped, id)
		}
	}
	r.mu.Unlock()

	if len(reaped) > 0 {
		r.changed()
	}
	slices.Sort(reaped)
	return reaped
}

// Tasks returns copies of all records sorted by task id.
func (r *Registry) Tasks() []Record {
	r.mu.RLock()
	ts := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		ts = append(ts, t)
	}
	r.mu.RUnlock()

	out := make([]Record, 0, len(ts))
	for _, t := range ts {
		t.mu.Lock()
		out = append(out, t.rec.clone())
		t.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.TaskID, b.TaskID) })
	return out
}

// Counts returns the number of tasks in each state.
func (r *Registry) Counts() map[State]int {
	counts := make(map[State]int, len(stateNames))
	for _, s := range States() {
		counts[s] = 0
	}
	for _, rec := range r.Tasks() {
		counts[rec.State]++
	}
	return counts
}

func formatArgs(m argmap.Map) string {
	if len(m) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m))
	for _, p := range m.Pairs() {
		parts = append(parts, p.Key+"="+p.Value)
	}
	return " {" + strings.Join(parts, ", ") + "}"
}
