package registry_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ravi-parthasarathy/stagecoord/pkg/argmap"
	"github.com/ravi-parthasarathy/stagecoord/pkg/protocol"
	"github.com/ravi-parthasarathy/stagecoord/pkg/registry"
)

var (
	stageA = protocol.Endpoint{Name: "A", IP: "10.0.0.1", Port: "9000"}
	stageB = protocol.Endpoint{Name: "B", IP: "10.0.0.2", Port: "9001"}
)

func informed(t *testing.T, reg *registry.Registry, taskID string) {
	t.Helper()
	if _, err := reg.SetPrevious(taskID, registry.HandOff{Endpoint: stageA}); err != nil {
		t.Fatalf("SetPrevious: %v", err)
	}
	if _, err := reg.SetCurrent(taskID, registry.HandOff{Endpoint: stageB, Args: argmap.Map{"version": "1"}}); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ─── Write-once slots ─────────────────────────────────────────────────────────

func TestGetOrCreate_NewRecordIsRegistered(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	rec := reg.GetOrCreate("t1")
	if rec.State != registry.StateRegistered {
		t.Errorf("state = %s, want REGISTERED", rec.State)
	}
	if rec.Previous != nil || rec.Current != nil {
		t.Error("new record should have no hand-off info")
	}
	if _, ok := reg.Lookup("t1"); !ok {
		t.Error("record not stored")
	}
	if _, ok := reg.Lookup("other"); ok {
		t.Error("Lookup must not create records")
	}
}

func TestSetPrevious_IdempotentResubmission(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	h := registry.HandOff{Endpoint: stageA, Args: argmap.Map{"k": "v"}}
	first, err := reg.SetPrevious("t1", h)
	if err != nil {
		t.Fatalf("first SetPrevious: %v", err)
	}
	second, err := reg.SetPrevious("t1", registry.HandOff{Endpoint: stageA, Args: argmap.Map{"k": "v"}})
	if err != nil {
		t.Fatalf("identical SetPrevious: %v", err)
	}
	if !second.Previous.Equal(*first.Previous) {
		t.Errorf("previous changed: %+v -> %+v", first.Previous, second.Previous)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("identical resubmission should not touch the record")
	}
}

func TestSetPrevious_DifferentEndpointConflicts(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	if _, err := reg.SetPrevious("t1", registry.HandOff{Endpoint: stageA}); err != nil {
		t.Fatalf("SetPrevious: %v", err)
	}
	other := stageA
	other.Port = "9999"
	_, err := reg.SetPrevious("t1", registry.HandOff{Endpoint: other})
	var ce *registry.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if ce.TaskID != "t1" {
		t.Errorf("TaskID = %q", ce.TaskID)
	}
	rec, _ := reg.Lookup("t1")
	if rec.Previous.Endpoint != stageA {
		t.Errorf("rejected write changed previous to %v", rec.Previous.Endpoint)
	}
}

func TestSetCurrent_DifferentArgsConflict(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	if _, err := reg.SetCurrent("t1", registry.HandOff{Endpoint: stageB, Args: argmap.Map{"version": "1"}}); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	_, err := reg.SetCurrent("t1", registry.HandOff{Endpoint: stageB, Args: argmap.Map{"version": "2"}})
	var ce *registry.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestSetHandOff_StoredArgsAreCopied(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	args := argmap.Map{"k": "v"}
	if _, err := reg.SetCurrent("t1", registry.HandOff{Endpoint: stageB, Args: args}); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	args["k"] = "mutated"
	rec, _ := reg.Lookup("t1")
	if rec.Current.Args["k"] != "v" {
		t.Errorf("registry shares caller's map: %q", rec.Current.Args["k"])
	}
	rec.Current.Args["k"] = "mutated-again"
	again, _ := reg.Lookup("t1")
	if again.Current.Args["k"] != "v" {
		t.Errorf("registry shares returned map: %q", again.Current.Args["k"])
	}
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

func TestInformed_RequiresBothSlots(t *testing.T) {
	t.Parallel()
	for _, order := range []string{"previous-first", "current-first"} {
		t.Run(order, func(t *testing.T) {
			reg := registry.New()
			setPrev := func() (registry.Record, error) { return reg.SetPrevious("t1", registry.HandOff{Endpoint: stageA}) }
			setCur := func() (registry.Record, error) { return reg.SetCurrent("t1", registry.HandOff{Endpoint: stageB}) }
			first, second := setPrev, setCur
			if order == "current-first" {
				first, second = setCur, setPrev
			}
			rec, err := first()
			if err != nil {
				t.Fatalf("first: %v", err)
			}
			if rec.State != registry.StateRegistered {
				t.Errorf("after one slot: state = %s, want REGISTERED", rec.State)
			}
			rec, err = second()
			if err != nil {
				t.Fatalf("second: %v", err)
			}
			if rec.State != registry.StateInformed {
				t.Errorf("after both slots: state = %s, want INFORMED", rec.State)
			}
		})
	}
}

func TestSetHandOff_RejectedOnceRunning(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	informed(t, reg, "t1")
	if _, err := reg.Advance("t1", registry.StateInformed, registry.StateRunning); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	_, err := reg.SetPrevious("t1", registry.HandOff{Endpoint: stageA})
	var ite *registry.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if ite.From != registry.StateRunning {
		t.Errorf("From = %s, want RUNNING", ite.From)
	}
}

func TestTransition_ForwardOnly(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	reg.GetOrCreate("t1")
	if _, err := reg.Transition("t1", registry.StateRunning); err != nil {
		t.Fatalf("forward transition: %v", err)
	}
	if _, err := reg.Transition("t1", registry.StateRunning); err != nil {
		t.Errorf("same-state transition should be a no-op, got %v", err)
	}
	_, err := reg.Transition("t1", registry.StateRegistered)
	var ite *registry.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	rec, _ := reg.Lookup("t1")
	if rec.State != registry.StateRunning {
		t.Errorf("state = %s after rejected transition, want RUNNING", rec.State)
	}
}

func TestTransition_UnknownTask(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	_, err := reg.Transition("ghost", registry.StateRunning)
	var ute *registry.UnknownTaskError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnknownTaskError, got %v", err)
	}
	if _, ok := reg.Lookup("ghost"); ok {
		t.Error("Transition must not create records")
	}
}

func TestAdvance_CompareAndSet(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	reg.GetOrCreate("t1")

	_, err := reg.Advance("t1", registry.StateInformed, registry.StateRunning)
	var ite *registry.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("start before informed: expected IllegalTransitionError, got %v", err)
	}

	informed(t, reg, "t1")
	if _, err := reg.Advance("t1", registry.StateInformed, registry.StateRunning); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := reg.Advance("t1", registry.StateInformed, registry.StateRunning); !errors.As(err, &ite) {
		t.Fatalf("repeated start: expected IllegalTransitionError, got %v", err)
	}
	if _, err := reg.Advance("t1", registry.StateRunning, registry.StateStopped); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := reg.Advance("t1", registry.StateRunning, registry.StateStopped); !errors.As(err, &ite) {
		t.Fatalf("repeated stop: expected IllegalTransitionError, got %v", err)
	}
}

func TestStateText(t *testing.T) {
	t.Parallel()
	for _, s := range registry.States() {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", s, err)
		}
		var got registry.State
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", b, err)
		}
		if got != s {
			t.Errorf("round trip %s -> %s", s, got)
		}
	}
	var s registry.State
	if err := s.UnmarshalText([]byte("PAUSED")); err == nil {
		t.Error("expected error for unknown state name")
	}
}

// ─── Concurrency ──────────────────────────────────────────────────────────────

func TestConcurrentSameTask_ExactlyOneWriteWins(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	const writers = 32

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := registry.HandOff{Endpoint: stageB, Args: argmap.Map{"writer": fmt.Sprint(i)}}
			_, err := reg.SetCurrent("shared", h)
			mu.Lock()
			defer mu.Unlock()
			var ce *registry.ConflictError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &ce):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != writers-1 {
		t.Errorf("successes = %d, conflicts = %d; want 1 and %d", successes, conflicts, writers-1)
	}
	rec, _ := reg.Lookup("shared")
	if rec.Current == nil || len(rec.Current.Args) != 1 {
		t.Errorf("half-written record: %+v", rec.Current)
	}
}

func TestConcurrentDistinctTasks(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	const tasks = 64

	var wg sync.WaitGroup
	for i := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("task-%d", i)
			if _, err := reg.SetPrevious(id, registry.HandOff{Endpoint: stageA}); err != nil {
				t.Errorf("%s SetPrevious: %v", id, err)
			}
			if _, err := reg.SetCurrent(id, registry.HandOff{Endpoint: stageB}); err != nil {
				t.Errorf("%s SetCurrent: %v", id, err)
			}
		}()
	}
	wg.Wait()

	counts := reg.Counts()
	if counts[registry.StateInformed] != tasks {
		t.Errorf("informed = %d, want %d", counts[registry.StateInformed], tasks)
	}
}

// ─── Housekeeping ─────────────────────────────────────────────────────────────

func TestReap_OnlyOldStoppedTasks(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := registry.New(registry.WithClock(clock.Now))

	for _, id := range []string{"old", "running"} {
		informed(t, reg, id)
		if _, err := reg.Advance(id, registry.StateInformed, registry.StateRunning); err != nil {
			t.Fatalf("%s start: %v", id, err)
		}
	}
	if _, err := reg.Advance("old", registry.StateRunning, registry.StateStopped); err != nil {
		t.Fatalf("stop: %v", err)
	}
	clock.Advance(10 * time.Minute)

	informed(t, reg, "fresh")
	if _, err := reg.Transition("fresh", registry.StateStopped); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	reaped := reg.Reap(5 * time.Minute)
	if len(reaped) != 1 || reaped[0] != "old" {
		t.Fatalf("reaped = %v, want [old]", reaped)
	}
	if _, ok := reg.Lookup("old"); ok {
		t.Error("old task still present")
	}
	for _, id := range []string{"running", "fresh"} {
		if _, ok := reg.Lookup(id); !ok {
			t.Errorf("%s was reaped", id)
		}
	}
}

func TestOnChange_OnlyOnRealChanges(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	changes := 0
	reg := registry.New(registry.WithOnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	}))
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return changes
	}
	step := func(what string, want int) {
		t.Helper()
		if got := count(); got != want {
			t.Errorf("after %s: changes = %d, want %d", what, got, want)
		}
	}

	prev := registry.HandOff{Endpoint: stageA, Args: argmap.Map{"k": "v"}}
	if _, err := reg.SetPrevious("t1", prev); err != nil {
		t.Fatal(err)
	}
	step("first SetPrevious (create + write)", 2)

	if _, err := reg.SetPrevious("t1", prev); err != nil {
		t.Fatal(err)
	}
	step("identical SetPrevious", 2)

	if _, err := reg.SetPrevious("t1", registry.HandOff{Endpoint: stageB}); err == nil {
		t.Fatal("expected conflict")
	}
	step("conflicting SetPrevious", 2)

	if _, err := reg.SetCurrent("t1", registry.HandOff{Endpoint: stageB}); err != nil {
		t.Fatal(err)
	}
	step("SetCurrent", 3)

	if _, err := reg.Transition("t1", registry.StateInformed); err != nil {
		t.Fatal(err)
	}
	step("Transition to current state", 3)

	if _, err := reg.Advance("t1", registry.StateRunning, registry.StateStopped); err == nil {
		t.Fatal("expected illegal transition")
	}
	step("rejected Advance", 3)

	if _, err := reg.Advance("t1", registry.StateInformed, registry.StateRunning); err != nil {
		t.Fatal(err)
	}
	step("Advance", 4)

	if ids := reg.Reap(time.Hour); len(ids) != 0 {
		t.Fatalf("reaped %v", ids)
	}
	step("empty Reap", 4)
}

// ─── Snapshot ─────────────────────────────────────────────────────────────────

func TestSnapshot_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")

	reg := registry.New()
	informed(t, reg, "t1")
	if _, err := reg.Advance("t1", registry.StateInformed, registry.StateRunning); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	reg.GetOrCreate("t2")
	if err := reg.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	restored := registry.New()
	if err := restored.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	got := restored.Tasks()
	if len(got) != 2 {
		t.Fatalf("tasks = %d, want 2", len(got))
	}
	if got[0].TaskID != "t1" || got[0].State != registry.StateRunning {
		t.Errorf("t1 = %+v", got[0])
	}
	if got[0].Current == nil || got[0].Current.Args["version"] != "1" {
		t.Errorf("t1 current = %+v", got[0].Current)
	}
	if got[0].Previous == nil || got[0].Previous.Endpoint != stageA {
		t.Errorf("t1 previous = %+v", got[0].Previous)
	}
	if got[1].State != registry.StateRegistered {
		t.Errorf("t2 state = %s", got[1].State)
	}

	// The restored registry keeps enforcing the lifecycle.
	if _, err := restored.Advance("t1", registry.StateRunning, registry.StateStopped); err != nil {
		t.Errorf("stop after restore: %v", err)
	}
}

func TestLoadSnapshot_MissingFile(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	if err := reg.LoadSnapshot(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Errorf("missing snapshot should not fail: %v", err)
	}
}

func TestLoadSnapshot_Corrupt(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := registry.New().LoadSnapshot(path); err == nil {
		t.Error("expected error for corrupt snapshot")
	}
}
