package autorun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dshills/reflow/internal/event"
	"github.com/dshills/reflow/internal/state"
	"github.com/dshills/reflow/internal/store"
)

type initAction struct {
	slice string
	value any
}

func (a initAction) Kind() string  { return a.slice + "/init" }
func (a initAction) Slice() string { return a.slice }
func (a initAction) InitAction()   {}

type incrementAction struct {
	slice string
}

func (a incrementAction) Kind() string  { return a.slice + "/increment" }
func (a incrementAction) Slice() string { return a.slice }

func counterReducer(prev any, ok bool, act store.Action) (any, []event.Event, error) {
	if !ok {
		if init, isInit := act.(initAction); isInit {
			return init.value, nil, nil
		}
		return 0, nil, nil
	}
	if _, isInit := act.(initAction); isInit {
		return prev, nil, nil
	}
	return prev.(int) + 1, nil, nil
}

// newTestStore returns a running store with counter reducers on the named
// slices and the engine attached as a commit listener.
func newTestStore(t *testing.T, eng *Engine, slices ...string) *store.Store {
	t.Helper()

	st := store.New()
	for _, slice := range slices {
		if err := st.Register(slice, counterReducer); err != nil {
			t.Fatalf("Register(%q) failed: %v", slice, err)
		}
	}
	st.AddListener(eng)
	if err := st.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return st
}

func mustDispatch(t *testing.T, st *store.Store, act store.Action) {
	t.Helper()
	if _, err := st.Dispatch(context.Background(), act); err != nil {
		t.Fatalf("Dispatch(%s) failed: %v", act.Kind(), err)
	}
}

// closeStore flushes pending commit notifications.
func closeStore(t *testing.T, st *store.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func sliceSelector(slice string) Selector {
	return func(tree *state.Tree) (any, error) {
		v, ok := tree.Get(slice)
		if !ok {
			return nil, errors.New("slice not initialized")
		}
		return v, nil
	}
}

func TestEngine_SubscribeValidation(t *testing.T) {
	eng := NewEngine()

	if _, err := eng.Subscribe(nil, func(context.Context, any) {}); !errors.Is(err, ErrNilSelector) {
		t.Errorf("nil selector: got %v, want ErrNilSelector", err)
	}
	if _, err := eng.Subscribe(sliceSelector("counter"), nil); !errors.Is(err, ErrNilCallback) {
		t.Errorf("nil callback: got %v, want ErrNilCallback", err)
	}

	sub, err := eng.Subscribe(sliceSelector("counter"), func(context.Context, any) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if sub.ID() == "" {
		t.Error("subscription ID is empty")
	}
	if !sub.IsActive() {
		t.Error("new subscription is not active")
	}
	if eng.Count() != 1 {
		t.Errorf("Count = %d, want 1", eng.Count())
	}
}

func TestEngine_FiresOncePerDistinctValue(t *testing.T) {
	eng := NewEngine()

	var mu sync.Mutex
	var seen []any
	_, err := eng.Subscribe(sliceSelector("counter"), func(_ context.Context, v any) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	st := newTestStore(t, eng, "counter", "other")
	mustDispatch(t, st, initAction{slice: "counter", value: 0})
	mustDispatch(t, st, incrementAction{slice: "counter"})
	// Commits on an unrelated slice still reach the engine, but the
	// memoized counter value is unchanged.
	mustDispatch(t, st, initAction{slice: "other", value: 0})
	mustDispatch(t, st, incrementAction{slice: "other"})
	closeStore(t, st)

	mu.Lock()
	defer mu.Unlock()
	want := []any{0, 1}
	if len(seen) != len(want) {
		t.Fatalf("callback fired %d times with %v, want %v", len(seen), seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %v, want %v", i, seen[i], want[i])
		}
	}

	stats := eng.Stats()
	if stats.Fired != 2 {
		t.Errorf("Fired = %d, want 2", stats.Fired)
	}
	if stats.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", stats.Skipped)
	}
}

func TestEngine_WithoutMemoize(t *testing.T) {
	eng := NewEngine()

	var mu sync.Mutex
	fired := 0
	_, err := eng.Subscribe(sliceSelector("counter"), func(context.Context, any) {
		mu.Lock()
		fired++
		mu.Unlock()
	}, WithoutMemoize())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	st := newTestStore(t, eng, "counter", "other")
	mustDispatch(t, st, initAction{slice: "counter", value: 0})
	mustDispatch(t, st, initAction{slice: "other", value: 0})
	mustDispatch(t, st, incrementAction{slice: "other"})
	closeStore(t, st)

	mu.Lock()
	defer mu.Unlock()
	if fired != 3 {
		t.Errorf("callback fired %d times, want 3 (every commit)", fired)
	}
}

func TestEngine_DefaultValueOnSelectorFailure(t *testing.T) {
	eng := NewEngine()

	var mu sync.Mutex
	var seen []any
	_, err := eng.Subscribe(sliceSelector("counter"), func(_ context.Context, v any) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	}, WithDefaultValue(-1))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	st := newTestStore(t, eng, "counter", "other")
	// The counter slice is not initialized yet, so the selector fails and
	// the default is substituted.
	mustDispatch(t, st, initAction{slice: "other", value: 0})
	mustDispatch(t, st, initAction{slice: "counter", value: 7})
	closeStore(t, st)

	mu.Lock()
	defer mu.Unlock()
	want := []any{-1, 7}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %v, want %v", i, seen[i], want[i])
		}
	}

	if faults := eng.Stats().Faults; faults != 0 {
		t.Errorf("Faults = %d, want 0 (default absorbed the failure)", faults)
	}
}

func TestEngine_FaultIsolation(t *testing.T) {
	eng := NewEngine()

	panicking := func(*state.Tree) (any, error) {
		panic("selector boom")
	}
	if _, err := eng.Subscribe(panicking, func(context.Context, any) {
		t.Error("callback ran for a panicking selector")
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	var mu sync.Mutex
	fired := 0
	if _, err := eng.Subscribe(sliceSelector("counter"), func(context.Context, any) {
		mu.Lock()
		fired++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	st := newTestStore(t, eng, "counter")
	mustDispatch(t, st, initAction{slice: "counter", value: 0})
	mustDispatch(t, st, incrementAction{slice: "counter"})
	closeStore(t, st)

	mu.Lock()
	defer mu.Unlock()
	if fired != 2 {
		t.Errorf("healthy subscription fired %d times, want 2", fired)
	}
	if faults := eng.Stats().Faults; faults != 2 {
		t.Errorf("Faults = %d, want 2", faults)
	}
}

func TestEngine_CallbackPanicRecovered(t *testing.T) {
	eng := NewEngine()

	if _, err := eng.Subscribe(sliceSelector("counter"), func(context.Context, any) {
		panic("callback boom")
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	st := newTestStore(t, eng, "counter")
	mustDispatch(t, st, initAction{slice: "counter", value: 0})
	closeStore(t, st)

	stats := eng.Stats()
	if stats.Fired != 1 {
		t.Errorf("Fired = %d, want 1", stats.Fired)
	}
	if stats.Faults != 1 {
		t.Errorf("Faults = %d, want 1", stats.Faults)
	}
}

func TestEngine_Release(t *testing.T) {
	eng := NewEngine()

	var mu sync.Mutex
	fired := 0
	sub, err := eng.Subscribe(sliceSelector("counter"), func(context.Context, any) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	st := newTestStore(t, eng, "counter")
	mustDispatch(t, st, initAction{slice: "counter", value: 0})
	closeStore(t, st)

	sub.Release()
	if sub.IsActive() {
		t.Error("subscription still active after Release")
	}
	sub.Release() // idempotent

	// A fresh store commit after release must not fire the callback.
	st2 := newTestStore(t, eng, "counter")
	mustDispatch(t, st2, initAction{slice: "counter", value: 9})
	closeStore(t, st2)

	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1 (none after release)", fired)
	}
	if eng.Count() != 0 {
		t.Errorf("Count = %d, want 0 after release", eng.Count())
	}
}

func TestEngine_RegistrationOrder(t *testing.T) {
	eng := NewEngine()

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		if _, err := eng.Subscribe(sliceSelector("counter"), func(context.Context, any) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	st := newTestStore(t, eng, "counter")
	mustDispatch(t, st, initAction{slice: "counter", value: 0})
	closeStore(t, st)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

// collectRunner records submitted tasks without running them.
type collectRunner struct {
	mu    sync.Mutex
	tasks []func(ctx context.Context) error
	deny  error
}

func (r *collectRunner) Submit(task func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deny != nil {
		return r.deny
	}
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *collectRunner) run() {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.mu.Unlock()
	for _, task := range tasks {
		_ = task(context.Background())
	}
}

func TestEngine_RunnerRoutesCallback(t *testing.T) {
	eng := NewEngine()
	runner := &collectRunner{}

	var mu sync.Mutex
	var seen []any
	if _, err := eng.Subscribe(sliceSelector("counter"), func(_ context.Context, v any) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	}, WithRunner(runner), WithOwner("svc.counter")); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	st := newTestStore(t, eng, "counter")
	mustDispatch(t, st, initAction{slice: "counter", value: 3})
	closeStore(t, st)

	mu.Lock()
	if len(seen) != 0 {
		t.Errorf("callback ran before the runner executed its task: %v", seen)
	}
	mu.Unlock()

	runner.run()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != 3 {
		t.Errorf("seen = %v, want [3]", seen)
	}
}

func TestEngine_RunnerRefusal(t *testing.T) {
	eng := NewEngine()
	runner := &collectRunner{deny: errors.New("queue full")}

	if _, err := eng.Subscribe(sliceSelector("counter"), func(context.Context, any) {
		t.Error("callback ran despite runner refusal")
	}, WithRunner(runner)); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	st := newTestStore(t, eng, "counter")
	mustDispatch(t, st, initAction{slice: "counter", value: 0})
	closeStore(t, st)

	if faults := eng.Stats().Faults; faults != 1 {
		t.Errorf("Faults = %d, want 1", faults)
	}
}

// A value whose delivery the runner refused is retried on the next commit
// rather than skipped by memoization.
func TestEngine_RunnerRefusalRetriesValue(t *testing.T) {
	eng := NewEngine()
	runner := &collectRunner{deny: errors.New("queue full")}

	var mu sync.Mutex
	var seen []any
	if _, err := eng.Subscribe(sliceSelector("counter"), func(_ context.Context, v any) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	}, WithRunner(runner)); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	st := newTestStore(t, eng, "counter", "other")
	mustDispatch(t, st, initAction{slice: "counter", value: 5})

	deadline := time.Now().Add(2 * time.Second)
	for eng.Stats().Faults == 0 {
		if time.Now().After(deadline) {
			t.Fatal("refusal was never recorded")
		}
		time.Sleep(time.Millisecond)
	}

	runner.mu.Lock()
	runner.deny = nil
	runner.mu.Unlock()

	// An unrelated commit re-evaluates the subscription; the refused value
	// must fire now even though it is unchanged.
	mustDispatch(t, st, initAction{slice: "other", value: 0})
	mustDispatch(t, st, incrementAction{slice: "other"})
	closeStore(t, st)
	runner.run()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != 5 {
		t.Fatalf("callback values = %v, want [5]", seen)
	}
	if fired := eng.Stats().Fired; fired != 1 {
		t.Errorf("Fired = %d, want 1", fired)
	}
}
