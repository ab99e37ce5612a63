package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/reflow/internal/store"
)

type payloadAction struct {
	kind    string
	slice   string
	payload any
}

func (a payloadAction) Kind() string  { return a.kind }
func (a payloadAction) Slice() string { return a.slice }
func (a payloadAction) Payload() any  { return a.payload }

func TestLoadReducer_Validation(t *testing.T) {
	h := NewHost()

	if _, err := h.LoadReducer(""); !errors.Is(err, ErrEmptySource) {
		t.Errorf("empty source: got %v, want ErrEmptySource", err)
	}
	if _, err := h.LoadReducer(`local x = 1`); !errors.Is(err, ErrNoReduceFunction) {
		t.Errorf("no reduce: got %v, want ErrNoReduceFunction", err)
	}
	if _, err := h.LoadReducer(`function reduce(state, action`); err == nil {
		t.Error("syntax error accepted")
	}
}

func TestReducer_Counter(t *testing.T) {
	h := NewHost()
	red, err := h.LoadReducer(`
function reduce(state, action)
    if state == nil then
        return 0
    end
    if action.kind == "counter/increment" then
        return state + 1
    end
    return state
end
`)
	if err != nil {
		t.Fatalf("LoadReducer failed: %v", err)
	}

	next, events, err := red(nil, false, payloadAction{kind: "counter/init", slice: "counter"})
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}
	if next != int64(0) {
		t.Errorf("init returned %v (%T), want 0", next, next)
	}
	if len(events) != 0 {
		t.Errorf("init emitted %d events, want 0", len(events))
	}

	next, _, err = red(int64(0), true, payloadAction{kind: "counter/increment", slice: "counter"})
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}
	if next != int64(1) {
		t.Errorf("increment returned %v, want 1", next)
	}
}

func TestReducer_PayloadAndTables(t *testing.T) {
	h := NewHost()
	red, err := h.LoadReducer(`
function reduce(state, action)
    if state == nil then
        state = {entries = {}, count = 0}
    end
    local next = {entries = {}, count = state.count + 1}
    for i, v in ipairs(state.entries) do
        next.entries[i] = v
    end
    next.entries[#next.entries + 1] = action.payload.text
    return next
end
`)
	if err != nil {
		t.Fatalf("LoadReducer failed: %v", err)
	}

	next, _, err := red(nil, false, payloadAction{
		kind:    "log/append",
		slice:   "log",
		payload: map[string]any{"text": "first"},
	})
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}
	next, _, err = red(next, true, payloadAction{
		kind:    "log/append",
		slice:   "log",
		payload: map[string]any{"text": "second"},
	})
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}

	m, ok := next.(map[string]any)
	if !ok {
		t.Fatalf("state is %T, want map", next)
	}
	if m["count"] != int64(2) {
		t.Errorf("count = %v, want 2", m["count"])
	}
	entries, ok := m["entries"].([]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("entries = %v", m["entries"])
	}
	if entries[0] != "first" || entries[1] != "second" {
		t.Errorf("entries = %v", entries)
	}
}

// A table referenced from two places without a cycle must convert in both
// places; only genuinely cyclic references are broken.
func TestReducer_SharedTableRoundTrips(t *testing.T) {
	h := NewHost()
	red, err := h.LoadReducer(`
function reduce(state, action)
    local shared = {x = 1}
    return {a = shared, b = shared}
end
`)
	if err != nil {
		t.Fatalf("LoadReducer failed: %v", err)
	}

	next, _, err := red(nil, false, payloadAction{kind: "pair/init", slice: "pair"})
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}

	m, ok := next.(map[string]any)
	if !ok {
		t.Fatalf("state is %T, want map", next)
	}
	for _, key := range []string{"a", "b"} {
		sub, ok := m[key].(map[string]any)
		if !ok {
			t.Fatalf("%s = %v (%T), want map", key, m[key], m[key])
		}
		if sub["x"] != int64(1) {
			t.Errorf("%s.x = %v, want 1", key, sub["x"])
		}
	}
}

func TestReducer_CyclicTableBroken(t *testing.T) {
	h := NewHost()
	red, err := h.LoadReducer(`
function reduce(state, action)
    local t = {x = 1}
    t.self = t
    return t
end
`)
	if err != nil {
		t.Fatalf("LoadReducer failed: %v", err)
	}

	next, _, err := red(nil, false, payloadAction{kind: "cycle/init", slice: "cycle"})
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}

	m, ok := next.(map[string]any)
	if !ok {
		t.Fatalf("state is %T, want map", next)
	}
	if m["x"] != int64(1) {
		t.Errorf("x = %v, want 1", m["x"])
	}
	if m["self"] != nil {
		t.Errorf("self = %v, want nil (cycle broken)", m["self"])
	}
}

func TestReducer_EmitsEvents(t *testing.T) {
	h := NewHost()
	red, err := h.LoadReducer(`
function reduce(state, action)
    if state == nil then
        return 0
    end
    local next = state + 1
    return next, {{kind = "counter.changed", payload = next}}
end
`)
	if err != nil {
		t.Fatalf("LoadReducer failed: %v", err)
	}

	_, events, err := red(int64(4), true, payloadAction{kind: "counter/increment", slice: "counter"})
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(events))
	}
	if string(events[0].Kind) != "counter.changed" {
		t.Errorf("event kind = %q, want counter.changed", events[0].Kind)
	}
	if events[0].Payload != int64(5) {
		t.Errorf("event payload = %v, want 5", events[0].Payload)
	}
	if events[0].Source != "script:counter" {
		t.Errorf("event source = %q", events[0].Source)
	}
}

func TestReducer_BadEventsRejected(t *testing.T) {
	h := NewHost()
	red, err := h.LoadReducer(`
function reduce(state, action)
    return 1, "not events"
end
`)
	if err != nil {
		t.Fatalf("LoadReducer failed: %v", err)
	}
	if _, _, err := red(nil, false, payloadAction{kind: "x/y", slice: "x"}); !errors.Is(err, ErrBadEvents) {
		t.Errorf("got %v, want ErrBadEvents", err)
	}

	red, err = h.LoadReducer(`
function reduce(state, action)
    return 1, {{kind = "counter..changed"}}
end
`)
	if err != nil {
		t.Fatalf("LoadReducer failed: %v", err)
	}
	if _, _, err := red(nil, false, payloadAction{kind: "x/y", slice: "x"}); !errors.Is(err, ErrBadEvents) {
		t.Errorf("got %v, want ErrBadEvents", err)
	}
}

func TestReducer_RuntimeErrorSurfaces(t *testing.T) {
	h := NewHost()
	red, err := h.LoadReducer(`
function reduce(state, action)
    error("refused")
end
`)
	if err != nil {
		t.Fatalf("LoadReducer failed: %v", err)
	}

	_, _, err = red(nil, false, payloadAction{kind: "x/y", slice: "x"})
	if err == nil {
		t.Fatal("script error did not surface")
	}

	// The state stays usable after a failed call.
	red2, err := h.LoadReducer(`
function reduce(state, action)
    if state == nil then return 1 end
    return state
end
`)
	if err != nil {
		t.Fatalf("LoadReducer failed: %v", err)
	}
	if next, _, err := red2(nil, false, payloadAction{kind: "x/y", slice: "x"}); err != nil || next != int64(1) {
		t.Errorf("follow-up reduce: %v, %v", next, err)
	}
}

func TestReducer_TimeoutBoundsRunawayScript(t *testing.T) {
	h := NewHost(WithCallTimeout(25 * time.Millisecond))
	red, err := h.LoadReducer(`
function reduce(state, action)
    while true do end
end
`)
	if err != nil {
		t.Fatalf("LoadReducer failed: %v", err)
	}

	start := time.Now()
	_, _, err = red(nil, false, payloadAction{kind: "x/y", slice: "x"})
	if err == nil {
		t.Fatal("runaway script returned without error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestSandbox_BlocksEscapes(t *testing.T) {
	h := NewHost()
	scripts := []string{
		`function reduce(s, a) return os.time() end`,
		`function reduce(s, a) return io.open("/etc/passwd") end`,
		`function reduce(s, a) return require("os") end`,
		`function reduce(s, a) return load("return 1")() end`,
		`function reduce(s, a) return dofile("/etc/passwd") end`,
	}
	for _, src := range scripts {
		red, err := h.LoadReducer(src)
		if err != nil {
			t.Fatalf("LoadReducer failed: %v", err)
		}
		if _, _, err := red(nil, false, payloadAction{kind: "x/y", slice: "x"}); err == nil {
			t.Errorf("sandbox escape succeeded: %s", src)
		}
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("counter.lua", `function reduce(s, a) if s == nil then return 0 end return s + 1 end`)
	write("log.lua", `function reduce(s, a) if s == nil then return {} end return s end`)
	write("notes.txt", `not a script`)

	h := NewHost()
	reducers, err := h.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if len(reducers) != 2 {
		t.Fatalf("loaded %d reducers, want 2", len(reducers))
	}
	if _, ok := reducers["counter"]; !ok {
		t.Error("counter reducer missing")
	}
	if _, ok := reducers["log"]; !ok {
		t.Error("log reducer missing")
	}

	// Loaded reducers drive a real store dispatch.
	st := store.New()
	for slice, red := range reducers {
		if err := st.Register(slice, red); err != nil {
			t.Fatalf("Register(%s) failed: %v", slice, err)
		}
	}
	if err := st.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(ctx)
	}()

	if _, err := st.Dispatch(context.Background(), initScriptAction{slice: "counter"}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if _, err := st.Dispatch(context.Background(), payloadAction{kind: "counter/increment", slice: "counter"}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if v, _ := st.Tree().Get("counter"); v != int64(1) {
		t.Errorf("counter = %v, want 1", v)
	}
}

type initScriptAction struct {
	slice string
}

func (a initScriptAction) Kind() string  { return a.slice + "/init" }
func (a initScriptAction) Slice() string { return a.slice }
func (a initScriptAction) InitAction()   {}
