package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/reflow/internal/event"
	"github.com/dshills/reflow/internal/event/kind"
	"github.com/dshills/reflow/internal/store"
)

// DefaultCallTimeout bounds one scripted reducer call.
const DefaultCallTimeout = 100 * time.Millisecond

// Host compiles Lua sources into store reducers.
type Host struct {
	timeout time.Duration
}

// Option configures a Host.
type Option func(*Host)

// WithCallTimeout bounds each reducer call.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHost creates a script host.
func NewHost(opts ...Option) *Host {
	h := &Host{timeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LoadReducer compiles source and returns a reducer backed by its reduce
// function. The returned reducer owns a private Lua state; the store's
// dispatch serialization plus an internal mutex keep it single-threaded.
func (h *Host) LoadReducer(source string) (store.Reducer, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptySource
	}

	L := lua.NewState()
	sandbox(L)

	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("compile script: %w", err)
	}
	if _, ok := L.GetGlobal("reduce").(*lua.LFunction); !ok {
		L.Close()
		return nil, ErrNoReduceFunction
	}

	r := &reducer{host: h, state: L}
	return r.reduce, nil
}

// LoadReducerFile compiles the script at path.
func (h *Host) LoadReducerFile(path string) (store.Reducer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	red, err := h.LoadReducer(string(data))
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", path, err)
	}
	return red, nil
}

// LoadDir compiles every .lua file in dir. The file base name is the
// slice the reducer serves: counter.lua reduces the "counter" slice.
func (h *Host) LoadDir(dir string) (map[string]store.Reducer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read script directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	reducers := make(map[string]store.Reducer, len(names))
	for _, name := range names {
		red, err := h.LoadReducerFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		reducers[strings.TrimSuffix(name, ".lua")] = red
	}
	return reducers, nil
}

// sandbox removes primitives that reach outside the script: file and
// process access, module loading, and raw code loading.
func sandbox(L *lua.LState) {
	for _, name := range []string{
		"dofile",
		"loadfile",
		"load",
		"loadstring",
		"require",
		"collectgarbage",
		"os",
		"io",
		"debug",
		"package",
		"print",
	} {
		L.SetGlobal(name, lua.LNil)
	}
}

// reducer is one compiled script and its private Lua state.
type reducer struct {
	host  *Host
	state *lua.LState
	mu    sync.Mutex
}

// reduce implements store.Reducer.
func (r *reducer) reduce(prev any, ok bool, act store.Action) (any, []event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	L := r.state
	ctx, cancel := context.WithTimeout(context.Background(), r.host.timeout)
	defer cancel()
	L.SetContext(ctx)
	defer L.RemoveContext()

	stateVal := lua.LValue(lua.LNil)
	if ok {
		stateVal = toLua(L, prev)
	}

	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("reduce"),
		NRet:    2,
		Protect: true,
	}, stateVal, actionTable(L, act, ok)); err != nil {
		return nil, nil, fmt.Errorf("script reduce %q: %w", act.Kind(), err)
	}

	rawEvents := L.Get(-1)
	rawNext := L.Get(-2)
	L.Pop(2)

	events, err := decodeEvents(rawEvents, act)
	if err != nil {
		return nil, nil, err
	}
	return toGo(rawNext), events, nil
}

// actionTable builds the Lua view of an action.
func actionTable(L *lua.LState, act store.Action, initialized bool) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("kind", lua.LString(act.Kind()))
	t.RawSetString("slice", lua.LString(act.Slice()))
	t.RawSetString("initialized", lua.LBool(initialized))
	if p, ok := act.(store.Payloader); ok {
		t.RawSetString("payload", toLua(L, p.Payload()))
	}
	return t
}

// decodeEvents converts the optional second return value into events.
func decodeEvents(lv lua.LValue, act store.Action) ([]event.Event, error) {
	if lv == lua.LNil {
		return nil, nil
	}
	table, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: second return is %s", ErrBadEvents, lv.Type())
	}

	var events []event.Event
	var bad error
	table.ForEach(func(_, entry lua.LValue) {
		if bad != nil {
			return
		}
		et, ok := entry.(*lua.LTable)
		if !ok {
			bad = fmt.Errorf("%w: event entry is %s", ErrBadEvents, entry.Type())
			return
		}
		k, ok := et.RawGetString("kind").(lua.LString)
		if !ok || !kind.Kind(k).IsValid() {
			bad = fmt.Errorf("%w: event kind %q", ErrBadEvents, et.RawGetString("kind").String())
			return
		}
		events = append(events, event.New(kind.Kind(k), toGo(et.RawGetString("payload")), "script:"+act.Slice()))
	})
	if bad != nil {
		return nil, bad
	}
	return events, nil
}
