package script

import (
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts a Go value in the generic JSON shape to a Lua value.
// Values outside that shape go through a JSON round trip first, so typed
// structs a Go reducer seeded can still reach a script.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	default:
		generic, err := toGeneric(v)
		if err != nil {
			return lua.LNil
		}
		return toLua(L, generic)
	}
}

// toGeneric reshapes an arbitrary Go value into the generic JSON shape.
func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value does not cross the script boundary: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// toGo converts a Lua value back to Go. Number results that are integral
// come back as int64, matching what scripts usually mean by counters and
// indexes.
func toGo(lv lua.LValue) any {
	return toGoSeen(lv, make(map[*lua.LTable]bool))
}

func toGoSeen(lv lua.LValue, seen map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case *lua.LNilType, nil:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		// seen tracks only the current recursion path: a table on the
		// path means a cycle, but a table referenced from two siblings
		// converts normally each time.
		if seen[v] {
			return nil
		}
		seen[v] = true
		out := tableToGo(v, seen)
		delete(seen, v)
		return out
	default:
		return nil
	}
}

// tableToGo converts a table to []any when its keys are the contiguous
// integers 1..n, and to map[string]any otherwise.
func tableToGo(t *lua.LTable, seen map[*lua.LTable]bool) any {
	maxN := 0
	count := 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		kn, ok := k.(lua.LNumber)
		if !ok || float64(kn) != float64(int(kn)) || int(kn) < 1 {
			isArray = false
			return
		}
		if int(kn) > maxN {
			maxN = int(kn)
		}
	})

	if isArray && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = toGoSeen(t.RawGetInt(i), seen)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = toGoSeen(v, seen)
	})
	return m
}
