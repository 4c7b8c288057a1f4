//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerZWaveModule registers the `zwave` global table in a Lua state.
func registerZWaveModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return zwaveOn(L, vm)
	}))

	mod.RawSetString("set_value", L.NewFunction(func(L *lua.LState) int {
		return zwaveSetValue(L, e)
	}))

	mod.RawSetString("get_value", L.NewFunction(func(L *lua.LState) int {
		return zwaveGetValue(L, e)
	}))

	mod.RawSetString("nodes", L.NewFunction(func(L *lua.LState) int {
		return zwaveNodes(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return zwaveAfter(L, vm, e)
	}))

	mod.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
		return zwaveLog(L, e)
	}))

	L.SetGlobal("zwave", mod)
}

const maxHandlersPerScript = 100

// zwave.on(type, filter, callback)
// filter is a table with optional node_id and label keys.
func zwaveOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filterTable := L.CheckTable(2)
	fn := L.CheckFunction(3)

	h := luaEventHandler{
		eventType: eventType,
		fn:        fn,
	}

	if v := filterTable.RawGetString("node_id"); v != lua.LNil {
		if n, ok := v.(lua.LNumber); ok {
			h.nodeID = int(n)
		}
	}
	if v := filterTable.RawGetString("label"); v != lua.LNil {
		h.label = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// zwave.set_value(node_id, label, target)
// target is an option label for list values or a number for byte values.
func zwaveSetValue(L *lua.LState, e *Engine) int {
	nodeID := L.CheckInt(1)
	label := L.CheckString(2)

	if nodeID < 1 || nodeID > 232 {
		L.ArgError(1, "node id must be 1-232")
		return 0
	}

	var target string
	switch v := L.Get(3).(type) {
	case lua.LString:
		target = string(v)
	case lua.LNumber:
		target = strconv.Itoa(int(v))
	default:
		L.ArgError(3, "target must be a string or number")
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.ctrl.SetValue(ctx, uint8(nodeID), label, target); err != nil {
		e.logger.Error("script set value", "node", nodeID, "label", label, "err", err)
	}
	return 0
}

// zwave.get_value(node_id, label) — returns the current display value or nil.
func zwaveGetValue(L *lua.LState, e *Engine) int {
	nodeID := L.CheckInt(1)
	label := L.CheckString(2)

	if nodeID < 1 || nodeID > 255 {
		L.Push(lua.LNil)
		return 1
	}

	for _, v := range e.ctrl.Values().ForNode(uint8(nodeID)) {
		if v.Meta.Label == label {
			L.Push(goToLua(L, v.Display()))
			return 1
		}
	}

	L.Push(lua.LNil)
	return 1
}

// zwave.nodes() — returns a table of all known nodes.
func zwaveNodes(L *lua.LState, e *Engine) int {
	nodes, err := e.ctrl.Store().ListNodes()
	if err != nil {
		L.Push(L.NewTable())
		return 1
	}

	tbl := L.NewTable()
	for i, node := range nodes {
		n := L.NewTable()
		n.RawSetString("node_id", lua.LNumber(node.NodeID))
		name := node.FriendlyName
		if name == "" {
			name = fmt.Sprintf("node %d", node.NodeID)
		}
		n.RawSetString("name", lua.LString(name))
		tbl.RawSetInt(i+1, n)
	}

	L.Push(tbl)
	return 1
}

// zwave.after(seconds, callback) — delayed execution
func zwaveAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// zwave.log(msg)
func zwaveLog(L *lua.LState, e *Engine) int {
	msg := L.CheckString(1)
	e.logger.Info("script log", "msg", msg)
	return 0
}
