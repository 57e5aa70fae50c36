package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/butane/engine/internal/core/event"
	"github.com/butane/engine/internal/data"
	"github.com/butane/engine/internal/vmath"
	"github.com/butane/engine/internal/world"
)

// Engine wraps a single gopher-lua VM running the gameplay tick.
// Single-goroutine access only: UpdateWorld calls Update, and world events
// are dispatched from the same task.
type Engine struct {
	vm    *lua.LState
	log   *zap.Logger
	world *world.World
	units *data.UnitTable
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, w *world.World, units *data.UnitTable, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log.Named("lua"), world: w, units: units}
	e.register()

	// Load core scripts first, then gameplay scripts
	for _, sub := range []string{"core", "world"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	event.Subscribe(w.Bus, func(ev event.UnitGraduated) { e.notify("on_graduated", ev.Unit) })
	event.Subscribe(w.Bus, func(ev event.UnitDespawned) { e.notify("on_despawned", ev.Unit) })
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source in the engine's VM.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

func (e *Engine) register() {
	e.vm.SetGlobal("spawn", e.vm.NewFunction(e.luaSpawn))
	e.vm.SetGlobal("despawn", e.vm.NewFunction(e.luaDespawn))
	e.vm.SetGlobal("move", e.vm.NewFunction(e.luaMove))
	e.vm.SetGlobal("position", e.vm.NewFunction(e.luaPosition))
	e.vm.SetGlobal("unit_count", e.vm.NewFunction(e.luaUnitCount))
	e.vm.SetGlobal("log", e.vm.NewFunction(e.luaLog))
}

// Update calls the Lua update(dt) function. A script without update is a
// no-op.
func (e *Engine) Update(dt float64) error {
	fn := e.vm.GetGlobal("update")
	if fn == lua.LNil {
		return nil
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, lua.LNumber(dt)); err != nil {
		return fmt.Errorf("lua update: %w", err)
	}
	return nil
}

func (e *Engine) notify(name string, id world.UnitID) {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, unitValue(id)); err != nil {
		e.log.Error("lua callback error", zap.String("fn", name), zap.Error(err))
	}
}

// Unit ids cross into Lua as numbers; exact while generations stay below 2^21.
func unitValue(id world.UnitID) lua.LNumber { return lua.LNumber(float64(id)) }

func checkUnit(L *lua.LState, n int) world.UnitID {
	return world.UnitID(uint64(L.CheckNumber(n)))
}

// spawn(template, x, y, z) -> id
func (e *Engine) luaSpawn(L *lua.LState) int {
	name := L.CheckString(1)
	pos := vmath.Vec3{
		X: float32(L.OptNumber(2, 0)),
		Y: float32(L.OptNumber(3, 0)),
		Z: float32(L.OptNumber(4, 0)),
	}
	g, err := e.units.Instantiate(name)
	if err != nil {
		L.RaiseError("spawn: %v", err)
		return 0
	}
	g.Translate(pos)
	L.Push(unitValue(e.world.Spawn(name, g)))
	return 1
}

// despawn(id) -> bool
func (e *Engine) luaDespawn(L *lua.LState) int {
	L.Push(lua.LBool(e.world.Despawn(checkUnit(L, 1))))
	return 1
}

// move(id, x, y, z) -> bool
func (e *Engine) luaMove(L *lua.LState) int {
	u, ok := e.world.Unit(checkUnit(L, 1))
	if !ok {
		L.Push(lua.LFalse)
		return 1
	}
	u.Graph.Translate(vmath.Vec3{
		X: float32(L.CheckNumber(2)),
		Y: float32(L.CheckNumber(3)),
		Z: float32(L.CheckNumber(4)),
	})
	L.Push(lua.LTrue)
	return 1
}

// position(id) -> x, y, z
func (e *Engine) luaPosition(L *lua.LState) int {
	u, ok := e.world.Unit(checkUnit(L, 1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	p := u.Graph.Local(0).Position
	L.Push(lua.LNumber(p.X))
	L.Push(lua.LNumber(p.Y))
	L.Push(lua.LNumber(p.Z))
	return 3
}

// unit_count() -> live, pending
func (e *Engine) luaUnitCount(L *lua.LState) int {
	live, pending, _ := e.world.Counts()
	L.Push(lua.LNumber(live))
	L.Push(lua.LNumber(pending))
	return 2
}

func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info(L.CheckString(1))
	return 0
}

func (e *Engine) Close() {
	e.vm.Close()
}
