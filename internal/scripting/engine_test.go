package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/butane/engine/internal/data"
	"github.com/butane/engine/internal/world"
)

const units = `
- name: crate
  nodes:
    - name: root
    - name: body
      kind: mesh
      parent: root
      mesh: {resource: meshes/crate.mesh, radius: 1}
`

func newEngine(t *testing.T, script string) (*Engine, *world.World) {
	t.Helper()
	dir := t.TempDir()
	if script != "" {
		if err := os.MkdirAll(filepath.Join(dir, "world"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "world", "game.lua"), []byte(script), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	table, err := data.ParseUnitTable([]byte(units))
	if err != nil {
		t.Fatal(err)
	}
	w := world.New(zaptest.NewLogger(t))
	e, err := NewEngine(dir, w, table, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return e, w
}

func TestUpdateWithoutScriptIsNoop(t *testing.T) {
	e, _ := newEngine(t, "")
	if err := e.Update(0.016); err != nil {
		t.Fatal(err)
	}
}

func TestSpawnMoveDespawn(t *testing.T) {
	e, w := newEngine(t, `
elapsed = 0
function update(dt)
  elapsed = elapsed + dt
  if id == nil then
    id = spawn("crate", 1, 2, 3)
  else
    move(id, elapsed, 0, 0)
  end
  if elapsed > 0.05 then
    despawn(id)
  end
end
`)
	if err := e.Update(0.02); err != nil {
		t.Fatal(err)
	}
	ids := w.Units()
	if len(ids) != 1 {
		t.Fatalf("units = %v", ids)
	}
	u, _ := w.Unit(ids[0])
	if p := u.Graph.Local(0).Position; p.X != 1 || p.Y != 2 || p.Z != 3 {
		t.Fatalf("spawn position = %+v", p)
	}
	if err := e.Update(0.02); err != nil {
		t.Fatal(err)
	}
	if p := u.Graph.Local(0).Position; p.X < 0.039 || p.X > 0.041 {
		t.Fatalf("moved position = %+v", p)
	}
	if err := e.Update(0.02); err != nil {
		t.Fatal(err)
	}
	if _, _, despawning := w.Counts(); despawning != 1 {
		t.Fatalf("despawning = %d, want 1", despawning)
	}
}

func TestScriptErrorsAreReturned(t *testing.T) {
	e, _ := newEngine(t, `function update(dt) spawn("no-such-template") end`)
	if err := e.Update(0.016); err == nil {
		t.Fatal("Update succeeded despite a failing spawn")
	}
}

func TestGraduationCallback(t *testing.T) {
	e, w := newEngine(t, `
graduated = 0
function on_graduated(id) graduated = graduated + 1 end
`)
	frame := w.BeginFrame()
	g, _ := e.units.Instantiate("crate")
	id := w.Spawn("crate", g)
	u, _ := w.Unit(id)
	u.MarkVisualsCreated()
	w.Graduate(frame)

	w.Bus.SwapBuffers()
	w.Bus.DispatchAll()
	if err := e.LoadString(`assert(graduated == 1, "graduated=" .. graduated)`); err != nil {
		t.Fatal(err)
	}
}
