package behavior

import (
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRegistry_DefaultsAndOverride(t *testing.T) {
	r := NewRegistry()
	if res := r.Break(Context{Block: "unknown"}); !res.Allow {
		t.Fatalf("unknown blocks must pass through: %+v", res)
	}
	if err := r.Register(Def{Name: "Bedrock", Solid: true}, Unbreakable{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res := r.Break(Context{Block: "bedrock"}); res.Allow {
		t.Fatalf("bedrock broke")
	}
	if err := r.Register(Def{Name: "bedrock"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res := r.Break(Context{Block: "bedrock"}); !res.Allow {
		t.Fatalf("override did not replace behavior")
	}
	if r.Len() != 1 {
		t.Fatalf("len=%d want=1", r.Len())
	}
}

func TestRegistry_RejectsBadDefs(t *testing.T) {
	r := NewRegistry()
	for _, d := range []Def{{Name: " "}, {Name: "x", Hardness: -1}, {Name: "x", LightLevel: 16}} {
		if err := r.Register(d, nil); err == nil {
			t.Fatalf("expected error for %+v", d)
		}
	}
}

func TestEngine_LoadDirRecursive(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "lamp.lua", `
return {
  hardness = 0.3,
  transparent = true,
  light_level = 15,
  texture = "lamp_on",
}
`)
	writeScript(t, dir, "special/vault.lua", `
return {
  name = "vault",
  hardness = 50,
  on_break = function(ctx)
    if ctx.actor == "admin" then
      return true
    end
    return false, "vault is locked"
  end,
  on_interact = function(ctx)
    voxel.log("opened at " .. ctx.x .. "," .. ctx.y .. "," .. ctx.z)
  end,
}
`)
	writeScript(t, dir, "notes.txt", "not a script")

	reg := NewRegistry()
	e := NewEngine(nil)
	n, err := e.LoadDir(dir, reg)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 2 {
		t.Fatalf("scripts=%d want=2", n)
	}

	lamp, ok := reg.Def("lamp")
	if !ok {
		t.Fatalf("lamp not registered: %v", reg.Names())
	}
	if lamp.LightLevel != 15 || !lamp.Transparent || !lamp.Solid || lamp.Texture != "lamp_on" || lamp.Hardness != 0.3 {
		t.Fatalf("lamp=%+v", lamp)
	}

	if res := reg.Break(Context{Actor: "bob", Block: "vault"}); res.Allow || res.Message != "vault is locked" {
		t.Fatalf("bob break=%+v", res)
	}
	if res := reg.Break(Context{Actor: "admin", Block: "vault"}); !res.Allow {
		t.Fatalf("admin break=%+v", res)
	}
	if res := reg.Interact(Context{Actor: "bob", Block: "vault", X: 1, Y: 2, Z: 3}); !res.Allow {
		t.Fatalf("nil return must allow: %+v", res)
	}
	if res := reg.Place(Context{Block: "vault"}); !res.Allow {
		t.Fatalf("missing hook must allow: %+v", res)
	}
}

func TestEngine_ScriptErrorDenies(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "cursed.lua", `
return {
  on_place = function(ctx) error("boom") end,
}
`)
	reg := NewRegistry()
	if _, err := NewEngine(nil).LoadDir(dir, reg); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	for i := 0; i < 3; i++ {
		if res := reg.Place(Context{Block: "cursed"}); res.Allow {
			t.Fatalf("script error allowed the action")
		}
	}
}

func TestEngine_BadScripts(t *testing.T) {
	cases := map[string]string{
		"syntax.lua":  "return {",
		"number.lua":  "return 42",
		"runtime.lua": "error('nope')",
		"light.lua":   "return { light_level = 99 }",
	}
	for name, body := range cases {
		dir := t.TempDir()
		path := writeScript(t, dir, name, body)
		if err := NewEngine(nil).LoadFile(path, NewRegistry()); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEngine_MissingDir(t *testing.T) {
	n, err := NewEngine(nil).LoadDir(filepath.Join(t.TempDir(), "nope"), NewRegistry())
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v want 0,nil", n, err)
	}
}
