package behavior

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"
)

const blocksGlobal = "__blocks"

var hookNames = [...]string{"on_place", "on_break", "on_interact"}

// Engine owns one Lua state shared by every scripted block. Calls into the
// state are serialized.
type Engine struct {
	mu     sync.Mutex
	state  *lua.State
	logger *log.Logger

	scripts []string
}

func NewEngine(logger *log.Logger) *Engine {
	state := lua.NewState()
	lua.OpenLibraries(state)
	e := &Engine{state: state, logger: logger}

	state.NewTable()
	state.SetGlobal(blocksGlobal)

	state.NewTable()
	lua.SetFunctions(state, []lua.RegistryFunction{
		{Name: "log", Function: func(l *lua.State) int {
			e.printf("lua: %s", lua.CheckString(l, 1))
			return 0
		}},
	}, 0)
	state.SetGlobal("voxel")
	return e
}

// LoadDir runs every .lua file under dir, in path order, and registers the
// block each one returns. A missing directory is not an error.
func (e *Engine) LoadDir(dir string, reg *Registry) (int, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".lua") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	sort.Strings(paths)
	for _, path := range paths {
		if err := e.LoadFile(path, reg); err != nil {
			return 0, err
		}
	}
	return len(paths), nil
}

// LoadFile runs one script. The script must return a table; its name field
// defaults to the file name without extension.
func (e *Engine) LoadFile(path string, reg *Registry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	l := e.state
	top := l.Top()
	defer l.SetTop(top)

	if err := lua.LoadFile(l, path, ""); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if err := l.ProtectedCall(0, 1, 0); err != nil {
		return fmt.Errorf("run %s: %w", path, err)
	}
	if l.TypeOf(-1) != lua.TypeTable {
		return fmt.Errorf("%s: script must return a table", path)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	def, hooks := readDef(l, l.AbsIndex(-1))
	if def.Name == "" {
		def.Name = base
	}
	def.Name = normName(def.Name)
	if err := def.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	// __blocks[name] = returned table
	l.Global(blocksGlobal)
	l.PushValue(-2)
	l.SetField(-2, def.Name)

	var b Behavior = Passthrough{}
	if len(hooks) > 0 {
		b = &scripted{engine: e, name: def.Name, hooks: hooks}
	}
	if err := reg.Register(def, b); err != nil {
		return err
	}
	e.scripts = append(e.scripts, path)
	e.printf("block script loaded name=%s hooks=%d path=%s", def.Name, len(hooks), path)
	return nil
}

func (e *Engine) Scripts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.scripts...)
}

func readDef(l *lua.State, index int) (Def, map[string]bool) {
	def := Def{Solid: true}
	hooks := map[string]bool{}
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) != lua.TypeString {
			l.Pop(1)
			continue
		}
		key, _ := l.ToString(-2)
		switch key {
		case "name", "texture":
			if s, ok := l.ToString(-1); ok {
				if key == "name" {
					def.Name = s
				} else {
					def.Texture = s
				}
			}
		case "hardness":
			if n, ok := l.ToNumber(-1); ok {
				def.Hardness = n
			}
		case "light_level":
			if n, ok := l.ToInteger(-1); ok {
				def.LightLevel = n
			}
		case "solid":
			def.Solid = l.ToBoolean(-1)
		case "transparent":
			def.Transparent = l.ToBoolean(-1)
		default:
			for _, h := range hookNames {
				if key == h && l.TypeOf(-1) == lua.TypeFunction {
					hooks[h] = true
				}
			}
		}
		l.Pop(1)
	}
	return def, hooks
}

// scripted dispatches hooks to the functions of a registered script table.
// A hook the script does not define allows the action. A hook that raises an
// error denies it.
type scripted struct {
	engine *Engine
	name   string
	hooks  map[string]bool
}

func (s *scripted) OnPlace(ctx Context) Result    { return s.call("on_place", ctx) }
func (s *scripted) OnBreak(ctx Context) Result    { return s.call("on_break", ctx) }
func (s *scripted) OnInteract(ctx Context) Result { return s.call("on_interact", ctx) }

func (s *scripted) call(hook string, ctx Context) Result {
	if !s.hooks[hook] {
		return Allow()
	}
	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	l := e.state
	top := l.Top()
	defer l.SetTop(top)

	l.Global(blocksGlobal)
	l.Field(-1, s.name)
	l.Field(-1, hook)
	pushContext(l, ctx)
	if err := l.ProtectedCall(1, 2, 0); err != nil {
		e.printf("block hook failed block=%s hook=%s err=%v", s.name, hook, err)
		return Deny(fmt.Sprintf("%s %s: script error", s.name, hook))
	}
	msg, _ := l.ToString(-1)
	if l.TypeOf(-2) == lua.TypeNil {
		return Result{Allow: true, Message: msg}
	}
	return Result{Allow: l.ToBoolean(-2), Message: msg}
}

func pushContext(l *lua.State, ctx Context) {
	l.NewTable()
	l.PushString(ctx.Actor)
	l.SetField(-2, "actor")
	l.PushString(ctx.Block)
	l.SetField(-2, "block")
	l.PushInteger(ctx.X)
	l.SetField(-2, "x")
	l.PushInteger(ctx.Y)
	l.SetField(-2, "y")
	l.PushInteger(ctx.Z)
	l.SetField(-2, "z")
}

func (e *Engine) printf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
