// Package behavior holds block definitions and the hooks that decide whether
// a block may be placed, broken or used.
package behavior

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Context struct {
	Actor string
	X     int
	Y     int
	Z     int
	Block string
}

type Result struct {
	Allow   bool
	Message string
}

func Allow() Result { return Result{Allow: true} }

func Deny(msg string) Result { return Result{Allow: false, Message: msg} }

// Behavior is the fixed capability set a block can implement. Hooks run on the
// tick goroutine and must return quickly.
type Behavior interface {
	OnPlace(ctx Context) Result
	OnBreak(ctx Context) Result
	OnInteract(ctx Context) Result
}

// Passthrough allows every action.
type Passthrough struct{}

func (Passthrough) OnPlace(Context) Result    { return Allow() }
func (Passthrough) OnBreak(Context) Result    { return Allow() }
func (Passthrough) OnInteract(Context) Result { return Allow() }

// Unbreakable allows placement and use but never breaking.
type Unbreakable struct{}

func (Unbreakable) OnPlace(Context) Result    { return Allow() }
func (Unbreakable) OnBreak(Context) Result    { return Deny("block is unbreakable") }
func (Unbreakable) OnInteract(Context) Result { return Allow() }

type Def struct {
	Name        string  `json:"name"`
	Hardness    float64 `json:"hardness"`
	Solid       bool    `json:"solid"`
	Transparent bool    `json:"transparent"`
	LightLevel  int     `json:"light_level"`
	Texture     string  `json:"texture,omitempty"`
}

func (d Def) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("block name is required")
	}
	if d.Hardness < 0 {
		return fmt.Errorf("block %s: hardness must be >= 0", d.Name)
	}
	if d.LightLevel < 0 || d.LightLevel > 15 {
		return fmt.Errorf("block %s: light_level must be in [0,15]", d.Name)
	}
	return nil
}

type entry struct {
	def Def
	b   Behavior
}

// Registry maps block names to definitions and behaviors. Registering a name
// twice replaces the earlier entry, so scripts can override built-ins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{}}
}

func (r *Registry) Register(def Def, b Behavior) error {
	def.Name = normName(def.Name)
	if err := def.Validate(); err != nil {
		return err
	}
	if b == nil {
		b = Passthrough{}
	}
	r.mu.Lock()
	r.entries[def.Name] = entry{def: def, b: b}
	r.mu.Unlock()
	return nil
}

func (r *Registry) Def(name string) (Def, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normName(name)]
	return e.def, ok
}

// Behavior returns the hooks for name, or Passthrough for unknown blocks.
func (r *Registry) Behavior(name string) Behavior {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[normName(name)]; ok {
		return e.b
	}
	return Passthrough{}
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Place(ctx Context) Result    { return r.Behavior(ctx.Block).OnPlace(ctx) }
func (r *Registry) Break(ctx Context) Result    { return r.Behavior(ctx.Block).OnBreak(ctx) }
func (r *Registry) Interact(ctx Context) Result { return r.Behavior(ctx.Block).OnInteract(ctx) }

func normName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
