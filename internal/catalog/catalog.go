package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/maes-platform/compliance-core/internal/model"
)

// Catalog is the read-mostly registry of benchmark control definitions.
// Builtin benchmarks are compiled in and change only with a code migration;
// custom controls can be registered before the catalog is handed to the
// engine.
type Catalog struct {
	mu    sync.RWMutex
	index map[controlKey]model.ControlDefinition
}

type controlKey struct {
	benchmark model.BenchmarkKind
	id        string
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{index: make(map[controlKey]model.ControlDefinition)}
}

// Default returns the catalog preloaded with the builtin CIS benchmarks.
func Default() *Catalog {
	c := New()
	for _, def := range builtinControls() {
		// Builtin definitions are vetted at compile time; duplicates here
		// are a programming error.
		if err := c.Register(def); err != nil {
			panic(err)
		}
	}
	return c
}

// Register adds a control definition. The (benchmark, id) pair must be unique.
func (c *Catalog) Register(def model.ControlDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("control id is required")
	}
	if !def.Benchmark.Valid() {
		return fmt.Errorf("unknown benchmark kind %q", def.Benchmark)
	}
	if def.Weight <= 0 {
		def.Weight = 1.0
	}
	key := controlKey{benchmark: def.Benchmark, id: def.ID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.index[key]; exists {
		return fmt.Errorf("duplicate control %s/%s", def.Benchmark, def.ID)
	}
	c.index[key] = def
	return nil
}

// Control looks up one definition.
func (c *Catalog) Control(kind model.BenchmarkKind, id string) (model.ControlDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.index[controlKey{benchmark: kind, id: id}]
	return def, ok
}

// ActiveControls returns the active controls of a benchmark ordered
// lexicographically by control id, which fixes the evaluation order of a run.
func (c *Catalog) ActiveControls(kind model.BenchmarkKind) []model.ControlDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.ControlDefinition
	for key, def := range c.index {
		if key.benchmark == kind && def.Active {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
