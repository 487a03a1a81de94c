// Package registry holds the catalogs of sources, group-bys, filters and joins
// the query engine resolves names against. A Registry is built once at startup
// and injected; it is read-only while serving.
package registry

import (
	"fmt"
	"sync"
)

// Definition is anything stored in a Catalog.
type Definition interface {
	Key() string
}

// Catalog is an ordered name -> definition table.
type Catalog[T Definition] struct {
	mu    sync.RWMutex
	kind  string
	items map[string]T
	order []string
}

// NewCatalog creates an empty catalog. kind is used in error messages.
func NewCatalog[T Definition](kind string) *Catalog[T] {
	return &Catalog[T]{kind: kind, items: make(map[string]T)}
}

// Register adds a definition. Names are unique.
func (c *Catalog[T]) Register(def T) error {
	name := def.Key()
	if name == "" {
		return fmt.Errorf("registry: %s without a name", c.kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[name]; exists {
		return fmt.Errorf("registry: %s %q already registered", c.kind, name)
	}
	c.items[name] = def
	c.order = append(c.order, name)
	return nil
}

// Get looks up a definition. ok is false for unknown names.
func (c *Catalog[T]) Get(name string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.items[name]
	return def, ok
}

// Has reports whether name is registered.
func (c *Catalog[T]) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// All returns every definition in registration order.
func (c *Catalog[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.items[name])
	}
	return out
}

// Registry groups the four catalogs.
type Registry struct {
	Joins    *Catalog[Join]
	Sources  *Catalog[Source]
	GroupBys *Catalog[GroupBy]
	Filters  *Catalog[Filter]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		Joins:    NewCatalog[Join]("join"),
		Sources:  NewCatalog[Source]("source"),
		GroupBys: NewCatalog[GroupBy]("group-by"),
		Filters:  NewCatalog[Filter]("filter"),
	}
}

// RegisterJoin adds a join definition.
func (r *Registry) RegisterJoin(j Join) error {
	if j.Clause == "" {
		return fmt.Errorf("registry: join %q has no clause", j.Name)
	}
	return r.Joins.Register(j)
}

// RegisterSource adds a source after checking its joins exist.
func (r *Registry) RegisterSource(s Source) error {
	if s.Expression == "" {
		return fmt.Errorf("registry: source %q has no expression", s.Name)
	}
	if err := r.checkJoins(s.Name, s.Joins); err != nil {
		return err
	}
	if s.Label == "" {
		s.Label = s.Name
	}
	if s.Format == "" {
		s.Format = FormatNumber
	}
	return r.Sources.Register(s)
}

// RegisterGroupBy adds a group-by after checking its joins exist.
func (r *Registry) RegisterGroupBy(g GroupBy) error {
	if g.Expression == "" {
		return fmt.Errorf("registry: group-by %q has no expression", g.Name)
	}
	if err := r.checkJoins(g.Name, g.Joins); err != nil {
		return err
	}
	if g.Alias == "" {
		g.Alias = g.Name
	}
	if g.Label == "" {
		g.Label = g.Name
	}
	if g.Order == "" {
		if g.IsTemporal() {
			g.Order = OrderByKey
		} else {
			g.Order = OrderByValue
		}
	}
	return r.GroupBys.Register(g)
}

// RegisterFilter adds a filter after checking its joins exist.
func (r *Registry) RegisterFilter(f Filter) error {
	if f.Column == "" {
		return fmt.Errorf("registry: filter %q has no column", f.Name)
	}
	if err := r.checkJoins(f.Name, f.Joins); err != nil {
		return err
	}
	if f.Kind == "" {
		f.Kind = FilterString
	}
	return r.Filters.Register(f)
}

func (r *Registry) checkJoins(owner string, joins []string) error {
	for _, j := range joins {
		if !r.Joins.Has(j) {
			return fmt.Errorf("registry: %q requires unknown join %q", owner, j)
		}
	}
	return nil
}

// SourceLabel returns the display name of a source, or the name itself.
func (r *Registry) SourceLabel(name string) string {
	if s, ok := r.Sources.Get(name); ok {
		return s.Label
	}
	return name
}

// GroupByLabel returns the display name of a group-by, or the name itself.
func (r *Registry) GroupByLabel(name string) string {
	if g, ok := r.GroupBys.Get(name); ok {
		return g.Label
	}
	return name
}

// ResolveJoins returns the join definitions needed by the given names,
// deduplicated and in registration order.
func (r *Registry) ResolveJoins(names ...[]string) []Join {
	wanted := make(map[string]bool)
	for _, list := range names {
		for _, n := range list {
			wanted[n] = true
		}
	}
	var out []Join
	for _, j := range r.Joins.All() {
		if wanted[j.Name] {
			out = append(out, j)
		}
	}
	return out
}
