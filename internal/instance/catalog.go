package instance

import (
	"sort"
	"sync"
)

// Catalog is the set of watched instances.
//
// All public methods are thread-safe. Reads return copies; callers mutate
// through Update so that the catalog stays the single owner.
type Catalog struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	ids       []string // sorted
}

// NewCatalog creates a catalog holding the given instances.
// No validation is performed; use Discover to build a catalog from the store.
func NewCatalog(instances ...Instance) *Catalog {
	c := &Catalog{instances: make(map[string]*Instance, len(instances))}
	for _, inst := range instances {
		cp := inst.DeepCopy()
		c.instances[inst.ID] = &cp
	}
	c.rebuildIDs()
	return c
}

func (c *Catalog) rebuildIDs() {
	c.ids = make([]string, 0, len(c.instances))
	for id := range c.instances {
		c.ids = append(c.ids, id)
	}
	sort.Strings(c.ids)
}

// Get returns a copy of the instance with id.
func (c *Catalog) Get(id string) (Instance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	inst, ok := c.instances[id]
	if !ok {
		return Instance{}, false
	}
	return inst.DeepCopy(), true
}

// IDs returns the sorted instance ids.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Len returns the number of instances.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instances)
}

// Update applies fn to the instance with id while holding the write lock.
// fn must not call back into the catalog. The ID field cannot be changed.
// Returns false if id is unknown.
func (c *Catalog) Update(id string, fn func(*Instance)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[id]
	if !ok {
		return false
	}
	fn(inst)
	inst.ID = id
	if inst.Mode != ModeScheduled {
		inst.Schedule = ""
	}
	return true
}

// Snapshot returns copies of all instances sorted by id.
func (c *Catalog) Snapshot() []Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Instance, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.instances[id].DeepCopy())
	}
	return out
}
