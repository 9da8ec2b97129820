package kernel

import (
	"sort"
	"sync"
)

// StateContainer is a per-state deferred set: add/remove/forEach are safe
// against each other, including when called from goroutines other than the
// kernel's own tick loop (CreateObject/DestroyObject are callable from any
// goroutine, not just the tick loop itself). Semantics:
//
// - Outside iteration: mutations apply immediately.
// - During iteration (the `iterating` flag is set before the callback loop
//   and cleared after): mutations accumulate in pendingAdds/pendingRemovals.
// - At iteration end (always, even if a callback panics): apply removals
//   first, then additions, then clear the pending buffers.
//
// A "dirty" flag marks the id order stale, and it is rebuilt on the next
// read rather than on every mutation. This keeps iteration itself a single
// O(n) pass over an already-sorted id slice without ever copying the whole
// object set per tick.
type StateContainer struct {
	mu sync.Mutex

	visible map[ObjectID]GameObject
	order   []ObjectID
	dirty   bool

	pendingAdds     map[ObjectID]GameObject
	pendingRemovals map[ObjectID]struct{}

	iterating bool
}

// NewStateContainer creates an empty deferred container.
func NewStateContainer() *StateContainer {
	return &StateContainer{
		visible:         make(map[ObjectID]GameObject),
		pendingAdds:     make(map[ObjectID]GameObject),
		pendingRemovals: make(map[ObjectID]struct{}),
	}
}

// Add inserts an object under id. Outside iteration this is immediate;
// during iteration it is deferred until the current ForEach completes.
func (c *StateContainer) Add(id ObjectID, obj GameObject) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.iterating {
		c.pendingAdds[id] = obj
		delete(c.pendingRemovals, id)
		return
	}
	c.visible[id] = obj
	c.order = append(c.order, id)
	c.dirty = true
}

// Remove deletes id from the container. Outside iteration this is
// immediate; during iteration it is deferred until the current ForEach
// completes, so the current pass still visits the id if it has not reached
// it yet. The id is gone before any later pass starts.
func (c *StateContainer) Remove(id ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.iterating {
		c.pendingRemovals[id] = struct{}{}
		delete(c.pendingAdds, id)
		return
	}
	if _, ok := c.visible[id]; ok {
		delete(c.visible, id)
		c.dirty = true
	}
}

// Has reports whether id is currently visible (ignores pending buffers).
func (c *StateContainer) Has(id ObjectID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.visible[id]
	return ok
}

// Count returns the number of currently visible objects.
func (c *StateContainer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.visible)
}

// ForEach visits exactly the set of objects present at iteration start, in
// ascending id order. Adds and removes made during the pass stay in the
// pending buffers until the pass completes — a removal requested mid-pass
// does not stop the removed object from being visited this pass, it takes
// effect at the flush. Pending buffers are always flushed at the end, even
// if fn panics. fn itself runs without c.mu held, so it may call Add/Remove
// on this same container (they'll defer into the pending buffers as usual).
func (c *StateContainer) ForEach(fn func(id ObjectID, obj GameObject)) {
	c.mu.Lock()
	c.iterating = true
	if c.dirty {
		c.refreshOrderLocked()
	}
	order := append([]ObjectID(nil), c.order...)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.iterating = false
		c.flushLocked()
		c.mu.Unlock()
	}()

	for _, id := range order {
		// visible cannot change mid-pass (all mutations defer while
		// iterating), so this only filters ids the stale order slice still
		// carries from before the last rebuild.
		c.mu.Lock()
		obj, ok := c.visible[id]
		c.mu.Unlock()

		if !ok {
			continue
		}
		fn(id, obj)
	}
}

// flushLocked applies pending removals then pending additions, then clears
// both buffers. Caller must hold c.mu.
func (c *StateContainer) flushLocked() {
	for id := range c.pendingRemovals {
		if _, ok := c.visible[id]; ok {
			delete(c.visible, id)
			c.dirty = true
		}
	}
	for id, obj := range c.pendingAdds {
		c.visible[id] = obj
		c.order = append(c.order, id)
		c.dirty = true
	}
	c.pendingRemovals = make(map[ObjectID]struct{})
	c.pendingAdds = make(map[ObjectID]GameObject)
}

// refreshOrderLocked rebuilds the ascending-id order slice, dropping ids no
// longer present. Only runs when the container is marked dirty. Caller must
// hold c.mu.
func (c *StateContainer) refreshOrderLocked() {
	order := make([]ObjectID, 0, len(c.visible))
	for id := range c.visible {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	c.order = order
	c.dirty = false
}
