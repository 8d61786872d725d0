// Package scope implements ScopeSizer, the lowering-side compile-time
// bookkeeping of spec.md §4.4: it assigns each named local a stable heap
// slot index and tracks how many names a lexical block pushed so the
// lowering can emit correct truncateHeap counts.
package scope

// Sizer maintains a name→slot lookup and a stack of per-block name
// lists. A slot is lookup.size() at the time of assignment, so a
// name's slot always matches its live heap index; Pop frees its
// block's names, and the next Add reuses the slot they held.
type Sizer struct {
	lookup map[string]uint64
	stack  [][]string
}

func New() *Sizer {
	return &Sizer{
		lookup: make(map[string]uint64),
		stack:  [][]string{{}},
	}
}

// Add assigns the next slot to name, records it in the innermost block,
// and returns the slot.
func (s *Sizer) Add(name string) uint64 {
	slot := uint64(len(s.lookup))
	s.lookup[name] = slot
	top := len(s.stack) - 1
	s.stack[top] = append(s.stack[top], name)
	return slot
}

// Get returns name's slot. Panics if name was never added — lowering
// only calls Get on names the parser/checker already resolved.
func (s *Sizer) Get(name string) uint64 {
	slot, ok := s.lookup[name]
	if !ok {
		panic("scope: unresolved local " + name)
	}
	return slot
}

// Push opens a new block.
func (s *Sizer) Push() {
	s.stack = append(s.stack, []string{})
}

// Pop closes the innermost block, removing its names from the lookup,
// and returns how many names it had added.
func (s *Sizer) Pop() uint64 {
	top := len(s.stack) - 1
	names := s.stack[top]
	s.stack = s.stack[:top]
	for _, n := range names {
		delete(s.lookup, n)
	}
	return uint64(len(names))
}
