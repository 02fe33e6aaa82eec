package command

import (
	"sort"
	"sync"
)

// ResourceLocks provides mutual exclusion between commands that declare the
// same resource. Each resource name gets its own mutex, so commands touching
// different resources run concurrently.
type ResourceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewResourceLocks creates an empty lock set.
func NewResourceLocks() *ResourceLocks {
	return &ResourceLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *ResourceLocks) get(resource string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[resource]
	if !ok {
		l = &sync.Mutex{}
		r.locks[resource] = l
	}
	return l
}

// LockAll acquires every named resource in sorted order, so two callers
// with overlapping sets cannot deadlock. Duplicates are ignored. It returns
// the matching unlock function.
func (r *ResourceLocks) LockAll(resources []string) (unlock func()) {
	sorted := normalize(resources)
	held := make([]*sync.Mutex, 0, len(sorted))
	for _, name := range sorted {
		l := r.get(name)
		l.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func normalize(resources []string) []string {
	if len(resources) == 0 {
		return nil
	}
	sorted := make([]string, len(resources))
	copy(sorted, resources)
	sort.Strings(sorted)

	out := sorted[:1]
	for _, name := range sorted[1:] {
		if name != out[len(out)-1] {
			out = append(out, name)
		}
	}
	return out
}
