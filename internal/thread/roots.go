package thread

import "heapcore/internal/gc"

// AllRoots implements internal/gc.RootSource over every thread
// currently linked in the registry, letting the collector's initiator
// pass the whole registry in one value rather than stitching per-thread
// root sets together itself.
type AllRoots struct {
	reg      *Registry
	callerID uint64
}

// AsRootSource wraps reg so it can be passed directly where a
// gc.RootSource is expected; callerID identifies the collecting
// thread for the registry's spinlock bookkeeping.
func (reg *Registry) AsRootSource(callerID uint64) AllRoots {
	return AllRoots{reg: reg, callerID: callerID}
}

func (a AllRoots) Roots() []gc.Root {
	var all []gc.Root
	a.reg.Each(a.callerID, func(r *Record) {
		all = append(all, r.Roots()...)
	})
	return all
}
