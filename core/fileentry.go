package core

import "time"

// EntrySlot is the index into a Filesystem's entry arena. Application code
// holds these (wrapped in a driver's FileEntry view type) as weak
// references: valid only while the owning Filesystem is in FileAccess mode
// and the slot hasn't been freed by a mode transition.
type EntrySlot uint32

// InvalidSlot marks "no entry" (e.g. a root's parent).
const InvalidSlot EntrySlot = ^EntrySlot(0)

// Attrs holds the attributes every driver's FileEntry exposes in common,
// per §3. Per-driver native metadata (extent pointers, key blocks, storage
// type, CNIDs, ...) lives in the driver's own entry struct, which embeds
// Attrs.
type Attrs struct {
	RawName   []byte // on-disk filename bytes, undecoded
	CookedName string // display form with control-picture remapping applied

	FileType byte
	AuxType  uint32

	AccessFlags uint32

	CreateTime time.Time
	ModifyTime time.Time

	DataLength   int64
	RsrcLength   int64
	StorageSize  int64

	Parent   EntrySlot
	Children []EntrySlot

	IsDirectory  bool
	HasRsrcFork  bool
	IsDubious    bool
	IsDamaged    bool

	Conflicts []Conflict
}

// Conflict records one ConflictObserver.Notify call against this entry.
type Conflict struct {
	Block int
	Other FileRef
}

// AddConflict implements ConflictObserver-style recording against this
// entry's own Attrs; drivers call it (or embed Attrs and let their FileEntry
// forward to it) from the ConflictObserver they register with VolumeUsage.
func (a *Attrs) AddConflict(block int, other FileRef) {
	a.Conflicts = append(a.Conflicts, Conflict{Block: block, Other: other})
}

// Arena is the slotmap that owns every FileEntry for a Filesystem instance.
// Cyclic parent/child references are resolved as index, not pointer, so
// that invalidating the whole tree on a mode transition is a single
// O(1)-ish Reset rather than a graph walk: outstanding Handle values
// simply stop resolving to anything once reset bumps the generation. Raw
// EntrySlot lookups (GetBySlot) carry no generation and resolve to
// whatever occupies the slot after the next scan.
type Arena[T any] struct {
	entries    []T
	live       []bool
	generation uint32
	slotGen    []uint32
}

// Handle pairs a slot index with the arena generation it was issued in, so a
// caller holding a Handle across a mode transition gets a clean "invalid"
// result instead of silently aliasing a reused slot.
type Handle struct {
	Slot       EntrySlot
	Generation uint32
}

// NewArena returns an empty arena.
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Alloc stores entry and returns a Handle referencing it.
func (a *Arena[T]) Alloc(entry T) Handle {
	a.entries = append(a.entries, entry)
	a.live = append(a.live, true)
	a.slotGen = append(a.slotGen, a.generation)
	return Handle{Slot: EntrySlot(len(a.entries) - 1), Generation: a.generation}
}

// Get returns the entry for h and whether it is still valid.
func (a *Arena[T]) Get(h Handle) (*T, bool) {
	if int(h.Slot) >= len(a.entries) {
		return nil, false
	}
	if !a.live[h.Slot] || a.slotGen[h.Slot] != h.Generation {
		return nil, false
	}
	return &a.entries[h.Slot], true
}

// GetBySlot looks an entry up by raw slot without a generation check, for
// use only by driver-internal code operating within a single scan (parent/
// child links stored as EntrySlot).
func (a *Arena[T]) GetBySlot(s EntrySlot) (*T, bool) {
	if s == InvalidSlot || int(s) >= len(a.entries) || !a.live[s] {
		return nil, false
	}
	return &a.entries[s], true
}

// Free marks a slot dead without invalidating the rest of the arena, used
// by delete_file.
func (a *Arena[T]) Free(s EntrySlot) {
	if int(s) < len(a.live) {
		a.live[s] = false
	}
}

// Reset invalidates every outstanding Handle by advancing the generation and
// clearing storage. Called on FileAccess -> Raw transitions.
func (a *Arena[T]) Reset() {
	a.entries = nil
	a.live = nil
	a.slotGen = nil
	a.generation++
}

// Len returns the number of (live and dead) slots ever allocated since the
// last Reset.
func (a *Arena[T]) Len() int { return len(a.entries) }
