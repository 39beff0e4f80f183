package core

// FileRef is an opaque handle identifying the claimant of an allocation
// unit. The core never dereferences it; the owning driver resolves it back
// to a FileEntry through its own arena. The zero value is the reserved
// System owner.
type FileRef uint32

// SystemRef is the sentinel FileRef meaning "claimed by filesystem
// metadata" (boot blocks, VTOC, catalog, bitmap, MDB, B-tree files, ...)
// rather than by any user file.
const SystemRef FileRef = 0

// NoRef is the sentinel meaning "unclaimed". Driver FileRefs are allocated
// starting at 1 so that SystemRef and NoRef are distinguishable from real
// file handles.
const NoRef FileRef = ^FileRef(0)

// UsageSlot is the per-allocation-unit bookkeeping record.
type UsageSlot struct {
	InUse    bool
	Owner    FileRef
	Conflict bool
}

// ConflictObserver receives a notification for every FileRef touched by a
// conflicting claim, so a driver can record the anomaly against its own
// in-memory entries without VolumeUsage knowing their concrete type.
// SetUsage calls Notify once for the owner already on record and once for
// the new claimant, satisfying "calls AddConflict on both parties" (§3).
type ConflictObserver interface {
	Notify(block int, self, other FileRef)
}

// VolumeUsage is a fixed-size, per-allocation-unit tagged map used to
// reconcile a driver's native allocation metadata against the union of
// blocks its files actually reference. Every driver's DirectoryScanner
// populates one during scan_volume; AllocMap layers a free/used bitmap on
// top of the same array.
type VolumeUsage struct {
	slots    []UsageSlot
	observer ConflictObserver
}

// NewVolumeUsage allocates a VolumeUsage sized for totalAllocBlocks
// allocation units. observer may be nil if the driver doesn't need
// AddConflict callbacks (e.g. during tests).
func NewVolumeUsage(totalAllocBlocks int, observer ConflictObserver) *VolumeUsage {
	return &VolumeUsage{
		slots:    make([]UsageSlot, totalAllocBlocks),
		observer: observer,
	}
}

// Len returns the number of allocation units tracked.
func (v *VolumeUsage) Len() int { return len(v.slots) }

// Slot returns a copy of the usage record for allocation unit n.
func (v *VolumeUsage) Slot(n int) UsageSlot {
	if n < 0 || n >= len(v.slots) {
		return UsageSlot{}
	}
	return v.slots[n]
}

// MarkInUse flags allocation unit n as in-use without assigning an owner.
// It is idempotent; SetUsage is what detects conflicting claims.
func (v *VolumeUsage) MarkInUse(n int) {
	if n < 0 || n >= len(v.slots) {
		return
	}
	if !v.slots[n].InUse {
		v.slots[n].InUse = true
		v.slots[n].Owner = NoRef
	}
}

// SetUsage assigns owner to allocation unit n. Per the universal invariant:
// once MarkInUse has been called, SetUsage may be called at most once
// without conflict; a second call with a different non-None owner sets
// Conflict=true and notifies both parties via AddConflict.
func (v *VolumeUsage) SetUsage(n int, owner FileRef) {
	if n < 0 || n >= len(v.slots) {
		return
	}
	slot := &v.slots[n]
	if !slot.InUse {
		slot.InUse = true
		slot.Owner = owner
		return
	}
	if slot.Owner == NoRef {
		slot.Owner = owner
		return
	}
	if slot.Owner != owner {
		slot.Conflict = true
		if v.observer != nil {
			v.observer.Notify(n, slot.Owner, owner)
			v.observer.Notify(n, owner, slot.Owner)
		}
		// Leave the original owner in place; the caller inspects Conflict
		// to discover this block is contested and resolves display/repair
		// at the FileEntry level.
	}
}

// UsageCounts summarizes a completed scan.
type UsageCounts struct {
	MarkedUsed    int // slots the native allocation structure marked used
	UnusedMarked  int // slots marked used by scan but not by the native structure (leaked, effectively free)
	NotMarkedUsed int // slots the native structure marked used but no file/system claimed
	Conflicts     int // slots claimed by more than one owner
}

// Analyze reconciles VolumeUsage against a native allocation bitmap (0=free,
// 1=used), returning the counts from §4.2. nativeUsed(n) reports whether the
// driver's own on-disk allocation structure marks allocation unit n as used.
func (v *VolumeUsage) Analyze(nativeUsed func(n int) bool) UsageCounts {
	var c UsageCounts
	for n, slot := range v.slots {
		native := nativeUsed(n)
		switch {
		case slot.InUse && native:
			c.MarkedUsed++
		case slot.InUse && !native:
			c.UnusedMarked++
		case !slot.InUse && native:
			c.NotMarkedUsed++
		}
		if slot.Conflict {
			c.Conflicts++
		}
	}
	return c
}

// IsDubious reports whether the reconciliation counts imply the volume
// should be promoted to dubious: blocks the native structure considers used
// but that scanning never attributed to any file or system region, or
// blocks claimed by more than one owner.
func (c UsageCounts) IsDubious() bool {
	return c.NotMarkedUsed > 0 || c.Conflicts > 0
}
