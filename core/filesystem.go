package core

import "github.com/google/uuid"

// Mode is the Filesystem orchestrator's state machine position (§4.6).
type Mode int

const (
	Raw Mode = iota
	FileAccess
	Disposed
)

func (m Mode) String() string {
	switch m {
	case Raw:
		return "Raw"
	case FileAccess:
		return "FileAccess"
	case Disposed:
		return "Disposed"
	default:
		return "Invalid"
	}
}

// OpenMode is the mode a caller requests when opening a file.
type OpenMode int

const (
	OpenReadOnly OpenMode = iota
	OpenReadWrite
)

// ForkKind selects which byte stream of a file an open targets.
type ForkKind int

const (
	DataFork ForkKind = iota
	RsrcFork
	RawData
)

// SeekWhence extends io.Seek's three origins with the two hole-aware origins
// from §4.4. Drivers with no sparse holes collapse DataHole/DataStart to EOF.
type SeekWhence int

const (
	SeekBegin SeekWhence = iota
	SeekCurrent
	SeekEnd
	SeekDataHole
	SeekDataStart
)

// Characteristics describes what a driver's filesystem format supports,
// independent of any particular volume instance.
type Characteristics struct {
	Name              string
	CanWrite          bool
	IsHierarchical    bool
	DirSeparator      byte
	HasResourceForks  bool
	FilenameSyntax    string
	VolumeNameSyntax  string
	TimestampMinYear  int
	TimestampMaxYear  int
}

// CreationKind selects what create_file produces when a format distinguishes
// file kinds at creation time (e.g. ProDOS seedling vs. directory).
type CreationKind int

const (
	CreateFile CreationKind = iota
	CreateDirectory
)

// Driver is the capability set every per-format implementation provides,
// per the "polymorphic drivers" design note: the orchestrator dispatches on
// a driver-kind tag rather than on a class hierarchy.
type Driver interface {
	Characteristics() Characteristics

	// PrepareFileAccess scans the volume and builds derived structures.
	// deep is passed through to the driver; every driver in this module
	// scans its full catalog or directory structure whatever its value.
	PrepareFileAccess(deep bool) error

	// PrepareRawAccess flushes and invalidates derived structures. The
	// caller (Filesystem) has already verified no file is open.
	PrepareRawAccess() error

	Flush() error

	Format(volumeName string, volumeNumber int, bootable bool) error

	FreeSpaceBytes() (int64, error)

	Notes() *Notes
	IsDubious() bool
}

// Filesystem is the orchestrator every driver is wrapped in. It owns the
// mode state machine, the GatedChunk, and open-file bookkeeping; the Driver
// supplies the format-specific behavior behind each transition. A fresh
// ID is minted per instance so diagnostic messages and cross-component
// correlation (e.g. embedded-volume enumeration) can refer to "this mount"
// unambiguously even when several images are open in one process.
type Filesystem struct {
	ID     uuid.UUID
	Gate   *GatedChunk
	Driver Driver
	mode   Mode
	openForks map[openKey]openState
}

type openKey struct {
	Slot EntrySlot
	Fork ForkKind
}

type openState struct {
	Writers int
	Readers int
}

// NewFilesystem wraps driver over a GatedChunk, starting in Raw mode with
// the gate Open.
func NewFilesystem(gate *GatedChunk, driver Driver) *Filesystem {
	gate.SetLevel(Open)
	return &Filesystem{
		ID:        uuid.New(),
		Gate:      gate,
		Driver:    driver,
		mode:      Raw,
		openForks: make(map[openKey]openState),
	}
}

// Mode returns the current state machine position.
func (f *Filesystem) Mode() Mode { return f.mode }

// PrepareFileAccess transitions Raw -> FileAccess. No-op if already in
// FileAccess. On scan failure the gate reverts to Open (Raw) and the error
// is surfaced to the caller.
func (f *Filesystem) PrepareFileAccess(deep bool) error {
	if f.mode == Disposed {
		return NewError(KindObjectDisposed, "filesystem is disposed")
	}
	if f.mode == FileAccess {
		return nil
	}
	if err := f.Driver.PrepareFileAccess(deep); err != nil {
		f.Gate.SetLevel(Open)
		return err
	}
	f.Gate.SetLevel(ReadOnly)
	f.mode = FileAccess
	return nil
}

// PrepareRawAccess transitions FileAccess -> Raw. Refuses if any file is
// open.
func (f *Filesystem) PrepareRawAccess() error {
	if f.mode == Disposed {
		return NewError(KindObjectDisposed, "filesystem is disposed")
	}
	if f.mode == Raw {
		return nil
	}
	if f.AnyOpen() {
		return NewError(KindInvalidArgument, "cannot switch to raw access while files are open")
	}
	if err := f.Driver.PrepareRawAccess(); err != nil {
		return err
	}
	f.Gate.SetLevel(Open)
	f.mode = Raw
	return nil
}

// AnyOpen reports whether any fork of any file is currently open.
func (f *Filesystem) AnyOpen() bool {
	return len(f.openForks) > 0
}

// TrackOpen registers that slot/fork was opened for writing (write=true) or
// reading. It enforces the open-conflict rules from §5: at most one writer
// per fork, multiple concurrent readers permitted, and returns an error if
// a second writer attempts to open the same fork.
func (f *Filesystem) TrackOpen(slot EntrySlot, fork ForkKind, write bool) error {
	key := openKey{Slot: slot, Fork: fork}
	st := f.openForks[key]
	if write {
		if st.Writers > 0 {
			return NewError(KindInvalidArgument, "fork already open for write")
		}
		st.Writers++
	} else {
		st.Readers++
	}
	f.openForks[key] = st
	return nil
}

// TrackClose reverses a prior TrackOpen.
func (f *Filesystem) TrackClose(slot EntrySlot, fork ForkKind, write bool) {
	key := openKey{Slot: slot, Fork: fork}
	st, ok := f.openForks[key]
	if !ok {
		return
	}
	if write && st.Writers > 0 {
		st.Writers--
	} else if !write && st.Readers > 0 {
		st.Readers--
	}
	if st.Writers == 0 && st.Readers == 0 {
		delete(f.openForks, key)
	} else {
		f.openForks[key] = st
	}
}

// IsFileOpen reports whether any fork of slot is open at all, which forbids
// delete/move per §5 ("a write lock on any fork of a file prevents a delete
// or move of that file" -- conservatively extended to any open handle).
func (f *Filesystem) IsFileOpen(slot EntrySlot) bool {
	for k, st := range f.openForks {
		if k.Slot == slot && (st.Writers > 0 || st.Readers > 0) {
			return true
		}
	}
	return false
}

// IsFileWriteLocked reports whether any fork of slot is open for write.
func (f *Filesystem) IsFileWriteLocked(slot EntrySlot) bool {
	for k, st := range f.openForks {
		if k.Slot == slot && st.Writers > 0 {
			return true
		}
	}
	return false
}

// Flush delegates to Driver.Flush, which writes volume-level metadata. It
// does not flush open FileDescriptors; each persists its own state on its
// Flush or Close.
func (f *Filesystem) Flush() error {
	if f.mode == Disposed {
		return NewError(KindObjectDisposed, "filesystem is disposed")
	}
	return f.Driver.Flush()
}

// Format refuses if the source is read-only or the filesystem is currently
// in FileAccess mode, then delegates to the driver.
func (f *Filesystem) Format(volumeName string, volumeNumber int, bootable bool) error {
	if f.mode == Disposed {
		return NewError(KindObjectDisposed, "filesystem is disposed")
	}
	if f.Gate.Source().IsReadOnly() {
		return NewError(KindIOError, "underlying source is read-only")
	}
	if f.mode == FileAccess {
		return NewError(KindInvalidArgument, "cannot format while in file-access mode")
	}
	return f.Driver.Format(volumeName, volumeNumber, bootable)
}

// IsReadOnly reports true if the storage is read-only OR the filesystem is
// dubious (§6).
func (f *Filesystem) IsReadOnly() bool {
	return f.Gate.Source().IsReadOnly() || f.Driver.IsDubious()
}

// FreeSpace returns free bytes, or -1 if not in FileAccess mode (§6).
func (f *Filesystem) FreeSpace() (int64, error) {
	if f.mode != FileAccess {
		return -1, nil
	}
	return f.Driver.FreeSpaceBytes()
}

// Notes returns the driver's diagnostic log.
func (f *Filesystem) Notes() []Note {
	return f.Driver.Notes().All()
}

// Dispose releases resources. Idempotent; warns (rather than erroring) if
// files are still open, per §5's close_all tolerance and §9's
// unsaved-change-dispose guidance: finalization must not attempt further
// user-visible I/O failures, just best-effort flush and log.
func (f *Filesystem) Dispose() {
	if f.mode == Disposed {
		return
	}
	if f.AnyOpen() {
		f.Driver.Notes().Warn("dispose: %d fork(s) still open, closing without flush ordering guarantees", len(f.openForks))
	}
	_ = f.Driver.Flush()
	f.Gate.SetLevel(Closed)
	f.mode = Disposed
}
