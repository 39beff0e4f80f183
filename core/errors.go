package core

import "fmt"

// ErrorKind is the taxonomy of error categories every driver reports through.
// It mirrors the "kinds, not types" design: callers branch on Kind, never on
// a per-driver concrete error type.
type ErrorKind int

const (
	// KindInvalidArgument: caller violated a contract (nil entry, malformed
	// filename, entry from the wrong filesystem, etc).
	KindInvalidArgument ErrorKind = iota
	// KindIOError: underlying storage read/write failed.
	KindIOError
	// KindDiskFull: allocation failed, no free space.
	KindDiskFull
	// KindNotSupported: operation not supported by this filesystem.
	KindNotSupported
	// KindDamaged: on-disk structure is corrupt beyond safe modification.
	KindDamaged
	// KindObjectDisposed: entry/stream whose backing Filesystem was invalidated.
	KindObjectDisposed
	// KindUnsupportedGeometry: ChunkSource shape is invalid for this FS.
	KindUnsupportedGeometry
	// KindAccessDenied: GatedChunk access level forbids the operation.
	KindAccessDenied
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindIOError:
		return "IOError"
	case KindDiskFull:
		return "DiskFull"
	case KindNotSupported:
		return "NotSupported"
	case KindDamaged:
		return "Damaged"
	case KindObjectDisposed:
		return "ObjectDisposed"
	case KindUnsupportedGeometry:
		return "UnsupportedGeometry"
	case KindAccessDenied:
		return "AccessDenied"
	default:
		return "Unknown"
	}
}

// Error is the single error type every driver and core component returns.
// It carries a Kind for programmatic branching and wraps an underlying cause
// where one exists.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a *Error with the given kind and formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a *Error with the given kind, message, and underlying cause.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is allows errors.Is(err, &core.Error{Kind: core.KindDiskFull}) style
// checks: any *Error target matches when its Kind equals e's Kind, whatever
// its Message or Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *Error,
// returning ok=false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if asError(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
