package core

import "fmt"

// Severity grades a diagnostic Note.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "Info"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Note is a single structured diagnostic produced while scanning, allocating,
// or mutating a volume.
type Note struct {
	Severity Severity
	Message  string
}

func (n Note) String() string {
	return fmt.Sprintf("[%s] %s", n.Severity, n.Message)
}

// Notes is an append-only diagnostic log. A driver's DirectoryScanner and
// Filesystem orchestrator write to it during scan and mutation; callers read
// it through Filesystem.Notes(). It is never cleared implicitly -- only a
// fresh scan (via a fresh Notes instance) starts clean.
type Notes struct {
	entries []Note
}

// NewNotes returns an empty Notes log.
func NewNotes() *Notes {
	return &Notes{}
}

// Add appends a note.
func (n *Notes) Add(severity Severity, format string, args ...any) {
	n.entries = append(n.entries, Note{Severity: severity, Message: fmt.Sprintf(format, args...)})
}

// Info is shorthand for Add(Info, ...).
func (n *Notes) Info(format string, args ...any) { n.Add(Info, format, args...) }

// Warn is shorthand for Add(Warning, ...).
func (n *Notes) Warn(format string, args ...any) { n.Add(Warning, format, args...) }

// Err is shorthand for Add(Error, ...).
func (n *Notes) Err(format string, args ...any) { n.Add(Error, format, args...) }

// All returns every note recorded so far, in recording order.
func (n *Notes) All() []Note {
	out := make([]Note, len(n.entries))
	copy(out, n.entries)
	return out
}

// HasErrors reports whether any Error-severity note has been recorded. A
// filesystem that scans with errors must become dubious.
func (n *Notes) HasErrors() bool {
	for _, e := range n.entries {
		if e.Severity == Error {
			return true
		}
	}
	return false
}

// Count returns how many notes of the given severity have been recorded.
func (n *Notes) Count(severity Severity) int {
	c := 0
	for _, e := range n.entries {
		if e.Severity == severity {
			c++
		}
	}
	return c
}

// Reset clears the log, used when starting a fresh scan.
func (n *Notes) Reset() {
	n.entries = n.entries[:0]
}
