package consensus

import "github.com/raftkit/consensus/storage"

// LogEntry is a single item in the replicated log. Command is opaque to
// the consensus core; only the persistence backend's ApplyLog and the host
// state machine interpret it.
type LogEntry = storage.LogEntry

// Log is an append-only, 1-based ordered sequence of entries. It has no
// concurrent writers of its own; the owning Node's event loop serialises
// every mutation.
type Log struct {
	entries []LogEntry
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Push appends entry, returning its new 1-based index.
func (l *Log) Push(entry LogEntry) uint64 {
	l.entries = append(l.entries, entry)
	return uint64(len(l.entries))
}

// Length returns the number of entries currently held.
func (l *Log) Length() uint64 {
	return uint64(len(l.entries))
}

// At returns the entry at the given 1-based index. Reading index 0 or an
// index beyond Length is undefined and panics, matching the "index 0 is
// undefined" contract; callers must range-check first.
func (l *Log) At(index uint64) LogEntry {
	return l.entries[index-1]
}

// EntriesFrom returns every entry from index onward, inclusive. An index
// beyond Length returns an empty slice.
func (l *Log) EntriesFrom(index uint64) []LogEntry {
	if index == 0 || index > l.Length() {
		return nil
	}
	return l.entries[index-1:]
}

// TruncateFrom drops index and everything after it. Used only by followers
// applying an authoritative AppendEntries over a conflicting suffix.
func (l *Log) TruncateFrom(index uint64) {
	if index == 0 {
		l.entries = nil
		return
	}
	if index-1 < l.Length() {
		l.entries = l.entries[:index-1]
	}
}

// LastIndex returns the index of the last entry, or 0 if the log is empty.
func (l *Log) LastIndex() uint64 {
	return l.Length()
}

// LastTerm returns the term of the last entry, or 0 if the log is empty.
func (l *Log) LastTerm() uint64 {
	if l.Length() == 0 {
		return 0
	}
	return l.At(l.Length()).Term
}

// TermAt returns the term of the entry at index, or 0 for index 0 (the
// term of the log's implicit empty prefix).
func (l *Log) TermAt(index uint64) uint64 {
	if index == 0 {
		return 0
	}
	return l.At(index).Term
}

// lastIndexOfTerm returns the highest index whose entry has the given
// term, or 0 if no entry has it. Used by a leader to backtrack nextIndex
// to just past its own last entry of a follower's conflicting term.
func (l *Log) lastIndexOfTerm(term uint64) uint64 {
	for i := l.Length(); i >= 1; i-- {
		t := l.entries[i-1].Term
		if t == term {
			return i
		}
		if t < term {
			break
		}
	}
	return 0
}

// Snapshot returns a defensive copy of the entries, suitable for handing
// to a persistence backend.
func (l *Log) Snapshot() []LogEntry {
	cp := make([]LogEntry, len(l.entries))
	copy(cp, l.entries)
	return cp
}

// Replace overwrites the log's contents wholesale, used only when loading
// persisted state at startup.
func (l *Log) Replace(entries []LogEntry) {
	l.entries = entries
}
