// Package stream reconciles optimistic local entries with server
// confirmations and pushes into one insertion-ordered list.
package stream

import (
	"errors"
	"slices"
	"sync"

	"github.com/courtdesk/courtdesk/internal/bus"
)

// ErrNotTemporary is returned when an optimistic entry carries a server id.
var ErrNotTemporary = errors.New("optimistic entry must have a temporary id")

// Op names the mutation reported in a Change.
type Op string

const (
	OpAppend  Op = "append"
	OpSettle  Op = "settle"
	OpMerge   Op = "merge"
	OpFail    Op = "fail"
	OpRead    Op = "read"
	OpReadAll Op = "read_all"
	OpRemove  Op = "remove"
	OpLoad    Op = "load"
	OpReset   Op = "reset"
)

// Change is the payload of stream.changed events.
type Change struct {
	Key    string
	Op     Op
	ID     ID
	Len    int
	Unread int
}

// Stream holds the entries of one conversation or notification session.
// At most one entry exists per server id, and an entry keeps its index when
// settled. The unread counter always equals the number of entries with
// IsRead false.
type Stream struct {
	mu     sync.RWMutex
	key    string
	items  []Item
	unread int
	bus    *bus.Bus
}

// New creates an empty stream identified by key.
func New(key string, b *bus.Bus) *Stream {
	return &Stream{key: key, bus: b}
}

// Key returns the identifier of the conversation or session the stream holds.
func (s *Stream) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// AppendOptimistic adds a locally created entry at the tail.
func (s *Stream) AppendOptimistic(item Item) error {
	if !item.ID.IsTemporary() {
		return ErrNotTemporary
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(item.ID) >= 0 {
		return nil
	}
	s.items = append(s.items, item)
	s.count(item, 1)
	s.emit(OpAppend, item.ID)
	return nil
}

// Settle replaces the optimistic entry tempID with its confirmed record, in
// place. If a push already inserted the confirmed id, the temporary entry is
// dropped and the existing entry is overwritten instead. Returns false when
// tempID is no longer present.
func (s *Stream) Settle(tempID ID, confirmed Item) bool {
	if !tempID.IsTemporary() || confirmed.ID.IsTemporary() || confirmed.ID.IsZero() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(tempID)
	if i < 0 {
		return false
	}
	if j := s.indexOf(confirmed.ID); j >= 0 {
		s.replace(j, confirmed)
		s.removeAt(i)
	} else {
		s.replace(i, confirmed)
	}
	s.emit(OpSettle, confirmed.ID)
	return true
}

// MergeInbound upserts a server record: an existing entry with the same id is
// overwritten in place, otherwise the record is appended. Records without a
// server id are ignored.
func (s *Stream) MergeInbound(item Item) bool {
	if item.ID.IsTemporary() || item.ID.IsZero() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(item.ID); i >= 0 {
		s.replace(i, item)
	} else {
		s.items = append(s.items, item)
		s.count(item, 1)
	}
	s.emit(OpMerge, item.ID)
	return true
}

// Fail removes the optimistic entry tempID after its send failed.
func (s *Stream) Fail(tempID ID) bool {
	if !tempID.IsTemporary() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(tempID)
	if i < 0 {
		return false
	}
	s.removeAt(i)
	s.emit(OpFail, tempID)
	return true
}

// MarkRead flips the entry to read. Returns true only when it was unread.
func (s *Stream) MarkRead(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 || s.items[i].IsRead {
		return false
	}
	s.items[i].IsRead = true
	s.dec(1)
	s.emit(OpRead, id)
	return true
}

// MarkAllRead flips every entry to read and returns how many changed.
func (s *Stream) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.items {
		if !s.items[i].IsRead {
			s.items[i].IsRead = true
			n++
		}
	}
	s.unread = 0
	s.emit(OpReadAll, ID{})
	return n
}

// Remove deletes the entry with the given id.
func (s *Stream) Remove(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.removeAt(i)
	s.emit(OpRemove, id)
	return true
}

// Load replaces the contents with a server snapshot. Duplicate ids collapse
// into the slot of their first occurrence, keeping the last record.
func (s *Stream) Load(items []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = s.items[:0:0]
	s.unread = 0
	for _, item := range items {
		if item.ID.IsZero() {
			continue
		}
		if i := s.indexOf(item.ID); i >= 0 {
			s.replace(i, item)
			continue
		}
		s.items = append(s.items, item)
		s.count(item, 1)
	}
	s.emit(OpLoad, ID{})
}

// Reset discards all entries and rebinds the stream to key.
func (s *Stream) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.key = key
	s.items = nil
	s.unread = 0
	s.emit(OpReset, ID{})
}

// Items returns a copy of the entries in stored order.
func (s *Stream) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// Get returns the entry with the given id.
func (s *Stream) Get(id ID) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return Item{}, false
	}
	return s.items[i], true
}

// Len returns the number of entries.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Unread returns the unread counter.
func (s *Stream) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

func (s *Stream) indexOf(id ID) int {
	if id.IsZero() {
		return -1
	}
	return slices.IndexFunc(s.items, func(it Item) bool { return it.ID == id })
}

func (s *Stream) replace(i int, item Item) {
	s.count(s.items[i], -1)
	s.items[i] = item
	s.count(item, 1)
}

func (s *Stream) removeAt(i int) {
	s.count(s.items[i], -1)
	s.items = slices.Delete(s.items, i, i+1)
}

// count adjusts the unread counter by delta when item is unread.
func (s *Stream) count(item Item, delta int) {
	if item.IsRead {
		return
	}
	if delta < 0 {
		s.dec(-delta)
		return
	}
	s.unread += delta
}

func (s *Stream) dec(n int) {
	s.unread = max(0, s.unread-n)
}

func (s *Stream) emit(op Op, id ID) {
	s.bus.Emit(bus.StreamChanged, Change{
		Key:    s.key,
		Op:     op,
		ID:     id,
		Len:    len(s.items),
		Unread: s.unread,
	})
}
