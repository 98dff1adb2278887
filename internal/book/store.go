package book

import (
	"sync"
	"time"

	"github.com/amirphl/bookstream/internal/market"
)

// Store holds the latest book for every venue.
type Store struct {
	depth int
	now   func() time.Time

	mu    sync.RWMutex
	books map[market.Venue]*slot
	order []market.Venue
}

type slot struct {
	mu   sync.RWMutex
	book market.Book
}

// NewStore creates an empty book for each venue. depth bounds both sides of
// every book; a non-positive value selects market.DefaultDepth.
func NewStore(depth int, venues ...market.Venue) *Store {
	if depth <= 0 {
		depth = market.DefaultDepth
	}
	s := &Store{
		depth: depth,
		now:   time.Now,
		books: make(map[market.Venue]*slot, len(venues)),
	}
	for _, v := range venues {
		s.slotFor(v)
	}
	return s
}

// Depth returns the per-side bound.
func (s *Store) Depth() int { return s.depth }

// Venues returns the known venues in registration order.
func (s *Store) Venues() []market.Venue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]market.Venue, len(s.order))
	copy(out, s.order)
	return out
}

// Get returns a copy of the latest book for venue. An unknown venue yields an
// empty book.
func (s *Store) Get(venue market.Venue) market.Book {
	sl, ok := s.lookup(venue)
	if !ok {
		return emptyBook(venue)
	}

	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.book.Clone()
}

// Apply merges u into the venue's book. It returns false, leaving the book
// untouched, when u carries no levels.
func (s *Store) Apply(u market.Update) bool {
	if u.IsEmpty() {
		return false
	}

	sl := s.slotFor(u.Venue)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	next := market.Book{
		Venue:     u.Venue,
		Bids:      Merge(sl.book.Bids, u.Bids, u.Snapshot, market.Descending, s.depth),
		Asks:      Merge(sl.book.Asks, u.Asks, u.Snapshot, market.Ascending, s.depth),
		UpdatedAt: s.now(),
		Version:   sl.book.Version + 1,
	}
	sl.book = next
	return true
}

// Len returns the number of bid and ask levels held for venue.
func (s *Store) Len(venue market.Venue) (bids, asks int) {
	sl, ok := s.lookup(venue)
	if !ok {
		return 0, 0
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return len(sl.book.Bids), len(sl.book.Asks)
}

// Clear resets the venue's book to empty. Version keeps counting up so a
// cleared book never reuses a version already handed out.
func (s *Store) Clear(venue market.Venue) {
	sl, ok := s.lookup(venue)
	if !ok {
		return
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.book.IsEmpty() {
		return
	}
	next := emptyBook(venue)
	next.UpdatedAt = s.now()
	next.Version = sl.book.Version + 1
	sl.book = next
}

func (s *Store) lookup(venue market.Venue) (*slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.books[venue]
	return sl, ok
}

func (s *Store) slotFor(venue market.Venue) *slot {
	if sl, ok := s.lookup(venue); ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.books[venue]; ok {
		return sl
	}
	sl := &slot{book: emptyBook(venue)}
	s.books[venue] = sl
	s.order = append(s.order, venue)
	return sl
}

func emptyBook(venue market.Venue) market.Book {
	return market.Book{Venue: venue, Bids: market.Side{}, Asks: market.Side{}}
}
