// Package session keeps per-chat conversation state for the subscription
// wizard. State lives for the lifetime of the process.
package session

import (
	"slices"
	"sync"
	"time"
)

// State is the wizard step a chat is on.
type State int

const (
	StateIdle State = iota
	StateChoosingFrom
	StateChoosingTo
	StateEnteringFromDate
	StateEnteringToDate
	StateChoosingBrands
	StateEnteringMinSeats
)

func (s State) String() string {
	switch s {
	case StateChoosingFrom:
		return "choosing_from"
	case StateChoosingTo:
		return "choosing_to"
	case StateEnteringFromDate:
		return "entering_from_date"
	case StateEnteringToDate:
		return "entering_to_date"
	case StateChoosingBrands:
		return "choosing_brands"
	case StateEnteringMinSeats:
		return "entering_min_seats"
	default:
		return "idle"
	}
}

// Draft is a subscription being assembled by the wizard.
type Draft struct {
	State       State
	StationFrom string
	StationTo   string
	FromDate    time.Time
	ToDate      time.Time
	BrandIDs    []int64
	UpdatedAt   time.Time
}

// ToggleBrand adds id to the selection, or removes it if already present.
func (d *Draft) ToggleBrand(id int64) {
	if i := slices.Index(d.BrandIDs, id); i >= 0 {
		d.BrandIDs = slices.Delete(d.BrandIDs, i, i+1)
		return
	}
	d.BrandIDs = append(d.BrandIDs, id)
}

// HasBrand reports whether id is selected.
func (d *Draft) HasBrand(id int64) bool {
	return slices.Contains(d.BrandIDs, id)
}

// Store maps chat ids to drafts. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	drafts map[int64]*Draft
	now    func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{drafts: make(map[int64]*Draft), now: time.Now}
}

// Get returns a copy of the chat's draft. A chat with no draft is idle.
func (s *Store) Get(chatID int64) Draft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[chatID]
	if !ok {
		return Draft{State: StateIdle}
	}
	return clone(d)
}

// Set replaces the chat's draft.
func (s *Store) Set(chatID int64, d Draft) {
	d = clone(&d)
	d.UpdatedAt = s.now()
	s.mu.Lock()
	s.drafts[chatID] = &d
	s.mu.Unlock()
}

// Update applies fn to the chat's draft, creating an idle one first if
// needed, and returns the result.
func (s *Store) Update(chatID int64, fn func(*Draft)) Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[chatID]
	if !ok {
		d = &Draft{State: StateIdle}
		s.drafts[chatID] = d
	}
	fn(d)
	d.UpdatedAt = s.now()
	return clone(d)
}

// Clear drops the chat's draft.
func (s *Store) Clear(chatID int64) {
	s.mu.Lock()
	delete(s.drafts, chatID)
	s.mu.Unlock()
}

// Len returns the number of chats with a draft.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drafts)
}

// Expire drops drafts untouched since before cutoff and returns how many
// were removed.
func (s *Store) Expire(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, d := range s.drafts {
		if d.UpdatedAt.Before(cutoff) {
			delete(s.drafts, id)
			n++
		}
	}
	return n
}

func clone(d *Draft) Draft {
	c := *d
	c.BrandIDs = slices.Clone(d.BrandIDs)
	return c
}
