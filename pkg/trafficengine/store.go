package trafficengine

import (
	"iter"
	"slices"
	"sort"
)

// Store owns the live entities. It is not safe for concurrent use; Engine serializes access.
type Store struct {
	// ordered by CreatedAt, then ID, so the front is always the eviction candidate
	entities       []VisualEntity
	nextID         EntityID
	showSuspicious bool
}

func NewStore() *Store {
	return &Store{showSuspicious: true}
}

// Insert assigns an ID to e and adds it. If the population then exceeds maxItems the oldest
// entities are evicted until it fits; their IDs are returned oldest first. maxItems <= 0 disables
// the bound.
func (s *Store) Insert(e VisualEntity, maxItems int) (EntityID, []EntityID) {
	s.nextID++
	e.ID = s.nextID
	e.Visible = s.visibleFor(e)

	// Entities normally arrive in creation order; a clock that steps backwards still keeps
	// the slice sorted so eviction stays FIFO by CreatedAt.
	i := len(s.entities)
	if i > 0 && e.CreatedAt.Before(s.entities[i-1].CreatedAt) {
		i = sort.Search(len(s.entities), func(j int) bool {
			return s.entities[j].CreatedAt.After(e.CreatedAt)
		})
	}
	s.entities = slices.Insert(s.entities, i, e)

	var evicted []EntityID
	if maxItems > 0 {
		evicted = s.Shrink(maxItems)
	}
	return e.ID, evicted
}

// Shrink evicts the oldest entities until at most maxItems remain.
func (s *Store) Shrink(maxItems int) []EntityID {
	over := len(s.entities) - maxItems
	if over <= 0 {
		return nil
	}
	evicted := make([]EntityID, 0, over)
	for _, e := range s.entities[:over] {
		evicted = append(evicted, e.ID)
	}
	s.entities = slices.Delete(s.entities, 0, over)
	return evicted
}

// Remove deletes the entity with the given id. Removing an absent id is a no-op.
func (s *Store) Remove(id EntityID) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.entities = slices.Delete(s.entities, i, i+1)
	return true
}

// Clear drops every entity at once and returns how many were removed.
func (s *Store) Clear() int {
	n := len(s.entities)
	s.entities = nil
	return n
}

func (s *Store) Get(id EntityID) (VisualEntity, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return VisualEntity{}, false
	}
	return s.entities[i], true
}

func (s *Store) Len() int { return len(s.entities) }

// All iterates over a snapshot taken when All is called; later mutations are not observed.
func (s *Store) All() iter.Seq[VisualEntity] {
	snapshot := slices.Clone(s.entities)
	return func(yield func(VisualEntity) bool) {
		for _, e := range snapshot {
			if !yield(e) {
				return
			}
		}
	}
}

// SetSuspiciousFilterActive recomputes visibility for every entity. Opacity and age are untouched.
func (s *Store) SetSuspiciousFilterActive(active bool) {
	s.showSuspicious = active
	for i := range s.entities {
		s.entities[i].Visible = s.visibleFor(s.entities[i])
	}
}

func (s *Store) SuspiciousFilterActive() bool { return s.showSuspicious }

func (s *Store) VisibleCount() int {
	n := 0
	for _, e := range s.entities {
		if e.Visible {
			n++
		}
	}
	return n
}

func (s *Store) visibleFor(e VisualEntity) bool {
	if e.Opacity <= 0 {
		return false
	}
	return !e.Suspicious || s.showSuspicious
}

func (s *Store) indexOf(id EntityID) int {
	// IDs are assigned in increasing order and the slice is almost always in ID order.
	i := sort.Search(len(s.entities), func(j int) bool { return s.entities[j].ID >= id })
	if i < len(s.entities) && s.entities[i].ID == id {
		return i
	}
	return slices.IndexFunc(s.entities, func(e VisualEntity) bool { return e.ID == id })
}
