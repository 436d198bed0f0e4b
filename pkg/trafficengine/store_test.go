package trafficengine

import (
	"testing"
	"time"

	"github.com/sudorandom/traffic-globe/pkg/geo"
)

func testPoint(at time.Time, suspicious bool) VisualEntity {
	return NewPoint(geo.Vec3{X: 1}, "p", suspicious, at, 10*time.Second, 0)
}

func TestStoreInsertAssignsIncreasingIDs(t *testing.T) {
	s := NewStore()
	base := time.Unix(1000, 0)
	var last EntityID
	for i := range 5 {
		id, evicted := s.Insert(testPoint(base.Add(time.Duration(i)*time.Second), false), 0)
		if id <= last {
			t.Errorf("Expected id greater than %d, got %d", last, id)
		}
		if len(evicted) != 0 {
			t.Errorf("Expected no evictions with the bound disabled, got %v", evicted)
		}
		last = id
	}
	if s.Len() != 5 {
		t.Errorf("Expected 5 entities, got %d", s.Len())
	}
}

func TestStoreEvictsOldestFirst(t *testing.T) {
	s := NewStore()
	base := time.Unix(1000, 0)
	var ids []EntityID
	for i := range 4 {
		id, _ := s.Insert(testPoint(base.Add(time.Duration(i)*time.Second), false), 0)
		ids = append(ids, id)
	}

	_, evicted := s.Insert(testPoint(base.Add(10*time.Second), false), 3)
	if len(evicted) != 2 {
		t.Fatalf("Expected 2 evictions, got %v", evicted)
	}
	if evicted[0] != ids[0] || evicted[1] != ids[1] {
		t.Errorf("Expected %v evicted oldest first, got %v", ids[:2], evicted)
	}
	if s.Len() != 3 {
		t.Errorf("Expected population 3, got %d", s.Len())
	}
}

func TestStoreKeepsCreationOrderWhenClockStepsBack(t *testing.T) {
	s := NewStore()
	base := time.Unix(1000, 0)
	late, _ := s.Insert(testPoint(base.Add(5*time.Second), false), 0)
	early, _ := s.Insert(testPoint(base, false), 0)

	_, evicted := s.Insert(testPoint(base.Add(6*time.Second), false), 2)
	if len(evicted) != 1 || evicted[0] != early {
		t.Errorf("Expected entity %d (oldest CreatedAt) evicted, got %v", early, evicted)
	}
	if _, ok := s.Get(late); !ok {
		t.Errorf("Expected entity %d to survive", late)
	}
}

func TestStoreRemoveIsIdempotent(t *testing.T) {
	s := NewStore()
	id, _ := s.Insert(testPoint(time.Unix(1000, 0), false), 0)

	if !s.Remove(id) {
		t.Fatal("Expected first remove to report true")
	}
	if s.Remove(id) {
		t.Error("Expected second remove to report false")
	}
	if s.Remove(999) {
		t.Error("Expected removing an unknown id to report false")
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store, got %d", s.Len())
	}
}

func TestStoreClear(t *testing.T) {
	s := NewStore()
	for i := range 3 {
		s.Insert(testPoint(time.Unix(int64(1000+i), 0), false), 0)
	}
	if n := s.Clear(); n != 3 {
		t.Errorf("Expected 3 cleared, got %d", n)
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store, got %d", s.Len())
	}
	id, _ := s.Insert(testPoint(time.Unix(2000, 0), false), 0)
	if id != 4 {
		t.Errorf("Expected ids to keep increasing after clear, got %d", id)
	}
}

func TestStoreSuspiciousFilter(t *testing.T) {
	s := NewStore()
	normal, _ := s.Insert(testPoint(time.Unix(1000, 0), false), 0)
	bad, _ := s.Insert(testPoint(time.Unix(1000, 0), true), 0)

	if s.VisibleCount() != 2 {
		t.Fatalf("Expected both visible by default, got %d", s.VisibleCount())
	}

	s.SetSuspiciousFilterActive(false)
	if e, _ := s.Get(bad); e.Visible {
		t.Error("Expected suspicious entity hidden")
	}
	if e, _ := s.Get(normal); !e.Visible {
		t.Error("Expected normal entity to stay visible")
	}
	if e, _ := s.Get(bad); e.Opacity != PointBaseOpacity {
		t.Errorf("Expected opacity untouched by the filter, got %v", e.Opacity)
	}

	s.SetSuspiciousFilterActive(true)
	if s.VisibleCount() != 2 {
		t.Errorf("Expected both visible again, got %d", s.VisibleCount())
	}
}

func TestStoreAllIsASnapshot(t *testing.T) {
	s := NewStore()
	s.Insert(testPoint(time.Unix(1000, 0), false), 0)
	s.Insert(testPoint(time.Unix(1001, 0), false), 0)

	seq := s.All()
	s.Clear()

	n := 0
	for range seq {
		n++
	}
	if n != 2 {
		t.Errorf("Expected snapshot of 2 entities, got %d", n)
	}
}
