package trafficengine

import "time"

// TickResult lists the entities that expired during a tick.
type TickResult struct {
	Expired []EntityID
}

// Opacity returns the opacity of an entity of the given kind at age.
//
// Without a grace window the opacity falls linearly from the kind's base to zero over fade.
// With one, the base opacity is held for fade and then falls linearly to zero over grace.
// Negative ages are clamped to zero.
func Opacity(kind Kind, age, fade, grace time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	base := kind.BaseOpacity()
	if fade <= 0 || age >= fade+grace {
		return 0
	}
	if grace > 0 {
		if age < fade {
			return base
		}
		return base * (1 - float64(age-fade)/float64(grace))
	}
	return base * (1 - float64(age)/float64(fade))
}

// Tick advances every entity to now. Expired entities are removed from the store before Tick
// returns, so no zero-opacity entity survives a tick. Each entity ages on the schedule captured
// when it was created.
func Tick(s *Store, now time.Time) TickResult {
	var res TickResult
	active := s.entities[:0]
	for _, e := range s.entities {
		age := now.Sub(e.CreatedAt)
		if age < 0 {
			age = 0
		}
		op := Opacity(e.Kind, age, e.FadeDuration, e.GraceWindow)
		if op <= 0 {
			res.Expired = append(res.Expired, e.ID)
			continue
		}
		e.Opacity = op
		e.Visible = s.visibleFor(e)
		active = append(active, e)
	}
	clear(s.entities[len(active):])
	s.entities = active
	return res
}
