package feed

import (
	"strings"

	"github.com/cloudflare/ahocorasick"

	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
)

// Watchlist flags traffic whose endpoint names or protocol contain a watched term. Matching is
// case-insensitive.
type Watchlist struct {
	terms   []string
	matcher *ahocorasick.Matcher
}

func NewWatchlist(terms []string) *Watchlist {
	var clean []string
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			clean = append(clean, t)
		}
	}
	w := &Watchlist{terms: clean}
	if len(clean) > 0 {
		w.matcher = ahocorasick.NewStringMatcher(clean)
	}
	return w
}

// Terms returns the watched terms that matched ev.
func (w *Watchlist) Terms(ev trafficengine.TrafficEvent) []string {
	if w == nil || w.matcher == nil {
		return nil
	}
	var out []string
	for _, i := range w.matcher.Match(haystack(ev)) {
		out = append(out, w.terms[i])
	}
	return out
}

// Classify marks ev suspicious when it matches. It never clears the flag.
func (w *Watchlist) Classify(ev trafficengine.TrafficEvent) trafficengine.TrafficEvent {
	if w == nil || w.matcher == nil || ev.Suspicious {
		return ev
	}
	if w.matcher.Contains(haystack(ev)) {
		ev.Suspicious = true
	}
	return ev
}

// Wrap returns a callback that classifies each event before handing it on.
func (w *Watchlist) Wrap(next EventCallback) EventCallback {
	return func(ev trafficengine.TrafficEvent) {
		next(w.Classify(ev))
	}
}

func haystack(ev trafficengine.TrafficEvent) []byte {
	// newline separators keep a term from matching across two fields
	return []byte(strings.ToLower(ev.Source.Name + "\n" + ev.Destination.Name + "\n" + ev.Protocol))
}
