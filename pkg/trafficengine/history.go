package trafficengine

// History is a fixed-size ring of the most recent traffic events. The oldest event is dropped
// once the ring is full.
type History struct {
	buf   []TrafficEvent
	start int
	n     int
}

func NewHistory(size int) *History {
	return &History{buf: make([]TrafficEvent, size)}
}

func (h *History) Push(ev TrafficEvent) {
	if len(h.buf) == 0 {
		return
	}
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = ev
		h.n++
		return
	}
	h.buf[h.start] = ev
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History) Len() int { return h.n }

func (h *History) Cap() int { return len(h.buf) }

// Events returns a copy of the ring, oldest first.
func (h *History) Events() []TrafficEvent {
	out := make([]TrafficEvent, 0, h.n)
	for i := 0; i < h.n; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}

func (h *History) Reset() {
	clear(h.buf)
	h.start, h.n = 0, 0
}
