package live

import "github.com/mikronoc/mikronoc/internal/model"

// Ring is a fixed-size buffer of rate points used for sparkline rendering.
// Once full, new points overwrite the oldest.
type Ring struct {
	buf   []model.RatePoint
	next  int
	count int
}

func NewRing(size int) *Ring {
	if size < 2 {
		size = 2
	}
	return &Ring{buf: make([]model.RatePoint, size)}
}

func (r *Ring) Push(p model.RatePoint) {
	r.buf[r.next] = p
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Points returns the buffered points oldest to newest.
func (r *Ring) Points() []model.RatePoint {
	out := make([]model.RatePoint, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Last returns the most recent point, if any.
func (r *Ring) Last() (model.RatePoint, bool) {
	if r.count == 0 {
		return model.RatePoint{}, false
	}
	idx := r.next - 1
	if idx < 0 {
		idx += len(r.buf)
	}
	return r.buf[idx], true
}

func (r *Ring) Len() int {
	return r.count
}
