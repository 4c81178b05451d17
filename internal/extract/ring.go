package extract

// ring is a fixed-capacity string ring buffer. Appends past capacity
// overwrite the oldest entry. Not safe for concurrent use; State guards it.
type ring struct {
	buf   []string
	head  int // index of the oldest entry
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]string, capacity)}
}

func (r *ring) append(line string) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = line
		r.count++
		return
	}
	r.buf[r.head] = line
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) len() int {
	return r.count
}

// tail returns the newest n entries in order, oldest first. n <= 0 or
// n > len returns everything.
func (r *ring) tail(n int) []string {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]string, 0, n)
	start := r.count - n
	for i := start; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
