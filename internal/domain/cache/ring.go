package cache

// ring is a fixed-capacity FIFO that drops its oldest element when full.
// It is not safe for concurrent use; owners guard it with their own lock.
type ring[T any] struct {
	buf  []T
	head int // oldest element
	size int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends v at the newest end and reports whether the oldest element was dropped.
func (r *ring[T]) push(v T) bool {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return false
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return true
}

func (r *ring[T]) count() int    { return r.size }
func (r *ring[T]) capacity() int { return len(r.buf) }

func (r *ring[T]) oldest() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buf[r.head], true
}

func (r *ring[T]) newest() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.size-1)%len(r.buf)], true
}

// each visits elements from oldest to newest until fn returns false.
func (r *ring[T]) each(fn func(T) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(r.buf[(r.head+i)%len(r.buf)]) {
			return
		}
	}
}
