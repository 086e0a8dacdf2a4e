package chat

const minQueueSize = 8

// queue is a FIFO ring. With limit > 0 a push onto a full queue evicts the
// oldest element; otherwise the ring grows.
type queue[T any] struct {
	buf   []T
	head  int
	size  int
	limit int
}

func newQueue[T any](limit int) *queue[T] {
	if limit < 0 {
		limit = 0
	}
	return &queue[T]{limit: limit}
}

func (q *queue[T]) len() int { return q.size }

// push appends v and reports whether the oldest element was dropped to make room.
func (q *queue[T]) push(v T) (evicted bool) {
	if q.limit > 0 && q.size == q.limit {
		q.pop()
		evicted = true
	}
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = v
	q.size++
	return evicted
}

func (q *queue[T]) pop() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v, true
}

func (q *queue[T]) grow() {
	n := max(2*len(q.buf), minQueueSize)
	if q.limit > 0 {
		n = min(n, q.limit)
	}
	buf := make([]T, n)
	for i := 0; i < q.size; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}

func (q *queue[T]) reset() {
	clear(q.buf)
	q.buf = nil
	q.head = 0
	q.size = 0
}
