package ring

// Buffer is a fixed-capacity circular buffer with FIFO eviction.
// Append is O(1) and never allocates after construction.
// It is not safe for concurrent use; owners must serialize access.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	count int
}

// New creates a Buffer with the given capacity. Panics if capacity <= 0.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Append adds v at the tail, evicting the oldest element when full.
func (b *Buffer[T]) Append(v T) {
	tail := (b.head + b.count) % len(b.items)
	b.items[tail] = v
	if b.count < len(b.items) {
		b.count++
	} else {
		// Full: tail overwrote the oldest slot, advance head
		b.head = (b.head + 1) % len(b.items)
	}
}

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int {
	return b.count
}

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// At returns the i-th element in insertion order (0 = oldest).
// Panics if i is out of range.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.count {
		panic("ring: index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Last returns the most recently appended element and true,
// or the zero value and false when empty.
func (b *Buffer[T]) Last() (T, bool) {
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.At(b.count - 1), true
}

// Slice returns the elements oldest-first as a freshly allocated slice.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.At(i)
	}
	return out
}

// Reset empties the buffer without releasing storage.
func (b *Buffer[T]) Reset() {
	b.head = 0
	b.count = 0
}

// Restore replaces the contents with vs, keeping only the newest
// elements when vs exceeds capacity. Used when reloading saved state.
func (b *Buffer[T]) Restore(vs []T) {
	b.Reset()
	if over := len(vs) - len(b.items); over > 0 {
		vs = vs[over:]
	}
	for _, v := range vs {
		b.Append(v)
	}
}
