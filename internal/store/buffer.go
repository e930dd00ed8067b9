package store

// Buffer keeps every appended item in an unbounded arena and a bounded
// window over the newest items. The window is a ring of arena indices, so
// eviction never copies items.
type Buffer[T any] struct {
	raw  []T
	ring []int
	head int
	size int
}

func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &Buffer[T]{ring: make([]int, capacity)}
}

// Append stores items and returns how many items left the visible window.
func (b *Buffer[T]) Append(items ...T) int {
	evicted := 0

	for _, item := range items {
		b.raw = append(b.raw, item)
		idx := len(b.raw) - 1

		if b.size == len(b.ring) {
			b.ring[b.head] = idx
			b.head = (b.head + 1) % len(b.ring)
			evicted++
			continue
		}

		b.ring[(b.head+b.size)%len(b.ring)] = idx
		b.size++
	}

	return evicted
}

// Visible returns the items inside the window, oldest first.
func (b *Buffer[T]) Visible() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.raw[b.ring[(b.head+i)%len(b.ring)]]
	}

	return out
}

// All returns every item ever appended since the last reset.
func (b *Buffer[T]) All() []T {
	out := make([]T, len(b.raw))
	copy(out, b.raw)

	return out
}

func (b *Buffer[T]) Len() int {
	return len(b.raw)
}

func (b *Buffer[T]) VisibleLen() int {
	return b.size
}

func (b *Buffer[T]) Cap() int {
	return len(b.ring)
}

func (b *Buffer[T]) Reset() {
	b.raw = nil
	b.head = 0
	b.size = 0
}
