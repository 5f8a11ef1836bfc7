// Package turnbuffer implements the bounded FIFO of recent chat exchanges
// that forms the model's context window.
package turnbuffer

import "fmt"

// DefaultCapacity - сколько последних сообщений уходит модели вместе с выбором.
const DefaultCapacity = 3

// Buffer - неизменяемая FIFO очередь фиксированной емкости.
type Buffer[T any] struct {
	capacity int
	items    []T
}

// New создает пустой буфер емкостью capacity, опционально заполняя его seed.
func New[T any](capacity int, seed ...T) (Buffer[T], error) {
	if capacity < 1 {
		return Buffer[T]{}, fmt.Errorf("turn buffer capacity must be positive, got %d", capacity)
	}
	b := Buffer[T]{capacity: capacity}
	for _, item := range seed {
		b = b.Push(item)
	}
	return b, nil
}

// Push returns a buffer with item appended; when full, the oldest entries are
// evicted so that the length never exceeds the capacity.
func (b Buffer[T]) Push(item T) Buffer[T] {
	start := 0
	if len(b.items) >= b.capacity {
		start = len(b.items) - b.capacity + 1
	}
	next := make([]T, 0, b.capacity)
	next = append(next, b.items[start:]...)
	next = append(next, item)
	return Buffer[T]{capacity: b.capacity, items: next}
}

// Items возвращает копию содержимого, от старых к новым.
func (b Buffer[T]) Items() []T {
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

func (b Buffer[T]) Len() int { return len(b.items) }

func (b Buffer[T]) Cap() int { return b.capacity }

// Clear возвращает пустой буфер той же емкости.
func (b Buffer[T]) Clear() Buffer[T] {
	return Buffer[T]{capacity: b.capacity}
}
