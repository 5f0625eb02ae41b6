// Package common holds small generic containers shared by the node packages.
package common

// List is an insertion ordered slice of comparable items.
type List[T comparable] struct {
	Data []T
}

func NewList[T comparable]() *List[T] {
	return &List[T]{
		Data: []T{},
	}
}

func (l *List[T]) Len() int {
	return len(l.Data)
}

// Get returns the element at index and whether index was in range.
func (l *List[T]) Get(index int) (T, bool) {
	if index < 0 || index >= len(l.Data) {
		var zero T
		return zero, false
	}
	return l.Data[index], true
}

func (l *List[T]) Insert(v T) {
	l.Data = append(l.Data, v)
}

func (l *List[T]) Clear() {
	l.Data = []T{}
}

// GetIndex will return the index of item. If the item is not found,
// -1 will be returned.
func (l *List[T]) GetIndex(item T) int {
	for i, v := range l.Data {
		if v == item {
			return i
		}
	}
	return -1
}

// Remove deletes the first occurrence of item and reports whether it was
// present.
func (l *List[T]) Remove(item T) bool {
	index := l.GetIndex(item)
	if index == -1 {
		return false
	}
	l.Pop(index)
	return true
}

// Pop deletes the element at index. Out of range indexes are ignored.
func (l *List[T]) Pop(index int) {
	if index < 0 || index >= len(l.Data) {
		return
	}
	l.Data = append(l.Data[:index], l.Data[index+1:]...)
}

func (l *List[T]) Contains(item T) bool {
	return l.GetIndex(item) != -1
}

// First returns the oldest element, or the zero value for an empty list.
func (l *List[T]) First() T {
	v, _ := l.Get(0)
	return v
}

// Last returns the newest element, or the zero value for an empty list.
func (l *List[T]) Last() T {
	v, _ := l.Get(len(l.Data) - 1)
	return v
}
