package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestList(t *testing.T) {
	l := NewList[int]()
	assert.Zero(t, l.First())
	assert.Zero(t, l.Last())

	for i := 1; i <= 5; i++ {
		l.Insert(i)
	}
	assert.Equal(t, 5, l.Len())
	assert.Equal(t, 1, l.First())
	assert.Equal(t, 5, l.Last())
	assert.Equal(t, 2, l.GetIndex(3))
	assert.Equal(t, -1, l.GetIndex(42))

	v, ok := l.Get(4)
	assert.True(t, ok)
	assert.Equal(t, 5, v)
	_, ok = l.Get(5)
	assert.False(t, ok)
	_, ok = l.Get(-1)
	assert.False(t, ok)

	assert.True(t, l.Remove(3))
	assert.False(t, l.Remove(3))
	assert.False(t, l.Contains(3))
	assert.Equal(t, []int{1, 2, 4, 5}, l.Data)

	l.Pop(10)
	l.Pop(0)
	assert.Equal(t, []int{2, 4, 5}, l.Data)

	l.Clear()
	assert.Zero(t, l.Len())
}
