package utils

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeMapBasics(t *testing.T) {
	m := NewSafeMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = m.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, m.Len())
	assert.ElementsMatch(t, []string{"a", "b"}, m.Keys())

	m.Delete("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestSafeMapConcurrentAccess(t *testing.T) {
	m := NewSafeMap[string, int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			m.Set(key, i)
			m.Get(key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, m.Len())
}
