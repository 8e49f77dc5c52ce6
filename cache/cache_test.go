package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreAndGet(t *testing.T) {
	c := New[string]()
	c.Store("k", "v")
	require.Equal(t, "v", c.Get("k"))
	require.Equal(t, "", c.Get("missing"))
	require.Equal(t, 1, c.Len())
	c.Remove("k")
	require.Equal(t, 0, c.Len())
}

func TestStoreIfAbsent(t *testing.T) {
	c := New[int]()
	require.True(t, c.StoreIfAbsent("uid", 1))
	require.False(t, c.StoreIfAbsent("uid", 2))
	require.Equal(t, 1, c.Get("uid"))
}

func TestStoreIfAbsentConcurrent(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	wins := make(chan int, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if c.StoreIfAbsent("uid", i) {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)
	count := 0
	for range wins {
		count++
	}
	require.Equal(t, 1, count)
}
