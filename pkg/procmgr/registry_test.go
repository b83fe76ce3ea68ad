package procmgr

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRegistry_AddRemove(t *testing.T) {
	r := NewServiceRegistry()
	conn := newWorkerConnection(0, isolation.Sandboxed, false, nil)

	assert.False(t, r.Add(NullPID, conn), "Null pid is never registered")
	assert.False(t, r.Add(5, nil))
	assert.Equal(t, 0, r.Len())

	require.True(t, r.Add(300, conn))
	require.True(t, r.Add(100, newWorkerConnection(1, isolation.Sandboxed, false, nil)))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []int{100, 300}, r.PIDs())

	got, ok := r.Get(300)
	require.True(t, ok)
	assert.Same(t, conn, got)

	removed, ok := r.Remove(300)
	require.True(t, ok)
	assert.Same(t, conn, removed)

	_, ok = r.Remove(300)
	assert.False(t, ok, "Second remove must miss")
	assert.Equal(t, 1, r.Len())
}

// TestServiceRegistry_RemoveExactlyOnce tests concurrent removers of one pid
func TestServiceRegistry_RemoveExactlyOnce(t *testing.T) {
	r := NewServiceRegistry()
	r.Add(42, newWorkerConnection(0, isolation.Sandboxed, false, nil))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Remove(42); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}
