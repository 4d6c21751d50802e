package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRegistryRememberLookupForget(t *testing.T) {
	r := NewFileRegistry(2)
	r.Remember("f1", "FAC-A")
	r.Remember("f2", "FAC-B")

	code, ok := r.Lookup("f1")
	require.True(t, ok)
	assert.Equal(t, "FAC-A", code)

	r.Forget("f1")
	_, ok = r.Lookup("f1")
	assert.False(t, ok)
}

func TestFileRegistryEvictsOldestOverLimit(t *testing.T) {
	r := NewFileRegistry(2)
	r.Remember("f1", "FAC-A")
	r.Remember("f2", "FAC-B")
	r.Remember("f3", "FAC-C")

	_, ok := r.Lookup("f1")
	assert.False(t, ok, "oldest entry should have been evicted")

	code, ok := r.Lookup("f3")
	require.True(t, ok)
	assert.Equal(t, "FAC-C", code)
}

func TestFileRegistryReRememberDoesNotBumpEvictionOrder(t *testing.T) {
	r := NewFileRegistry(2)
	r.Remember("f1", "FAC-A")
	r.Remember("f1", "FAC-A-RENAMED") // touching f1 again does not move it in eviction order
	r.Remember("f2", "FAC-B")
	r.Remember("f3", "FAC-C")

	// f1 was still the oldest entry by first-sight order, so it is the one
	// evicted even though it was touched more recently than f2.
	_, ok := r.Lookup("f1")
	assert.False(t, ok)

	code, ok := r.Lookup("f2")
	require.True(t, ok)
	assert.Equal(t, "FAC-B", code)
}

func TestFileRegistryConcurrentAccess(t *testing.T) {
	r := NewFileRegistry(100)
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(n int) {
			r.Remember("f", "FAC")
			r.Lookup("f")
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for concurrent registry access")
		}
	}
}
