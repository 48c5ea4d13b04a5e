package recycler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetReturnsRightSize(t *testing.T) {
	r := New(64)
	buf := r.Get()
	require.Len(t, buf, 64)
}

func TestRecycleAndSwapReuses(t *testing.T) {
	r := New(8)
	buf := r.Get()
	buf[0] = 0xFF
	r.Recycle(buf)

	// Not yet available: still in "current", not "previous".
	r.Swap()
	reused := r.Get()
	require.Len(t, reused, 8)
	require.Equal(t, byte(0), reused[0]) // zeroed on reuse
}

func TestSwapDropsStalePreviousGeneration(t *testing.T) {
	r := New(4)
	r.Recycle(r.Get())
	r.Swap() // gen0 -> previous
	r.Swap() // previous (gen0, unused) dropped, current (empty) -> previous
	before := len(r.previous)
	require.Equal(t, 0, before)
}

func TestRecycleWrongSizeIgnored(t *testing.T) {
	r := New(16)
	require.NotPanics(t, func() {
		r.Recycle(make([]byte, 4))
	})
}
