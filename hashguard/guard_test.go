package hashguard_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proofmesh/proofmesh/hashguard"
	"github.com/proofmesh/proofmesh/types"
)

func TestDuplicateRejected(t *testing.T) {
	t.Parallel()
	for _, size := range []int{0, 16} {
		size := size
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			t.Parallel()
			guard, err := hashguard.New(hashguard.Config{Size: size})
			require.NoError(t, err)

			hash, err := guard.Check([]byte(`{"a":1,"b":2}`))
			require.NoError(t, err)
			require.NotEmpty(t, hash)

			again, err := guard.Check([]byte(`{"b":2,"a":1}`))
			require.ErrorIs(t, err, types.ErrDuplicateJob)
			require.Equal(t, hash, again)

			guard.Forget(hash)
			_, err = guard.Check([]byte(`{"a":1,"b":2}`))
			require.NoError(t, err)
		})
	}
}

func TestBoundedGuardEvictsOldest(t *testing.T) {
	t.Parallel()
	guard, err := hashguard.New(hashguard.Config{Size: 2})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := guard.Check([]byte(fmt.Sprintf(`{"i":%d}`, i)))
		require.NoError(t, err)
	}
	require.Equal(t, 2, guard.Len())

	_, err = guard.Check([]byte(`{"i":0}`))
	require.NoError(t, err, "evicted entry must be accepted again")
	_, err = guard.Check([]byte(`{"i":2}`))
	require.ErrorIs(t, err, types.ErrDuplicateJob)
}

func TestConcurrentCheckAdmitsOnce(t *testing.T) {
	t.Parallel()
	guard, err := hashguard.New(hashguard.DefaultConfig())
	require.NoError(t, err)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := guard.Check([]byte(`{"same":"payload"}`)); err == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, accepted.Load())
}

func TestInvalidPayload(t *testing.T) {
	t.Parallel()
	guard, err := hashguard.New(hashguard.DefaultConfig())
	require.NoError(t, err)
	_, err = guard.Check([]byte(`not json`))
	require.Error(t, err)
	require.NotErrorIs(t, err, types.ErrDuplicateJob)
	require.Zero(t, guard.Len())
}
