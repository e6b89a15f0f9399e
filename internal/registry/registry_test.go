package registry_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"peerlink/internal/domain"
	"peerlink/internal/registry"
)

func TestObserve_NewThenRefresh(t *testing.T) {
	clk := clock.NewMock()
	r := registry.New(10*time.Second, clk)

	rec, isNew := r.Observe("alpha", "10.0.0.2:8001", domain.CapText)
	require.True(t, isNew)
	require.Equal(t, clk.Now(), rec.LastSeen)

	clk.Add(4 * time.Second)
	rec, isNew = r.Observe("alpha", "10.0.0.3:8001", domain.CapText)
	require.False(t, isNew)
	require.Equal(t, "10.0.0.3:8001", rec.Address)
	require.Equal(t, clk.Now(), rec.LastSeen)
}

func TestObserve_AfterExpiryIsNew(t *testing.T) {
	clk := clock.NewMock()
	r := registry.New(10*time.Second, clk)

	r.Observe("alpha", "a", 0)
	clk.Add(11 * time.Second)
	_, isNew := r.Observe("alpha", "a", 0)
	require.True(t, isNew)
}

func TestListLive_FiltersAndSorts(t *testing.T) {
	clk := clock.NewMock()
	r := registry.New(10*time.Second, clk)

	r.Observe("old", "x", 0)
	clk.Add(6 * time.Second)
	r.Observe("zeta", "z", 0)
	r.Observe("beta", "b", 0)
	clk.Add(5 * time.Second)

	live := r.ListLive()
	require.Len(t, live, 2)
	require.Equal(t, domain.PeerIdentity("beta"), live[0].Identity)
	require.Equal(t, domain.PeerIdentity("zeta"), live[1].Identity)

	_, ok := r.Lookup("old")
	require.False(t, ok)
	_, ok = r.Lookup("beta")
	require.True(t, ok)
}

func TestExpireSweep(t *testing.T) {
	clk := clock.NewMock()
	r := registry.New(10*time.Second, clk)

	r.Observe("a", "1", 0)
	r.Observe("b", "2", 0)
	clk.Add(10 * time.Second)
	require.Empty(t, r.ExpireSweep(), "exactly at the window is still live")

	r.Observe("b", "2", 0)
	clk.Add(time.Second)
	require.Equal(t, []domain.PeerIdentity{"a"}, r.ExpireSweep())
	require.Equal(t, 1, r.Len())
	require.Empty(t, r.ExpireSweep())
}

func TestConcurrentObserve(t *testing.T) {
	r := registry.New(time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Observe(domain.PeerIdentity(fmt.Sprintf("peer-%d", j%10)), "addr", 0)
				r.ListLive()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 10, r.Len())
}
