package gate

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateOpenCloseIdempotent(t *testing.T) {
	g := NewGate(Bot)

	g.Open(Customer)
	g.Open(Customer)
	assert.True(t, g.IsOpen(Customer))
	assert.Equal(t, []Role{Customer}, g.OpenSinks(), "повторный Open не должен добавлять получателей")

	g.Close(Customer)
	g.Close(Customer)
	assert.False(t, g.IsOpen(Customer))
	assert.Empty(t, g.OpenSinks())
}

func TestGateIgnoresSelfAndInvalidSinks(t *testing.T) {
	g := NewGate(Customer)

	g.Open(Customer)
	assert.False(t, g.IsOpen(Customer), "поток самому себе не открывается")

	g.Open(Role(42))
	assert.False(t, g.IsOpen(Role(42)))
	assert.Equal(t, "role(42)", Role(42).String())
}

func TestGateRouteIsExclusive(t *testing.T) {
	g := NewGate(Bot)
	g.Open(Customer)

	g.Route(Specialist)
	assert.True(t, g.IsOpen(Specialist))
	assert.False(t, g.IsOpen(Customer))

	g.Route(Customer)
	assert.True(t, g.IsOpen(Customer))
	assert.False(t, g.IsOpen(Specialist))
}

// Наблюдатель в отдельной горутине никогда не должен увидеть
// одновременно открытые bot->customer и bot->specialist.
func TestGateRouteNeverOpensBothUnderConcurrency(t *testing.T) {
	g := NewGate(Bot)
	g.Route(Customer)

	var violations atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if g.IsOpen(Customer) && g.IsOpen(Specialist) {
				violations.Add(1)
			}
		}
	}()

	for i := 0; i < 10000; i++ {
		if i%2 == 0 {
			g.Route(Specialist)
		} else {
			g.Route(Customer)
		}
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, violations.Load())
}

func TestGatePassReportsDrops(t *testing.T) {
	var drops []string
	r := NewRegistry(WithDropObserver(func(source, sink Role) {
		drops = append(drops, source.String()+"->"+sink.String())
	}))

	assert.True(t, r.Party(Customer).Pass(Bot))
	assert.False(t, r.Party(Customer).Pass(Specialist))
	assert.False(t, r.Party(Customer).Pass(Customer), "кадр самому себе не считается отброшенным")

	assert.Equal(t, []string{"customer->specialist"}, drops)
}

func TestRegistryBaselineAndReset(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, Baseline(), r.Snapshot())

	r.Isolate(Bot)
	r.Link(Customer, Specialist)
	assert.NotEqual(t, Baseline(), r.Snapshot())

	r.Reset()
	assert.Equal(t, Baseline(), r.Snapshot())
}

func TestRegistryLinkUnlinkIsolate(t *testing.T) {
	r := NewRegistry()

	r.Link(Customer, Specialist)
	assert.True(t, r.Party(Customer).IsOpen(Specialist))
	assert.True(t, r.Party(Specialist).IsOpen(Customer))

	r.Unlink(Customer, Specialist)
	assert.False(t, r.Party(Customer).IsOpen(Specialist))
	assert.False(t, r.Party(Specialist).IsOpen(Customer))

	r.Party(Bot).Open(Specialist)
	r.Isolate(Bot)
	snap := r.Snapshot()
	for _, role := range Roles() {
		assert.False(t, snap[Bot][role], "bot -> %s", role)
		assert.False(t, snap[role][Bot], "%s -> bot", role)
	}
	assert.Nil(t, r.Party(Role(9)))
}
