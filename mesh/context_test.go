package mesh

import (
	"sync"
	"testing"

	"github.com/dshills/agentmesh-go/mesh/transport"
)

func TestInitFinalizeBracket(t *testing.T) {
	const size = 3
	cluster := transport.NewCluster(size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			ctx, err := Init(cluster.Endpoint(rank))
			if err != nil {
				t.Errorf("rank %d: Init: %v", rank, err)
				return
			}
			if ctx.Transport().Rank() != rank {
				t.Errorf("context transport rank = %d, want %d", ctx.Transport().Rank(), rank)
			}
			if err := ctx.Finalize(); err != nil {
				t.Errorf("rank %d: Finalize: %v", rank, err)
			}
			// Second Finalize must not re-enter the barrier (which would
			// hang with no peers participating).
			if err := ctx.Finalize(); err != nil {
				t.Errorf("rank %d: repeated Finalize: %v", rank, err)
			}
		}(rank)
	}
	wg.Wait()
}
