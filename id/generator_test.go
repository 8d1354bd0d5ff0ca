package id

import (
	"sync"
	"testing"
)

func TestGenerator_Monotonic(t *testing.T) {
	g := NewGenerator()

	prev := g.NextID()
	for i := 0; i < 1000; i++ {
		next := g.NextID()
		if next <= prev {
			t.Fatalf("NextID not increasing: %d after %d", next, prev)
		}
		prev = next
	}
}

func TestGenerator_UniqueUnderConcurrency(t *testing.T) {
	g := NewGenerator()

	const workers = 8
	const perWorker = 10000

	var wg sync.WaitGroup
	results := make([][]uint64, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ids := make([]uint64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, g.NextID())
			}
			results[w] = ids
		}(w)
	}
	wg.Wait()

	seen := make(map[uint64]struct{}, workers*perWorker)
	for _, ids := range results {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				t.Fatalf("duplicate ID generated: %d", id)
			}
			seen[id] = struct{}{}
		}
	}
}
