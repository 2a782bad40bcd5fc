// Package parallel runs independent loop bodies on a bounded set of goroutines.
package parallel

import (
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// ForEach calls body for every i in [0, length) using at most limit goroutines.
// A limit of one runs the loop inline.
func ForEach(length, limit int, body func(i int)) {
	if length <= 0 {
		return
	}
	if limit <= 1 || length == 1 {
		for i := 0; i < length; i++ {
			body(i)
		}
		return
	}
	if limit > length {
		limit = length
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)
	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			body(i)
		}(i)
	}
	wg.Wait()
}

// Workers resolves a configured worker count. Zero or negative means one
// worker per logical core reported by the CPU.
func Workers(configured int) int {
	if configured > 0 {
		return configured
	}
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return 1
}
