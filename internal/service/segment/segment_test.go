package segment

import (
	"strconv"
	"strings"
	"sync"
	"testing"
)

func TestGenerator_Next(t *testing.T) {
	gen := NewGenerator()

	if id := gen.Next("sess-123"); id != "sess-123-chunk-1" {
		t.Errorf("expected 'sess-123-chunk-1', got %s", id)
	}
	if id := gen.Next("sess-123"); id != "sess-123-chunk-2" {
		t.Errorf("expected 'sess-123-chunk-2', got %s", id)
	}
}

func TestGenerator_ThreadSafety(t *testing.T) {
	gen := NewGenerator()
	numGoroutines := 100
	resultsPerGoroutine := 10

	var wg sync.WaitGroup
	results := make(chan string, numGoroutines*resultsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < resultsPerGoroutine; j++ {
				results <- gen.Next("sess-concurrent")
			}
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		if seen[id] {
			t.Errorf("duplicate chunk ID generated: %s", id)
		}
		seen[id] = true
	}

	expectedCount := numGoroutines * resultsPerGoroutine
	if len(seen) != expectedCount {
		t.Errorf("expected %d unique chunk IDs, got %d", expectedCount, len(seen))
	}
}

func TestGenerator_CounterMonotonic(t *testing.T) {
	gen := NewGenerator()

	var prev uint64
	for i := 0; i < 100; i++ {
		id := gen.Next("sess-test")
		num, err := strconv.ParseUint(id[strings.LastIndex(id, "-")+1:], 10, 64)
		if err != nil {
			t.Fatalf("failed to parse chunk id: %s", id)
		}
		if num <= prev {
			t.Errorf("counter not monotonic: %d <= %d", num, prev)
		}
		prev = num
	}
}
