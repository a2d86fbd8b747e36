package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out chunk IDs of the form <session>-chunk-<n>.
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Next(sessionId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-chunk-%d", sessionId, n)
}
