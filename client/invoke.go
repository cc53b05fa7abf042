package client

import "sync/atomic"

// invokeIDs generates invoke ids. Zero marks a free response slot so it is
// skipped when the counter wraps around.
type invokeIDs struct {
	last uint32
}

func (g *invokeIDs) Next() uint32 {
	for {
		if id := atomic.AddUint32(&g.last, 1); id != 0 {
			return id
		}
	}
}
