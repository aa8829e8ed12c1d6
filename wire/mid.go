package wire

import (
	"fmt"
	"sync"
	"time"
)

// MidGen generates monotonic frame correlation ids in the gateway's
// "<millis><counter> 0" format. Thread-safe via mutex.
type MidGen struct {
	mu     sync.Mutex
	lastMs int64
	seq    int64
}

// NewMidGen creates a new mid generator.
func NewMidGen() *MidGen {
	return &MidGen{}
}

// Next returns a fresh correlation id. Ids generated within the same
// millisecond get an incrementing counter so they never collide.
func (g *MidGen) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := time.Now().UnixMilli()
	if ms == g.lastMs {
		g.seq++
	} else {
		g.lastMs = ms
		g.seq = 0
	}
	return fmt.Sprintf("%d%d 0", ms, g.seq)
}
