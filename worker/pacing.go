package worker

import (
	"math/rand"
	"sync"
	"time"
)

// Pacer draws the randomized inter-send delays. Fixed intervals are
// fingerprintable as automated traffic, so every attempt gets a fresh
// uniform draw from the campaign's [min, max] window.
type Pacer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewPacer() *Pacer {
	return &Pacer{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Draw returns a delay uniformly distributed over [min, max] inclusive.
// Equal bounds degrade to a fixed interval, which is allowed.
func (p *Pacer) Draw(min, max time.Duration) time.Duration {
	if min < 0 {
		min = 0
	}
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rng.Int63n(int64(max-min)+1))
}

// Intn exposes a uniform int draw for variant selection.
func (p *Pacer) Intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}
