package dispatch

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
)

// delayPacer computes the pause between individual sends. Adaptive mode
// stretches the delay as the recent transient-failure rate climbs, which
// is the cheapest way to stop a throttling device from digging deeper.
type delayPacer struct {
	policy model.DelayPolicy

	mu       sync.Mutex
	window   []bool // true = transient failure, last windowSize sends
	windowAt int
	filled   bool
}

const pacerWindowSize = 20

func newDelayPacer(policy model.DelayPolicy) *delayPacer {
	return &delayPacer{
		policy: policy,
		window: make([]bool, pacerWindowSize),
	}
}

// Record feeds one send outcome into the adaptive window.
func (p *delayPacer) Record(transientFailure bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window[p.windowAt] = transientFailure
	p.windowAt = (p.windowAt + 1) % len(p.window)
	if p.windowAt == 0 {
		p.filled = true
	}
}

func (p *delayPacer) failureRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.windowAt
	if p.filled {
		n = len(p.window)
	}
	if n == 0 {
		return 0
	}
	fails := 0
	for i := 0; i < n; i++ {
		if p.window[i] {
			fails++
		}
	}
	return float64(fails) / float64(n)
}

// Next returns the delay to apply before the following send.
func (p *delayPacer) Next() time.Duration {
	base := p.policy.Base
	if base <= 0 {
		return 0
	}

	switch p.policy.Mode {
	case model.DelayModeJitter:
		// uniform in [base/2, base*1.5)
		half := base / 2
		return half + time.Duration(rand.Int63n(int64(base)))
	case model.DelayModeAdaptive:
		// up to 3x base at a fully failing window
		factor := 1.0 + 2.0*p.failureRate()
		return time.Duration(float64(base) * factor)
	default:
		return base
	}
}
