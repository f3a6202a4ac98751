package whatsapp

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// pacer keeps one token bucket per sending identity so a large campaign
// cannot exceed the gateway's per-number throughput.
type pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newPacer(perSecond float64) *pacer {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &pacer{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perSecond),
		burst:    burst,
	}
}

func (p *pacer) wait(ctx context.Context, key string) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(p.r, p.burst)
		p.limiters[key] = l
	}
	p.mu.Unlock()
	return l.Wait(ctx)
}
