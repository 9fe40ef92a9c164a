package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// tenantLimiters holds one token bucket per tenant.
type tenantLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newTenantLimiters(rps float64, burst int) *tenantLimiters {
	return &tenantLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (t *tenantLimiters) allow(tenant string) bool {
	t.mu.Lock()
	l, ok := t.limiters[tenant]
	if !ok {
		l = rate.NewLimiter(t.rps, t.burst)
		t.limiters[tenant] = l
	}
	t.mu.Unlock()
	return l.Allow()
}
