package runner

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// tokenScale lets fractional costs ride on the integer token counts of
// rate.Limiter: one admission unit is tokenScale limiter tokens.
const tokenScale = 1000

// Gate is a token bucket shared by every worker of a run. It refills
// continuously at rps tokens per second and holds at most capacity tokens,
// so over any window w no more than rps*w + capacity admissions succeed.
type Gate struct {
	limiter  *rate.Limiter
	rps      float64
	capacity float64
}

// NewGate builds a gate. A non-positive rps is raised to 1 token per second;
// a capacity below one token defaults to max(rps, 1).
func NewGate(rps, capacity float64) *Gate {
	if rps <= 0 || math.IsNaN(rps) {
		rps = 1
	}
	if capacity < 1 || math.IsNaN(capacity) {
		capacity = math.Max(rps, 1)
	}
	burst := int(math.Ceil(capacity * tokenScale))
	return &Gate{
		limiter:  rate.NewLimiter(rate.Limit(rps*tokenScale), burst),
		rps:      rps,
		capacity: capacity,
	}
}

// Rate reports the refill rate in tokens per second.
func (g *Gate) Rate() float64 { return g.rps }

// Capacity reports the bucket size in tokens.
func (g *Gate) Capacity() float64 { return g.capacity }

// Admit blocks until one token is available or ctx ends.
func (g *Gate) Admit(ctx context.Context) error {
	return g.AdmitN(ctx, 1)
}

// AdmitN blocks until cost tokens are available. A cost above capacity
// waits for a full bucket instead of failing forever.
func (g *Gate) AdmitN(ctx context.Context, cost float64) error {
	n := g.units(cost)
	if n > g.limiter.Burst() {
		n = g.limiter.Burst()
	}
	return g.limiter.WaitN(ctx, n)
}

// TryAdmit takes one token if available without blocking.
func (g *Gate) TryAdmit() bool {
	return g.TryAdmitN(1)
}

// TryAdmitN takes cost tokens if available. The bucket is untouched on
// failure.
func (g *Gate) TryAdmitN(cost float64) bool {
	return g.limiter.AllowN(timeNow(), g.units(cost))
}

func (g *Gate) units(cost float64) int {
	if cost <= 0 || math.IsNaN(cost) {
		return 0
	}
	return int(math.Ceil(cost * tokenScale))
}
