// Package target describes traffic destinations and picks one per attempt.
package target

import (
	"math/rand"
	"net"
	"strconv"
	"strings"
)

// Target is a configured destination. Targets are loaded once and shared
// read-only by every worker.
type Target struct {
	Address string  `mapstructure:"address" yaml:"address"`
	Port    uint16  `mapstructure:"port" yaml:"port,omitempty"`
	Weight  float64 `mapstructure:"weight" yaml:"weight"`
}

// HasScheme reports whether Address is a full URL such as http://host/path.
func (t Target) HasScheme() bool {
	return strings.Contains(t.Address, "://")
}

// String returns the resolved identifier recorded with every attempt,
// "host:port" for plain addresses and the URL itself otherwise.
func (t Target) String() string {
	if t.HasScheme() {
		return t.Address
	}
	return net.JoinHostPort(t.Address, strconv.Itoa(int(t.Port)))
}

// Selector picks one target per call from a weighted set.
type Selector struct {
	targets []Target
	rnd     *rand.Rand
}

// NewSelector creates a selector over targets. The list must not be empty;
// callers validate that once at startup.
func NewSelector(targets []Target, rnd *rand.Rand) *Selector {
	return &Selector{targets: targets, rnd: rnd}
}

// Next picks a target using the selector's random source. A Selector is not
// safe for concurrent use; each worker owns one.
func (s *Selector) Next() Target {
	return Select(s.targets, s.rnd)
}

// Select draws one target proportionally to its weight. When the total
// weight is not positive the first target is returned. If floating point
// drift exhausts the list without a hit, the last target is returned.
func Select(targets []Target, rnd *rand.Rand) Target {
	total := 0.0
	for _, t := range targets {
		total += t.Weight
	}
	if total <= 0 {
		return targets[0]
	}

	roll := rnd.Float64() * total
	for _, t := range targets {
		roll -= t.Weight
		if roll < 0 {
			return t
		}
	}
	return targets[len(targets)-1]
}
