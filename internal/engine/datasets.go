package engine

import (
	"context"
	"errors"
	"time"

	"github.com/wardlabs/ward/internal/circuitbreaker"
)

// ErrCircuitOpen is returned when lookups against a dataset are being
// rejected because its backend keeps failing.
var ErrCircuitOpen = errors.New("dataset circuit open")

// GuardedProvider wraps a DatasetProvider with a per-dataset circuit
// breaker. When a dataset backend fails repeatedly, further lookups are
// rejected immediately so decisions degrade to an evidence gap instead of
// burning the lookup budget on a dead dependency.
type GuardedProvider struct {
	inner   DatasetProvider
	breaker *circuitbreaker.Breaker
}

// NewGuardedProvider wraps inner with a circuit breaker that opens after
// threshold consecutive failures and probes again after openFor.
func NewGuardedProvider(inner DatasetProvider, threshold int, openFor time.Duration) *GuardedProvider {
	return &GuardedProvider{
		inner:   inner,
		breaker: circuitbreaker.New(threshold, openFor),
	}
}

// Lookup checks the circuit before delegating to the wrapped provider.
func (g *GuardedProvider) Lookup(ctx context.Context, dataset, key string) (bool, error) {
	if !g.breaker.Allow(dataset) {
		return false, ErrCircuitOpen
	}
	member, err := g.inner.Lookup(ctx, dataset, key)
	if err != nil {
		g.breaker.RecordFailure(dataset)
		return false, err
	}
	g.breaker.RecordSuccess(dataset)
	return member, nil
}

var _ DatasetProvider = (*GuardedProvider)(nil)
