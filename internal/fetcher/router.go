// Package fetcher routes targets to the fetch implementation for their type.
package fetcher

import (
	"context"
	"fmt"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// HostPolicy decides whether a URL may be fetched at all.
type HostPolicy interface {
	Allow(rawURL string) bool
}

// Router implements monitor.SnapshotFetcher by dispatching on target type.
type Router struct {
	provider monitor.ProviderAPI
	website  monitor.SnapshotFetcher
	limiter  Limiter
	policy   HostPolicy
}

// NewRouter builds a Router. limiter may be nil.
func NewRouter(provider monitor.ProviderAPI, website monitor.SnapshotFetcher, limiter Limiter) *Router {
	return &Router{provider: provider, website: website, limiter: limiter}
}

// WithHostPolicy makes the router refuse website URLs the policy rejects.
func (r *Router) WithHostPolicy(p HostPolicy) *Router {
	r.policy = p
	return r
}

// Fetch retrieves a snapshot for target.
func (r *Router) Fetch(ctx context.Context, target monitor.Target) (monitor.Snapshot, error) {
	var backend monitor.SnapshotFetcher
	switch target.Type {
	case monitor.TargetProfile, monitor.TargetOrganization:
		backend = r.provider
	case monitor.TargetWebsite:
		backend = r.website
	default:
		return monitor.Snapshot{}, monitor.NewPermanentError(fmt.Errorf("unsupported target type %q", target.Type))
	}
	if backend == nil {
		return monitor.Snapshot{}, monitor.NewPermanentError(fmt.Errorf("no fetcher configured for %s targets", target.Type))
	}

	if target.Type == monitor.TargetWebsite && r.policy != nil && !r.policy.Allow(target.URL) {
		return monitor.Snapshot{}, monitor.NewPermanentError(fmt.Errorf("host of %s is blocked", target.URL))
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, target.URL); err != nil {
			return monitor.Snapshot{}, monitor.NewTransportError("ratelimit", err)
		}
	}
	return backend.Fetch(ctx, target)
}
