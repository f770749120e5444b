package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// ErrNotConfigured is returned by Noop.
var ErrNotConfigured = errors.New("rendered strategy not configured")

// Noop stands in for the rendered strategy when headless Chrome is disabled.
// It always fails, so a website fetch using it as primary falls back to the
// static strategy.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrNotConfigured wrapped as a TransportFailure.
func (Noop) Fetch(_ context.Context, _ monitor.PageRequest) (monitor.PageResponse, error) {
	return monitor.PageResponse{}, monitor.NewTransportError(StrategyName, ErrNotConfigured)
}
