package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/tutorlive/pkg/provider/live"
)

// LiveFallback implements [live.Provider] with failover across live audio
// endpoints. Only Connect is guarded; an established session is never moved
// to another endpoint.
type LiveFallback struct {
	group *FallbackGroup[live.Provider]
}

var _ live.Provider = (*LiveFallback)(nil)

// NewLiveFallback creates a [LiveFallback] with primary as the preferred
// endpoint.
func NewLiveFallback(primary live.Provider, primaryName string, cfg FallbackConfig) *LiveFallback {
	return &LiveFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional endpoint.
func (f *LiveFallback) AddFallback(name string, provider live.Provider) {
	f.group.AddFallback(name, provider)
}

// Connect opens a session on the first healthy endpoint. When every endpoint
// fails the error still wraps [live.ErrConnection] so that it classifies as a
// connection failure.
func (f *LiveFallback) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	h, err := ExecuteWithResult(ctx, f.group, func(p live.Provider) (live.SessionHandle, error) {
		return p.Connect(ctx, cfg)
	})
	if err != nil && !errors.Is(err, live.ErrConnection) && errors.Is(err, ErrAllFailed) {
		return nil, fmt.Errorf("%w: %w", live.ErrConnection, err)
	}
	return h, err
}

// States reports each endpoint's breaker state.
func (f *LiveFallback) States() map[string]State {
	return f.group.States()
}
