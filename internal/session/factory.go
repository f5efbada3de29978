package session

import (
	"context"
	"log/slog"

	"github.com/pairline/pairline/internal/media"
	"github.com/pairline/pairline/internal/negotiate"
	"github.com/pairline/pairline/internal/relaycred"
)

// DefaultFactory builds the production negotiator: relay credentials
// are resolved fresh for every attempt (they are time-limited) and the
// resulting server set is sanitized before it reaches pion.
func DefaultFactory(resolver *relaycred.Resolver, capturer media.Capturer, log *slog.Logger) NegotiatorFactory {
	return func(ctx context.Context, callbacks negotiate.Callbacks) (Negotiator, error) {
		servers := relaycred.Validate(resolver.Resolve(ctx))
		return negotiate.New(servers, capturer, callbacks, log)
	}
}
