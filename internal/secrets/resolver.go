package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/panelbot/pkg/secrets"
)

// Resolver resolves named secrets into a typed value T, caching results
// locally to reduce secrets manager calls.
type Resolver[T any] struct {
	logger   *zap.Logger
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
	parse    func(map[string]string) (T, error)
}

// NewResolver constructs a resolver. parse extracts T from the raw secret map
// and should validate required fields.
func NewResolver[T any](
	logger *zap.Logger,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
	parse func(map[string]string) (T, error),
) *Resolver[T] {
	return &Resolver[T]{
		logger:   logger,
		provider: provider,
		cache:    cache,
		parse:    parse,
	}
}

// Resolve fetches or returns the cached T for a secret name.
func (r *Resolver[T]) Resolve(ctx context.Context, name string) (T, error) {
	key := strings.ToLower(name)

	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}

	raw, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("name", name),
			zap.Error(err))
		var zero T
		return zero, fmt.Errorf("resolve secret %q: %w", name, err)
	}

	v, err := r.parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse secret %q: %w", name, err)
	}

	r.cache.Put(key, v)

	r.logger.Info("secrets.resolved", zap.String("name", name))
	return v, nil
}

// Invalidate drops the cached value so the next Resolve hits the provider.
func (r *Resolver[T]) Invalidate(name string) {
	r.cache.Bust(strings.ToLower(name))
}
