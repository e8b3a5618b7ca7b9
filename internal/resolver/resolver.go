// Package resolver provides the age-bracket lookups used at session creation.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"learnsession/pkg/interfaces"
	"learnsession/pkg/types"
)

// Static resolves children from a fixed map, falling back to a default
// bracket when one is configured
type Static struct {
	groups   map[string]types.AgeGroup
	fallback types.AgeGroup
}

// NewStatic copies groups; an empty fallback makes unknown children an error
func NewStatic(groups map[string]types.AgeGroup, fallback types.AgeGroup) *Static {
	copied := make(map[string]types.AgeGroup, len(groups))
	for id, g := range groups {
		copied[id] = g
	}
	return &Static{groups: copied, fallback: fallback}
}

// GetAgeGroup implements interfaces.AgeResolver
func (s *Static) GetAgeGroup(ctx context.Context, childID string) (types.AgeGroup, error) {
	if g, ok := s.groups[childID]; ok {
		return g, nil
	}
	if s.fallback != "" {
		return s.fallback, nil
	}
	return "", fmt.Errorf("%w: %s", interfaces.ErrChildNotFound, childID)
}

// Chain asks each resolver in turn, moving on only when a child is unknown
type Chain []interfaces.AgeResolver

// GetAgeGroup implements interfaces.AgeResolver
func (c Chain) GetAgeGroup(ctx context.Context, childID string) (types.AgeGroup, error) {
	for _, r := range c {
		g, err := r.GetAgeGroup(ctx, childID)
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, interfaces.ErrChildNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", interfaces.ErrChildNotFound, childID)
}

// Cached keeps successful lookups for a TTL. Failures are never cached.
type Cached struct {
	next  interfaces.AgeResolver
	cache *gocache.Cache
}

// DefaultCacheTTL is how long a resolved age bracket is reused
const DefaultCacheTTL = 10 * time.Minute

// NewCached wraps next with a TTL cache
func NewCached(next interfaces.AgeResolver, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// GetAgeGroup implements interfaces.AgeResolver
func (c *Cached) GetAgeGroup(ctx context.Context, childID string) (types.AgeGroup, error) {
	if v, found := c.cache.Get(childID); found {
		if g, ok := v.(types.AgeGroup); ok {
			return g, nil
		}
		log.Printf("Discarding age cache entry of unexpected type: child=%s", childID)
		c.cache.Delete(childID)
	}

	g, err := c.next.GetAgeGroup(ctx, childID)
	if err != nil {
		return "", err
	}
	c.cache.SetDefault(childID, g)
	return g, nil
}

// Invalidate forgets a child's cached bracket, e.g. after a birthday update
func (c *Cached) Invalidate(childID string) {
	c.cache.Delete(childID)
}
