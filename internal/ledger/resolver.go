package ledger

import (
	"context"
	"log"
	"strings"
	"sync"
)

// Resolver maps human aliases like "Alice-1" to full party identifiers like
// "Alice-1::1220abcd…". The cache is filled from the participant's party list
// and holds both the full id and its alias prefix.
type Resolver struct {
	client *Client
	mu     sync.RWMutex
	cache  map[string]string
}

func NewResolver(client *Client) *Resolver {
	return &Resolver{
		client: client,
		cache:  make(map[string]string),
	}
}

// Refresh reloads the alias cache from the ledger.
func (r *Resolver) Refresh(ctx context.Context) error {
	ids, err := r.client.Parties(ctx)
	if err != nil {
		return err
	}

	cache := make(map[string]string, len(ids)*2)
	for _, id := range ids {
		cache[id] = id
		if alias, _, found := strings.Cut(id, "::"); found {
			cache[alias] = id
		}
	}

	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()
	return nil
}

// Resolve returns the full party id for an alias. Full identifiers pass
// through untouched; an alias missing from the cache is returned as-is so a
// demo ledger without namespaced parties keeps working.
func (r *Resolver) Resolve(ctx context.Context, name string) string {
	if strings.Contains(name, "::") || strings.HasPrefix(name, "party-") {
		return name
	}

	r.mu.RLock()
	empty := len(r.cache) == 0
	r.mu.RUnlock()
	if empty {
		if err := r.Refresh(ctx); err != nil {
			log.Printf("[ledger] party cache refresh failed: %v", err)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.cache[name]; ok {
		return id
	}
	log.Printf("[ledger] party %q not found in cache, using as-is", name)
	return name
}
