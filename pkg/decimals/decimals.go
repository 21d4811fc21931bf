// Package decimals implements the process-wide token-decimals cache from
// spec.md §4.10: a concurrent read-mostly map populated from on-chain
// ft_metadata calls, capped with an LRU to resolve spec.md §9's open question
// ("the token-decimals cache never evicts... cap it to ~10k entries with a
// simple LRU"). golang-lru is the pack's own answer for this shape
// (SPEC_FULL.md DOMAIN STACK), rather than a hand-rolled eviction policy.
package decimals

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ref-trader/reftrader/pkg/chainclient"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// maxEntries bounds the cache per spec.md §9's "~10k entries" open-question resolution.
const maxEntries = 10_000

// Cache is the process-wide token -> decimals map. Readers take the cache's
// internal lock only for the duration of a lookup; the single writer on a
// miss upgrades briefly to record the result (golang-lru.Cache is already
// internally synchronized, so no additional RWMutex is needed around it —
// the "read-mostly, single-writer-on-miss" discipline in spec.md §5 falls
// out of the library's own locking).
type Cache struct {
	lru    *lru.Cache
	client chainclient.ViewContract

	mu       sync.Mutex
	inflight map[tokenaccount.Account]chan struct{}
}

// New builds a Cache that resolves misses via client's view-call capability.
func New(client chainclient.ViewContract) *Cache {
	c, err := lru.New(maxEntries)
	if err != nil {
		// lru.New only errors on size <= 0, which never happens here.
		panic(err)
	}
	return &Cache{lru: c, client: client, inflight: make(map[tokenaccount.Account]chan struct{})}
}

// GetCached returns the memoized decimals for token, or (0, false) on a miss.
// Callers needing a guaranteed value should use Ensure or
// EnsureDecimalsCached first.
func (c *Cache) GetCached(token tokenaccount.Account) (int, bool) {
	v, ok := c.lru.Get(token)
	if !ok {
		return 0, false
	}
	return v.(int), true
}

// ftMetadata is the subset of the wrapped-token/FT contract's `ft_metadata`
// response the bot needs.
type ftMetadata struct {
	Decimals int `json:"decimals"`
}

// Ensure resolves token's decimals, consulting the cache first and falling
// back to a view-call to ft_metadata on miss. RPC failures are not cached, so
// retry happens naturally on the next call, per spec.md §4.10.
func (c *Cache) Ensure(ctx context.Context, token tokenaccount.Account) (int, error) {
	if d, ok := c.GetCached(token); ok {
		return d, nil
	}

	// Coalesce concurrent misses for the same token into one RPC call.
	c.mu.Lock()
	if wait, ok := c.inflight[token]; ok {
		c.mu.Unlock()
		<-wait
		if d, ok := c.GetCached(token); ok {
			return d, nil
		}
		return 0, fmt.Errorf("decimals: concurrent lookup for %s failed", token)
	}
	done := make(chan struct{})
	c.inflight[token] = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, token)
		c.mu.Unlock()
		close(done)
	}()

	raw, err := c.client.ViewContract(ctx, token, "ft_metadata", struct{}{})
	if err != nil {
		return 0, fmt.Errorf("decimals: ft_metadata(%s): %w", token, err)
	}
	var meta ftMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return 0, fmt.Errorf("decimals: parse ft_metadata(%s): %w", token, err)
	}
	c.lru.Add(token, meta.Decimals)
	return meta.Decimals, nil
}

// EnsureDecimalsCached batches the resolution of every token in tokens not
// already cached, concurrently. A failed lookup is skipped rather than
// aborting the batch, matching spec.md §4.10.
func (c *Cache) EnsureDecimalsCached(ctx context.Context, tokens []tokenaccount.Account) map[tokenaccount.Account]int {
	out := make(map[tokenaccount.Account]int, len(tokens))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, tok := range tokens {
		if d, ok := c.GetCached(tok); ok {
			out[tok] = d
			continue
		}
		wg.Add(1)
		go func(tok tokenaccount.Account) {
			defer wg.Done()
			d, err := c.Ensure(ctx, tok)
			if err != nil {
				return
			}
			mu.Lock()
			out[tok] = d
			mu.Unlock()
		}(tok)
	}
	wg.Wait()
	return out
}

// Len reports the number of currently-cached entries.
func (c *Cache) Len() int { return c.lru.Len() }
