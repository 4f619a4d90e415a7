package entitlement

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds parallel store access in batch operations.
const DefaultBatchConcurrency = 4

// Scopes lists every user scope with a stored tier record.
func Scopes(store KVStore) ([]string, error) {
	keys, err := store.Keys(recordKeyPrefix)
	if err != nil {
		return nil, storageError("keys", recordKeyPrefix, err)
	}
	scopes := make([]string, 0, len(keys))
	for _, key := range keys {
		if scope := strings.TrimPrefix(key, recordKeyPrefix); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	sort.Strings(scopes)
	return scopes, nil
}

// ScopedTrialCheck is the trial check result for one scope.
type ScopedTrialCheck struct {
	Scope  string           `json:"scope"`
	Result TrialCheckResult `json:"result"`
}

// CheckAllTrials runs CheckTrialExpiration for every stored scope. opts is
// applied to each per-scope resolver with Scope replaced. Results are in
// scope order. Cancelling ctx stops scheduling further scopes.
func CheckAllTrials(ctx context.Context, store KVStore, opts Options, concurrency int) ([]ScopedTrialCheck, error) {
	scopes, err := Scopes(store)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	results := make([]ScopedTrialCheck, len(scopes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, scope := range scopes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scopedOpts := opts
			scopedOpts.Scope = scope
			results[i] = ScopedTrialCheck{
				Scope:  scope,
				Result: NewResolver(store, scopedOpts).CheckTrialExpiration(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
