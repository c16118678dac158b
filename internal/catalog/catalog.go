// Package catalog holds the in-memory object inventory: a mapping from
// (provider, container, key) to CatalogEntry, partitioned per provider
// so that refreshing one provider never blocks readers of another.
package catalog

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cloudflux/orchestrator/internal/metrics"
	"github.com/cloudflux/orchestrator/internal/provider"
	"github.com/cloudflux/orchestrator/pkg/types"
)

// partition is one provider's slice of the catalog, guarded by its own
// reader-preferring lock so a refresh of one provider never blocks
// reads of another (§5 Shared-resource policy).
type partition struct {
	mu      sync.RWMutex
	entries map[string]types.CatalogEntry // container/key -> entry
}

func newPartition() *partition {
	return &partition{entries: make(map[string]types.CatalogEntry)}
}

func entryKey(container, key string) string { return container + "/" + key }

// Catalog is the Object Catalog component (C2). It owns CatalogEntry
// exclusively; ObjectRef values passed in and out are copies.
type Catalog struct {
	logger *slog.Logger

	mu         sync.RWMutex // guards the partitions map itself, not its contents
	partitions map[types.Provider]*partition

	metrics *metrics.Collector
}

// SetMetrics attaches a metrics collector that partition sizes report
// to on every refresh. Optional; a nil collector (the default) leaves
// recording as a no-op.
func (c *Catalog) SetMetrics(m *metrics.Collector) {
	c.metrics = m
}

// New constructs an empty catalog with one partition per known provider
// tag, so refresh and list never race on map insertion.
func New(logger *slog.Logger) *Catalog {
	c := &Catalog{
		logger:     logger.With("component", "catalog"),
		partitions: make(map[types.Provider]*partition),
	}
	for _, p := range []types.Provider{types.ProviderAWS, types.ProviderAzure, types.ProviderGCP} {
		c.partitions[p] = newPartition()
	}
	return c
}

func (c *Catalog) partitionFor(p types.Provider) *partition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partitions[p]
}

// RefreshSummary reports what changed for one provider's partition.
type RefreshSummary struct {
	Provider Provider
	Added    int
	Updated  int
	Removed  int
}

// Provider is an alias kept local to avoid stuttering catalog.Provider
// vs types.Provider in call sites that only import this package.
type Provider = types.Provider

// Refresh rebuilds one provider's partition from a fresh enumerate. The
// swap is atomic: readers see either the whole old map or the whole new
// one, never a mixture (Testable Property #1).
func (c *Catalog) Refresh(ctx context.Context, adapter provider.Adapter, container string) (RefreshSummary, error) {
	p := adapter.Provider()
	part := c.partitionFor(p)

	it, err := adapter.Enumerate(ctx, container, "")
	if err != nil {
		return RefreshSummary{Provider: p}, err
	}

	fresh := make(map[string]types.CatalogEntry)
	for it.Next(ctx) {
		ref := it.Current()
		fresh[entryKey(ref.Container, ref.Key)] = types.CatalogEntry{
			ObjectRef:   ref,
			AccessStats: deriveAccessStats(ref),
			CurrentTier: classifyStorageClass(p, ref.ProviderStorageClass),
		}
	}
	if err := it.Err(); err != nil {
		return RefreshSummary{Provider: p}, err
	}

	part.mu.Lock()
	old := part.entries
	part.entries = fresh
	part.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetCatalogSize(string(p), len(fresh))
	}

	summary := RefreshSummary{Provider: p}
	for k := range fresh {
		if _, existed := old[k]; existed {
			summary.Updated++
		} else {
			summary.Added++
		}
	}
	for k := range old {
		if _, stillThere := fresh[k]; !stillThere {
			summary.Removed++
		}
	}

	c.logger.Info("catalog partition refreshed",
		"provider", p, "added", summary.Added, "updated", summary.Updated, "removed", summary.Removed)
	return summary, nil
}

// deriveAccessStats reports zeroed stats when the provider gives no
// access-log signal, per §3's "the spec does not require a true access
// log."
func deriveAccessStats(ref types.ObjectRef) types.AccessStats {
	return types.AccessStats{
		AccessCountWindow: 0,
		LastAccessAt:      nil,
		AgeDays:           int(time.Since(ref.LastModified).Hours() / 24),
	}
}

// classifyStorageClass maps a provider-reported storage class string
// back onto a Tier using each adapter's TierClasses table.
func classifyStorageClass(p types.Provider, class string) types.Tier {
	switch p {
	case types.ProviderAWS:
		return provider.ClassToTier(provider.AWSTierClasses, class)
	case types.ProviderAzure:
		return provider.ClassToTier(provider.AzureTierClasses, class)
	case types.ProviderGCP:
		return provider.ClassToTier(provider.GCPTierClasses, class)
	default:
		return types.TierWarm
	}
}

// Filter narrows List by provider and/or tier; zero values match all.
type Filter struct {
	Provider types.Provider
	Tier     types.Tier
	Limit    int
}

// List returns catalog entries matching filter, sorted by
// (container, key) for stable pagination-free output.
func (c *Catalog) List(filter Filter) []types.CatalogEntry {
	var providers []types.Provider
	if filter.Provider != "" {
		providers = []types.Provider{filter.Provider}
	} else {
		c.mu.RLock()
		for p := range c.partitions {
			providers = append(providers, p)
		}
		c.mu.RUnlock()
	}

	var out []types.CatalogEntry
	for _, p := range providers {
		part := c.partitionFor(p)
		if part == nil {
			continue
		}
		part.mu.RLock()
		for _, e := range part.entries {
			if filter.Tier != "" && e.CurrentTier != filter.Tier {
				continue
			}
			out = append(out, e)
		}
		part.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Container != out[j].Container {
			return out[i].Container < out[j].Container
		}
		return out[i].Key < out[j].Key
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// Get performs a point lookup; the bool reports whether the entry
// exists.
func (c *Catalog) Get(ref types.ObjectRef) (types.CatalogEntry, bool) {
	part := c.partitionFor(ref.Provider)
	if part == nil {
		return types.CatalogEntry{}, false
	}
	part.mu.RLock()
	defer part.mu.RUnlock()
	e, ok := part.entries[entryKey(ref.Container, ref.Key)]
	return e, ok
}

// SetRecommendation attaches or clears a placement recommendation on an
// existing entry; a nil recommendation clears it.
func (c *Catalog) SetRecommendation(ref types.ObjectRef, rec *types.Recommendation) {
	part := c.partitionFor(ref.Provider)
	if part == nil {
		return
	}
	part.mu.Lock()
	defer part.mu.Unlock()
	k := entryKey(ref.Container, ref.Key)
	e, ok := part.entries[k]
	if !ok {
		return
	}
	e.Recommendation = rec
	part.entries[k] = e
}

// ApplyMigration updates the catalog after a migration job finishes: a
// VERIFIED file adds a destination entry, and if the source no longer
// exists (deleteSource) its entry is removed.
func (c *Catalog) ApplyMigration(sourceRef, destRef types.ObjectRef, deleteSource bool) {
	destPart := c.partitionFor(destRef.Provider)
	if destPart != nil {
		destPart.mu.Lock()
		destPart.entries[entryKey(destRef.Container, destRef.Key)] = types.CatalogEntry{
			ObjectRef:   destRef,
			AccessStats: deriveAccessStats(destRef),
			CurrentTier: classifyStorageClass(destRef.Provider, destRef.ProviderStorageClass),
		}
		destPart.mu.Unlock()
	}

	if deleteSource {
		srcPart := c.partitionFor(sourceRef.Provider)
		if srcPart != nil {
			srcPart.mu.Lock()
			delete(srcPart.entries, entryKey(sourceRef.Container, sourceRef.Key))
			srcPart.mu.Unlock()
		}
	}
}

// TierDistribution aggregates counts and total size per (provider,
// tier), backing /placement/tier-distribution. It carries no cost; the
// API handler prices each row from the cost model.
type TierDistribution struct {
	Provider   types.Provider
	Tier       types.Tier
	Count      int
	TotalBytes uint64
}

// Distribution walks every partition once and groups entries by
// (provider, tier).
func (c *Catalog) Distribution() []TierDistribution {
	c.mu.RLock()
	providers := make([]types.Provider, 0, len(c.partitions))
	for p := range c.partitions {
		providers = append(providers, p)
	}
	c.mu.RUnlock()

	agg := make(map[[2]string]*TierDistribution)
	for _, p := range providers {
		part := c.partitionFor(p)
		part.mu.RLock()
		for _, e := range part.entries {
			key := [2]string{string(p), string(e.CurrentTier)}
			d, ok := agg[key]
			if !ok {
				d = &TierDistribution{Provider: p, Tier: e.CurrentTier}
				agg[key] = d
			}
			d.Count++
			d.TotalBytes += e.SizeBytes
		}
		part.mu.RUnlock()
	}

	out := make([]TierDistribution, 0, len(agg))
	for _, d := range agg {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Tier < out[j].Tier
	})
	return out
}
