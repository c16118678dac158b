package catalog

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudflux/orchestrator/internal/provider"
	"github.com/cloudflux/orchestrator/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nilWriter{}, nil))
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRefreshAddsAndRemovesEntries(t *testing.T) {
	c := New(discardLogger())
	adapter := provider.NewMockAdapter(types.ProviderAWS, provider.AWSTierClasses)
	adapter.Seed(types.ObjectRef{Container: "bucket-a", Key: "one.bin", SizeBytes: 10, LastModified: time.Now()})

	_, err := c.Refresh(context.Background(), adapter, "bucket-a")
	require.NoError(t, err)

	entries := c.List(Filter{Provider: types.ProviderAWS})
	require.Len(t, entries, 1)
	assert.Equal(t, "one.bin", entries[0].Key)

	// Second refresh with the object gone removes it.
	adapter2 := provider.NewMockAdapter(types.ProviderAWS, provider.AWSTierClasses)
	_, err = c.Refresh(context.Background(), adapter2, "bucket-a")
	require.NoError(t, err)
	assert.Empty(t, c.List(Filter{Provider: types.ProviderAWS}))
}

func TestRefreshOfOneProviderDoesNotBlockAnother(t *testing.T) {
	c := New(discardLogger())
	awsAdapter := provider.NewMockAdapter(types.ProviderAWS, provider.AWSTierClasses)
	awsAdapter.Seed(types.ObjectRef{Container: "b", Key: "aws.bin"})
	azureAdapter := provider.NewMockAdapter(types.ProviderAzure, provider.AzureTierClasses)
	azureAdapter.Seed(types.ObjectRef{Container: "b", Key: "azure.bin"})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.Refresh(context.Background(), awsAdapter, "b") }()
	go func() { defer wg.Done(); c.Refresh(context.Background(), azureAdapter, "b") }()
	wg.Wait()

	assert.Len(t, c.List(Filter{Provider: types.ProviderAWS}), 1)
	assert.Len(t, c.List(Filter{Provider: types.ProviderAzure}), 1)
}

func TestApplyMigrationAddsDestAndRemovesSource(t *testing.T) {
	c := New(discardLogger())
	src := types.ObjectRef{Provider: types.ProviderAWS, Container: "b", Key: "f.bin", SizeBytes: 5}
	c.ApplyMigration(types.ObjectRef{}, src, false) // seed via a fake "migration" into AWS
	dest := types.ObjectRef{Provider: types.ProviderAzure, Container: "b2", Key: "f.bin", SizeBytes: 5}

	c.ApplyMigration(src, dest, true)

	_, stillThere := c.Get(src)
	assert.False(t, stillThere)

	got, ok := c.Get(dest)
	require.True(t, ok)
	assert.EqualValues(t, 5, got.SizeBytes)
}

func TestDistributionAggregatesByProviderAndTier(t *testing.T) {
	c := New(discardLogger())
	adapter := provider.NewMockAdapter(types.ProviderAWS, provider.AWSTierClasses)
	adapter.Seed(types.ObjectRef{Container: "b", Key: "hot.bin", SizeBytes: 100, ProviderStorageClass: "STANDARD"})
	adapter.Seed(types.ObjectRef{Container: "b", Key: "cold.bin", SizeBytes: 200, ProviderStorageClass: "GLACIER"})
	_, err := c.Refresh(context.Background(), adapter, "b")
	require.NoError(t, err)

	dist := c.Distribution()
	require.Len(t, dist, 2)
	total := uint64(0)
	for _, d := range dist {
		total += d.TotalBytes
	}
	assert.EqualValues(t, 300, total)
}
