package costmodel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudflux/orchestrator/pkg/types"
)

func TestDefaultModelMonthlyCost(t *testing.T) {
	m := DefaultModel()
	got := m.MonthlyCost(types.ProviderAWS, types.TierHot, 1024*1024*1024)
	assert.InDelta(t, 0.0230, got, 0.0001)
}

func TestMonthlyCostUnknownCombinationIsZero(t *testing.T) {
	m := &Model{prices: map[types.Provider]map[types.Tier]float64{}}
	assert.Equal(t, 0.0, m.MonthlyCost(types.ProviderAWS, types.TierHot, 100))
}

func TestMonthlySavingsNeverNegative(t *testing.T) {
	m := DefaultModel()
	size := uint64(10 * 1024 * 1024 * 1024)

	savings := m.MonthlySavings(types.ProviderAWS, types.TierHot, types.TierArchive, size)
	assert.Greater(t, savings, 0.0)

	reverse := m.MonthlySavings(types.ProviderAWS, types.TierArchive, types.TierHot, size)
	assert.Equal(t, 0.0, reverse)
}

func TestLoadPriceTableFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prices.yaml")
	doc := `
prices:
  - provider: AWS
    tier: HOT
    price_per_gb_per_month: 0.025
  - provider: AWS
    tier: ARCHIVE
    price_per_gb_per_month: 0.004
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	m, err := LoadPriceTable(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.025, m.prices[types.ProviderAWS][types.TierHot], 0.0001)
	savings := m.MonthlySavings(types.ProviderAWS, types.TierHot, types.TierArchive, 1024*1024*1024)
	assert.InDelta(t, 0.021, savings, 0.0001)
}

func TestLoadPriceTableMissingFile(t *testing.T) {
	_, err := LoadPriceTable("/nonexistent/path/prices.yaml")
	assert.Error(t, err)
}
