// Package costmodel holds the per-provider, per-tier price table and
// the savings arithmetic the Placement Classifier consults. Prices are
// configuration, not code, loaded from a YAML document the operator
// supplies.
package costmodel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/cloudflux/orchestrator/pkg/types"
)

// priceEntry is one row of the YAML price table document.
type priceEntry struct {
	Provider          string  `yaml:"provider"`
	Tier              string  `yaml:"tier"`
	PricePerGBPerMonth float64 `yaml:"price_per_gb_per_month"`
}

type priceDocument struct {
	Prices []priceEntry `yaml:"prices"`
}

// Model is a constant (provider, tier) -> unit price table.
type Model struct {
	prices map[types.Provider]map[types.Tier]float64
}

// DefaultModel returns illustrative prices covering every combination
// this repository's provider adapters can report, so the classifier
// always has a price to compute against even before an operator
// supplies COSTMODEL_PRICE_TABLE_PATH.
func DefaultModel() *Model {
	m := &Model{prices: map[types.Provider]map[types.Tier]float64{
		types.ProviderAWS: {
			types.TierHot:     0.0230,
			types.TierWarm:    0.0125,
			types.TierCold:    0.0100,
			types.TierArchive: 0.0036,
		},
		types.ProviderAzure: {
			types.TierHot:     0.0208,
			types.TierWarm:    0.0100,
			types.TierCold:    0.0100,
			types.TierArchive: 0.0018,
		},
		types.ProviderGCP: {
			types.TierHot:     0.0200,
			types.TierWarm:    0.0100,
			types.TierCold:    0.0040,
			types.TierArchive: 0.0012,
		},
	}}
	return m
}

// LoadPriceTable reads a price table document from path and returns a
// Model built from it. Only the (provider, tier) pairs the document
// lists are priced; the document is not checked for completeness, and
// MonthlyCost returns 0 for a pair it omits.
func LoadPriceTable(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price table: %w", err)
	}

	var doc priceDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse price table: %w", err)
	}

	m := &Model{prices: make(map[types.Provider]map[types.Tier]float64)}
	for _, e := range doc.Prices {
		p := types.Provider(e.Provider)
		if m.prices[p] == nil {
			m.prices[p] = make(map[types.Tier]float64)
		}
		m.prices[p][types.Tier(e.Tier)] = e.PricePerGBPerMonth
	}
	return m, nil
}

const bytesPerGB = 1024 * 1024 * 1024

// MonthlyCost returns the estimated monthly storage cost of sizeBytes
// stored at (provider, tier).
func (m *Model) MonthlyCost(provider types.Provider, tier types.Tier, sizeBytes uint64) float64 {
	perGB, ok := m.prices[provider][tier]
	if !ok {
		return 0
	}
	gb := float64(sizeBytes) / bytesPerGB
	return gb * perGB
}

// MonthlySavings returns max(0, current - recommended); a negative
// delta (moving to a more expensive tier) never reports as savings.
func (m *Model) MonthlySavings(provider types.Provider, currentTier, recommendedTier types.Tier, sizeBytes uint64) float64 {
	current := m.MonthlyCost(provider, currentTier, sizeBytes)
	recommended := m.MonthlyCost(provider, recommendedTier, sizeBytes)
	delta := current - recommended
	if delta < 0 {
		return 0
	}
	return delta
}
