// Package classifier implements the Placement Classifier: for one
// catalog entry it produces at most one Recommendation, following a
// deterministic five-step algorithm (temperature rule, predictor
// override, provider constraint, economic filter, rationale).
package classifier

import (
	"fmt"
	"log/slog"

	"github.com/cloudflux/orchestrator/internal/costmodel"
	"github.com/cloudflux/orchestrator/internal/metrics"
	"github.com/cloudflux/orchestrator/internal/predictor"
	"github.com/cloudflux/orchestrator/internal/provider"
	"github.com/cloudflux/orchestrator/pkg/types"
)

// Config carries the tunables §4.5 leaves to configuration.
type Config struct {
	MinSavingsThreshold float64
}

// Classifier composes the Cost Model and, optionally, the Access
// Predictor. It holds no per-entry state: Classify is pure and
// idempotent for a fixed input.
type Classifier struct {
	logger    *slog.Logger
	cost      *costmodel.Model
	predictor *predictor.Predictor
	cfg       Config
	tierClassesByProvider map[types.Provider]provider.TierClasses

	metrics *metrics.Collector
}

// SetMetrics attaches a metrics collector that every produced
// recommendation reports to. Optional; a nil collector (the default)
// leaves recording as a no-op.
func (c *Classifier) SetMetrics(m *metrics.Collector) {
	c.metrics = m
}

// New constructs a Classifier. predictor may be nil, in which case
// step B always falls back to the default 0.7 confidence.
func New(logger *slog.Logger, cost *costmodel.Model, pred *predictor.Predictor, cfg Config) *Classifier {
	return &Classifier{
		logger:    logger.With("component", "classifier"),
		cost:      cost,
		predictor: pred,
		cfg:       cfg,
		tierClassesByProvider: map[types.Provider]provider.TierClasses{
			types.ProviderAWS:   provider.AWSTierClasses,
			types.ProviderAzure: provider.AzureTierClasses,
			types.ProviderGCP:   provider.GCPTierClasses,
		},
	}
}

// temperatureRule is step A: derive a temperature from access and size
// signals alone, independent of provider or cost.
func temperatureRule(e types.CatalogEntry) (types.Tier, string) {
	daysSince := e.DaysSinceLastAccess()
	const gib = 1 << 30
	const tenGib = 10 * gib

	if e.AccessCountWindow >= 100 || (daysSince <= 7 && e.SizeBytes < gib) {
		return types.TierHot, "rule-A-hot"
	}
	if e.AgeDays > 365 && e.AccessCountWindow == 0 {
		return types.TierArchive, "rule-A-archive"
	}
	if daysSince > 30 && e.SizeBytes > tenGib {
		return types.TierCold, "rule-A-cold"
	}
	return types.TierWarm, "rule-A-warm"
}

// predictorOverride is step B. It returns the possibly-adjusted
// temperature and the confidence to report.
func (c *Classifier) predictorOverride(e types.CatalogEntry, temperature types.Tier, tag string) (types.Tier, float64, string) {
	if c.predictor == nil || !c.predictor.ModelAvailable() {
		return temperature, 0.7, tag
	}

	f := predictor.FeaturesFromEntry(e, "other")
	predicted := c.predictor.Predict(f)

	const promoteToHotThreshold = 20.0  // predicted accesses that justify HOT
	const demoteFromHotThreshold = 2.0  // predicted accesses too low to keep HOT
	const demoteFromWarmThreshold = 0.5 // predicted accesses too low to keep WARM

	adjusted := temperature
	switch {
	case predicted >= promoteToHotThreshold && temperature != types.TierHot:
		adjusted = types.TierHot
	case predicted <= demoteFromHotThreshold && temperature == types.TierHot:
		adjusted = types.TierWarm
	case predicted <= demoteFromWarmThreshold && temperature == types.TierWarm:
		adjusted = types.TierCold
	}

	if adjusted == temperature {
		return temperature, 0.7, tag
	}

	// Confidence: a monotone function of distance from threshold,
	// clamped to [0.5, 0.95].
	distance := predicted - promoteToHotThreshold
	if distance < 0 {
		distance = -distance
	}
	confidence := 0.5 + (distance / (distance + 10.0))
	if confidence > 0.95 {
		confidence = 0.95
	}
	if confidence < 0.5 {
		confidence = 0.5
	}
	return adjusted, confidence, "rule-B-predictor-override"
}

// providerConstraint is step C: round to the coldest tier the entry's
// provider actually supports.
func (c *Classifier) providerConstraint(p types.Provider, temperature types.Tier) types.Tier {
	classes, ok := c.tierClassesByProvider[p]
	if !ok {
		return temperature
	}
	return provider.ColdestSupported(classes, temperature)
}

// Classify runs the full A-E algorithm for one entry and returns nil
// when no recommendation should be surfaced (temperature matches
// current tier, or savings fall below threshold).
func (c *Classifier) Classify(e types.CatalogEntry) *types.Recommendation {
	temperature, tag := temperatureRule(e)
	temperature, confidence, tag := c.predictorOverride(e, temperature, tag)
	temperature = c.providerConstraint(e.Provider, temperature)

	if temperature == e.CurrentTier {
		return nil
	}

	savings := c.cost.MonthlySavings(e.Provider, e.CurrentTier, temperature, e.SizeBytes)
	if savings < c.cfg.MinSavingsThreshold {
		return nil
	}

	var priority string
	switch {
	case savings >= 10*c.cfg.MinSavingsThreshold:
		priority = "HIGH"
	case savings >= 3*c.cfg.MinSavingsThreshold:
		priority = "MEDIUM"
	default:
		priority = "LOW"
	}

	if c.metrics != nil {
		c.metrics.RecordRecommendation(string(temperature))
	}

	return &types.Recommendation{
		RecommendedTier: temperature,
		MonthlySavings:  savings,
		Priority:        priority,
		Rationale: types.Rationale{
			Tag:    tag,
			Reason: rationaleReason(tag, e, temperature),
		},
		Confidence: confidence,
	}
}

func rationaleReason(tag string, e types.CatalogEntry, target types.Tier) string {
	switch tag {
	case "rule-A-hot":
		return fmt.Sprintf("%d accesses in window / accessed %d days ago qualifies for HOT", e.AccessCountWindow, e.DaysSinceLastAccess())
	case "rule-A-archive":
		return fmt.Sprintf("no accesses in %d days since creation, eligible for ARCHIVE", e.AgeDays)
	case "rule-A-cold":
		return fmt.Sprintf("last accessed %d days ago and %d bytes, moving to COLD", e.DaysSinceLastAccess(), e.SizeBytes)
	case "rule-B-predictor-override":
		return fmt.Sprintf("access predictor overrides temperature rule, recommending %s", target)
	default:
		return fmt.Sprintf("recommending move to %s", target)
	}
}

// ClassifyBatch runs Classify over every entry, returning only the
// non-nil recommendations paired with the entry they apply to. Used by
// the Control API's /placement/recommendations handler.
func (c *Classifier) ClassifyBatch(entries []types.CatalogEntry) map[types.ObjectRef]*types.Recommendation {
	out := make(map[types.ObjectRef]*types.Recommendation)
	for _, e := range entries {
		if rec := c.Classify(e); rec != nil {
			out[e.ObjectRef] = rec
		}
	}
	return out
}
