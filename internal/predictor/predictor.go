// Package predictor implements the Access Predictor: inference over a
// fixed feature vector that estimates how many times an object will be
// read in the next access window. The model artifact is hot-reloadable;
// concurrent inference during a reload sees either the whole old model
// or the whole new one, never a partial mix.
package predictor

import (
	"log/slog"
	"math"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v2"

	"github.com/cloudflux/orchestrator/pkg/types"
)

// Features is the fixed feature vector, in the order the model expects.
type Features struct {
	SizeBytesLog        float64
	AgeDays             float64
	DaysSinceLastAccess float64
	AccessCountWindow   float64
	ContentTypeHint     string // one-hot at inference time, small closed set
	WeekdayOfLastAccess int    // 0=Sunday
	HourOfLastAccess    int    // 0-23
	ProviderTag         types.Provider
}

// FeaturesFromEntry derives a Features vector from a catalog entry. It
// never touches the network and runs in constant time.
func FeaturesFromEntry(e types.CatalogEntry, contentTypeHint string) Features {
	f := Features{
		SizeBytesLog:      math.Log1p(float64(e.SizeBytes)),
		AgeDays:           float64(e.AgeDays),
		AccessCountWindow: float64(e.AccessCountWindow),
		ContentTypeHint:   contentTypeHint,
		ProviderTag:       e.Provider,
	}
	f.DaysSinceLastAccess = float64(e.DaysSinceLastAccess())
	if e.LastAccessAt != nil {
		f.WeekdayOfLastAccess = int(e.LastAccessAt.Weekday())
		f.HourOfLastAccess = e.LastAccessAt.Hour()
	}
	return f
}

// contentTypeWeights is the small closed set of content-type hints the
// model was trained against; anything else falls into "other".
var contentTypeWeights = map[string]float64{
	"text":  0.3,
	"image": -0.1,
	"video": -0.4,
	"log":   0.6,
	"other": 0.0,
}

// model is the linear surrogate model artifact: a weight per feature
// plus a bias, loaded from YAML. A real deployment would swap this for
// a richer artifact format; the inference contract (pure function of
// Features, constant time) is what the rest of the system depends on.
type model struct {
	Bias                    float64 `yaml:"bias"`
	SizeBytesLogWeight      float64 `yaml:"size_bytes_log_weight"`
	AgeDaysWeight           float64 `yaml:"age_days_weight"`
	DaysSinceAccessWeight   float64 `yaml:"days_since_last_access_weight"`
	AccessCountWindowWeight float64 `yaml:"access_count_window_weight"`
	WeekdayWeight           float64 `yaml:"weekday_weight"`
	HourWeight              float64 `yaml:"hour_weight"`
}

func (m *model) predict(f Features) float64 {
	v := m.Bias +
		m.SizeBytesLogWeight*f.SizeBytesLog +
		m.AgeDaysWeight*f.AgeDays +
		m.DaysSinceAccessWeight*f.DaysSinceLastAccess +
		m.AccessCountWindowWeight*f.AccessCountWindow +
		m.WeekdayWeight*float64(f.WeekdayOfLastAccess) +
		m.HourWeight*float64(f.HourOfLastAccess)

	if w, ok := contentTypeWeights[f.ContentTypeHint]; ok {
		v += w
	} else {
		v += contentTypeWeights["other"]
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// defaultModel is a hand-tuned surrogate used when no artifact is
// configured; it approximates "recent and frequent predicts recent and
// frequent again" without needing training data.
var defaultModel = &model{
	Bias:                    0,
	SizeBytesLogWeight:      0,
	AgeDaysWeight:           -0.01,
	DaysSinceAccessWeight:   -0.5,
	AccessCountWindowWeight: 0.8,
	WeekdayWeight:           0,
	HourWeight:              0,
}

// Predictor holds the current model behind an atomic pointer so
// inference never observes a torn write during ReloadFrom.
type Predictor struct {
	logger    *slog.Logger
	current   atomic.Pointer[model]
	available atomic.Bool
}

// New constructs a predictor that starts with the built-in surrogate
// model; call ReloadFrom to load a real artifact.
func New(logger *slog.Logger) *Predictor {
	p := &Predictor{logger: logger.With("component", "predictor")}
	p.current.Store(defaultModel)
	p.available.Store(false)
	return p
}

// ReloadFrom loads a model artifact from path and swaps it in
// atomically. On failure the previous model (or the built-in
// surrogate) remains active and ModelAvailable reports false.
func (p *Predictor) ReloadFrom(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		p.available.Store(false)
		p.logger.Warn("predictor model load failed, using rule surrogate", "path", path, "error", err)
		return err
	}

	var m model
	if err := yaml.Unmarshal(data, &m); err != nil {
		p.available.Store(false)
		p.logger.Warn("predictor model parse failed, using rule surrogate", "path", path, "error", err)
		return err
	}

	p.current.Store(&m)
	p.available.Store(true)
	p.logger.Info("predictor model reloaded", "path", path)
	return nil
}

// ModelAvailable reports whether a real model artifact is currently
// loaded, surfaced to health as model_available.
func (p *Predictor) ModelAvailable() bool { return p.available.Load() }

// Predict returns the predicted access count for the next window. It
// is a pure function of f: no network, no shared mutable state beyond
// the atomically-swapped model pointer.
func (p *Predictor) Predict(f Features) float64 {
	m := p.current.Load()
	return m.predict(f)
}
