package predictor

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudflux/orchestrator/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewStartsWithSurrogateModelUnavailable(t *testing.T) {
	p := New(discardLogger())
	assert.False(t, p.ModelAvailable())
	assert.GreaterOrEqual(t, p.Predict(Features{AccessCountWindow: 50, DaysSinceLastAccess: 1}), 0.0)
}

func TestReloadFromValidArtifactMakesModelAvailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.yaml")
	doc := `
bias: 1.0
access_count_window_weight: 1.0
days_since_last_access_weight: -1.0
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	p := New(discardLogger())
	require.NoError(t, p.ReloadFrom(path))
	assert.True(t, p.ModelAvailable())

	got := p.Predict(Features{AccessCountWindow: 10, DaysSinceLastAccess: 2})
	assert.InDelta(t, 9.0, got, 0.0001)
}

func TestReloadFromMissingFileKeepsAvailableFalse(t *testing.T) {
	p := New(discardLogger())
	err := p.ReloadFrom("/nonexistent/model.yaml")
	assert.Error(t, err)
	assert.False(t, p.ModelAvailable())
}

func TestPredictNeverNegative(t *testing.T) {
	p := New(discardLogger())
	got := p.Predict(Features{AccessCountWindow: 0, DaysSinceLastAccess: 400, AgeDays: 900})
	assert.GreaterOrEqual(t, got, 0.0)
}

func TestFeaturesFromEntryDerivesDaysSinceLastAccess(t *testing.T) {
	last := time.Now().Add(-72 * time.Hour)
	e := types.CatalogEntry{
		ObjectRef:   types.ObjectRef{Provider: types.ProviderGCP, SizeBytes: 2048},
		AccessStats: types.AccessStats{AccessCountWindow: 4, LastAccessAt: &last, AgeDays: 30},
	}
	f := FeaturesFromEntry(e, "log")
	assert.Equal(t, types.ProviderGCP, f.ProviderTag)
	assert.InDelta(t, 3, f.DaysSinceLastAccess, 1)
	assert.Equal(t, "log", f.ContentTypeHint)
}
