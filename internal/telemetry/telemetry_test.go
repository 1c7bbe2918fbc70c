package telemetry

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSnapshot(t *testing.T) {
	m := NewMetrics()
	m.FundScored()
	m.FundScored()
	m.FundUnscored("features")
	m.ObserveStage("per_fund", 25*time.Millisecond)

	path, err := m.WriteSnapshot(t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "fundrank_funds_scored_total 2")
	assert.Contains(t, out, `fundrank_funds_unscored_total{stage="features"} 1`)
	assert.Contains(t, out, "fundrank_stage_duration_seconds")
}
