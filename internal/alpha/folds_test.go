package alpha

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func days(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = day(i)
	}
	return out
}

func foldConfig() FoldConfig {
	return FoldConfig{Mode: FoldExpanding, MinTrain: 5, Step: 2, Horizon: 1, Ridge: 1}
}

func TestFolds_ExpandingBoundaries(t *testing.T) {
	folds, err := Folds(days(10), foldConfig())
	require.NoError(t, err)
	require.Len(t, folds, 3)

	// Cutoffs advance by the step; the validation window is (cutoff, next].
	assert.True(t, folds[0].Cutoff.Equal(day(4)))
	assert.True(t, folds[0].TestStart.Equal(day(5)))
	assert.True(t, folds[0].TestEnd.Equal(day(6)))

	assert.True(t, folds[1].Cutoff.Equal(day(6)))
	assert.True(t, folds[1].TestEnd.Equal(day(8)))

	// The last fold's validation window is shorter than the nominal step.
	assert.True(t, folds[2].Cutoff.Equal(day(8)))
	assert.True(t, folds[2].TestStart.Equal(day(9)))
	assert.True(t, folds[2].TestEnd.Equal(day(9)))

	// Expanding mode always trains from the first date.
	for _, f := range folds {
		assert.True(t, f.TrainStart.Equal(day(0)))
		assert.True(t, f.Cutoff.Before(f.TestStart), "cutoff must strictly precede the validation window")
	}
}

func TestFolds_RollingWindow(t *testing.T) {
	cfg := foldConfig()
	cfg.Mode = FoldRolling
	cfg.TrainWindow = 4

	folds, err := Folds(days(10), cfg)
	require.NoError(t, err)
	// Fold 0 cuts at index 4, so a 4-date window starts at index 1.
	assert.True(t, folds[0].TrainStart.Equal(day(1)))
	assert.True(t, folds[1].TrainStart.Equal(day(3)))
}

func TestFolds_InsufficientHistory(t *testing.T) {
	_, err := Folds(days(5), foldConfig()) // MinTrain 5 leaves nothing to validate
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientFolds))

	folds, err := Folds(days(6), foldConfig())
	require.NoError(t, err)
	assert.Len(t, folds, 1)
}

func TestFolds_MonotoneCutoffs(t *testing.T) {
	folds, err := Folds(days(60), foldConfig())
	require.NoError(t, err)
	for i := 1; i < len(folds); i++ {
		assert.True(t, folds[i].Cutoff.After(folds[i-1].Cutoff), "cutoffs must strictly increase")
		assert.True(t, folds[i].TestStart.After(folds[i-1].TestEnd) || folds[i].TestStart.Equal(folds[i-1].TestEnd),
			"validation windows must not overlap")
	}
}

func TestFoldConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*FoldConfig)
	}{
		{"bad mode", func(c *FoldConfig) { c.Mode = "leave-one-out" }},
		{"tiny min train", func(c *FoldConfig) { c.MinTrain = 1 }},
		{"zero step", func(c *FoldConfig) { c.Step = 0 }},
		{"rolling without window", func(c *FoldConfig) { c.Mode = FoldRolling; c.TrainWindow = 0 }},
		{"negative ridge", func(c *FoldConfig) { c.Ridge = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := foldConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
