package alpha

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientFolds marks a series too short to produce at least one
// complete train/validate fold.
var ErrInsufficientFolds = errors.New("insufficient history for walk-forward folds")

// FoldMode selects how the training window grows between folds.
type FoldMode string

const (
	FoldExpanding FoldMode = "expanding"
	FoldRolling   FoldMode = "rolling"
)

// FoldConfig parameterizes walk-forward fold generation and the model
// behind it.
type FoldConfig struct {
	Mode        FoldMode `yaml:"mode"`
	MinTrain    int      `yaml:"min_train"`    // dates required before the first cutoff
	Step        int      `yaml:"step"`         // validation window length in dates
	TrainWindow int      `yaml:"train_window"` // rolling mode only
	Horizon     int      `yaml:"horizon"`      // forward-return horizon in periods
	Ridge       float64  `yaml:"ridge"`        // L2 penalty
}

// DefaultFoldConfig uses an expanding window with a one-month validation
// step on daily data.
func DefaultFoldConfig() FoldConfig {
	return FoldConfig{
		Mode:     FoldExpanding,
		MinTrain: 126,
		Step:     21,
		Horizon:  21,
		Ridge:    1.0,
	}
}

// Validate checks fold parameters at construction time.
func (c FoldConfig) Validate() error {
	switch c.Mode {
	case FoldExpanding, FoldRolling:
	default:
		return fmt.Errorf("unknown fold mode %q", c.Mode)
	}
	if c.MinTrain < 2 {
		return fmt.Errorf("min_train %d too small", c.MinTrain)
	}
	if c.Step < 1 {
		return fmt.Errorf("step %d must be positive", c.Step)
	}
	if c.Mode == FoldRolling && c.TrainWindow < 2 {
		return fmt.Errorf("rolling mode requires train_window >= 2, got %d", c.TrainWindow)
	}
	if c.Horizon < 1 {
		return fmt.Errorf("horizon %d must be positive", c.Horizon)
	}
	if c.Ridge < 0 {
		return fmt.Errorf("ridge penalty %v must be non-negative", c.Ridge)
	}
	return nil
}

// Fold is one walk-forward train/validate split. The training range covers
// as-of dates in [TrainStart, Cutoff]; the validation range covers
// (Cutoff, TestEnd]. Folds are generated once and shared by the model and
// any backtest reporting so both see identical boundaries.
type Fold struct {
	Index      int       `json:"index"`
	TrainStart time.Time `json:"train_start"`
	Cutoff     time.Time `json:"cutoff"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// Folds enumerates the walk-forward splits over a sorted, de-duplicated
// date axis. The last fold may have a validation window shorter than the
// nominal step. Fails with ErrInsufficientFolds when not even one complete
// fold fits.
func Folds(dates []time.Time, cfg FoldConfig) ([]Fold, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("fold dates not strictly increasing at index %d", i)
		}
	}
	if len(dates) < cfg.MinTrain+1 {
		return nil, fmt.Errorf("%d dates, need %d training plus at least one validation date: %w",
			len(dates), cfg.MinTrain, ErrInsufficientFolds)
	}

	var folds []Fold
	for cut := cfg.MinTrain - 1; cut < len(dates)-1; cut += cfg.Step {
		end := cut + cfg.Step
		if end > len(dates)-1 {
			end = len(dates) - 1
		}
		trainStart := 0
		if cfg.Mode == FoldRolling && cut-cfg.TrainWindow+1 > 0 {
			trainStart = cut - cfg.TrainWindow + 1
		}
		folds = append(folds, Fold{
			Index:      len(folds),
			TrainStart: dates[trainStart],
			Cutoff:     dates[cut],
			TestStart:  dates[cut+1],
			TestEnd:    dates[end],
		})
	}
	if len(folds) == 0 {
		return nil, ErrInsufficientFolds
	}
	return folds, nil
}
