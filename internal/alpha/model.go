package alpha

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Model abstracts the learner behind the walk-forward runner. The concrete
// choice is an implementation detail; coefficients are exposed for
// statistical evaluation of stability across folds.
type Model interface {
	Fit(x *mat.Dense, y []float64) error
	Predict(x []float64) (float64, error)
	Coefficients() []float64
	Intercept() float64
}

// RidgeModel is an L2-regularized linear regression solved by normal
// equations on standardized features. Standardization keeps the penalty
// comparable across feature scales.
type RidgeModel struct {
	lambda    float64
	colMean   []float64
	colStd    []float64
	coef      []float64
	intercept float64
	fitted    bool
}

// NewRidgeModel creates a ridge regression with the given L2 penalty.
// A zero penalty degrades to ordinary least squares.
func NewRidgeModel(lambda float64) *RidgeModel {
	return &RidgeModel{lambda: lambda}
}

// Fit solves (ZᵀZ + λI)β = Zᵀy where Z is the column-standardized design
// matrix.
func (m *RidgeModel) Fit(x *mat.Dense, y []float64) error {
	n, d := x.Dims()
	if n != len(y) {
		return fmt.Errorf("design matrix has %d rows, target has %d", n, len(y))
	}
	if n <= d {
		return fmt.Errorf("%d samples insufficient for %d features", n, d)
	}

	m.colMean = make([]float64, d)
	m.colStd = make([]float64, d)
	col := make([]float64, n)
	z := mat.NewDense(n, d, nil)
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		m.colMean[j] = stat.Mean(col, nil)
		m.colStd[j] = stat.StdDev(col, nil)
		if m.colStd[j] == 0 || math.IsNaN(m.colStd[j]) {
			m.colStd[j] = 1 // constant column carries no signal
		}
		for i := 0; i < n; i++ {
			z.Set(i, j, (col[i]-m.colMean[j])/m.colStd[j])
		}
	}

	yMean := stat.Mean(y, nil)
	yc := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yc.SetVec(i, y[i]-yMean)
	}

	var gram mat.Dense
	gram.Mul(z.T(), z)
	for j := 0; j < d; j++ {
		gram.Set(j, j, gram.At(j, j)+m.lambda)
	}
	var rhs mat.VecDense
	rhs.MulVec(z.T(), yc)

	var beta mat.VecDense
	if err := beta.SolveVec(&gram, &rhs); err != nil {
		return fmt.Errorf("ridge solve failed: %w", err)
	}

	m.coef = make([]float64, d)
	for j := 0; j < d; j++ {
		m.coef[j] = beta.AtVec(j)
	}
	m.intercept = yMean
	m.fitted = true
	return nil
}

// Predict scores one standardized feature row.
func (m *RidgeModel) Predict(x []float64) (float64, error) {
	if !m.fitted {
		return 0, fmt.Errorf("model not fitted")
	}
	if len(x) != len(m.coef) {
		return 0, fmt.Errorf("feature row has %d columns, model expects %d", len(x), len(m.coef))
	}
	pred := m.intercept
	for j, v := range x {
		pred += m.coef[j] * (v - m.colMean[j]) / m.colStd[j]
	}
	return pred, nil
}

// Coefficients returns the per-feature weights in design-column order.
func (m *RidgeModel) Coefficients() []float64 {
	return append([]float64(nil), m.coef...)
}

// Intercept returns the fitted intercept.
func (m *RidgeModel) Intercept() float64 { return m.intercept }
