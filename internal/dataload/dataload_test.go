package dataload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fundsCSV = `fund_id,date,price,volume,expense_ratio,aum
VTSAX,2024-01-03,112.50,120000,0.04,1300000000
VTSAX,2024-01-02,111.80,95000,,
VFIAX,2024-01-02,440.10,80000,0.04,900000000
VTSAX,2024-01-04,113.20,,0.04,
VFIAX,2024-01-03,441.95,75000,,
`

func TestReadFunds(t *testing.T) {
	funds, err := ReadFunds(strings.NewReader(fundsCSV))
	require.NoError(t, err)
	require.Len(t, funds, 2)

	vtsax := funds[0]
	require.Equal(t, "VTSAX", vtsax.FundID)
	require.Len(t, vtsax.Points, 3)
	// Rows arrived out of order; points come back sorted.
	assert.True(t, vtsax.Points[0].Date.Before(vtsax.Points[1].Date))
	assert.True(t, vtsax.Points[1].Date.Before(vtsax.Points[2].Date))
	assert.Equal(t, 111.80, vtsax.Points[0].Price)

	// Empty cells are gaps, not zeros.
	assert.Nil(t, vtsax.Points[0].Fundamentals)
	require.NotNil(t, vtsax.Points[1].Fundamentals)
	assert.Equal(t, 0.04, vtsax.Points[1].Fundamentals["expense_ratio"])
	assert.Equal(t, 1.3e9, vtsax.Points[1].Fundamentals["aum"])
	assert.Zero(t, vtsax.Points[2].Volume, "missing volume stays zero")
	_, hasAUM := vtsax.Points[2].Fundamentals["aum"]
	assert.False(t, hasAUM)

	vfiax := funds[1]
	assert.Equal(t, "VFIAX", vfiax.FundID)
	require.Len(t, vfiax.Points, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), vfiax.Points[0].Date)
}

func TestReadFunds_Errors(t *testing.T) {
	cases := []struct {
		name string
		csv  string
		want string
	}{
		{
			"missing required column",
			"fund_id,date,volume\nA,2024-01-02,100\n",
			"missing required column",
		},
		{
			"bad date",
			"fund_id,date,price\nA,20240102,100\n",
			"bad date",
		},
		{
			"bad price",
			"fund_id,date,price\nA,2024-01-02,abc\n",
			"bad price",
		},
		{
			"duplicate date",
			"fund_id,date,price\nA,2024-01-02,100\nA,2024-01-02,101\n",
			"",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadFunds(strings.NewReader(tc.csv))
			require.Error(t, err)
			if tc.want != "" {
				assert.Contains(t, err.Error(), tc.want)
			}
		})
	}
}

func TestLoadFunds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funds.csv")
	require.NoError(t, os.WriteFile(path, []byte(fundsCSV), 0o644))

	funds, err := LoadFunds(path)
	require.NoError(t, err)
	assert.Len(t, funds, 2)

	_, err = LoadFunds(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestLoadBenchmark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.csv")
	csv := "date,price\n2024-01-03,4700.50\n2024-01-02,4690.25\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	b, err := LoadBenchmark(path)
	require.NoError(t, err)
	assert.Equal(t, "benchmark", b.FundID)
	require.Len(t, b.Points, 2)
	assert.Equal(t, 4690.25, b.Points[0].Price)

	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("date,level\n2024-01-02,1\n"), 0o644))
	_, err = LoadBenchmark(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date and price")
}
