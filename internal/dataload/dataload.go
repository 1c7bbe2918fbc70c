package dataload

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/quantfund/fundrank/internal/series"
)

const dateLayout = "2006-01-02"

// reserved column names; everything else in the header is treated as a
// fundamental ratio column.
const (
	colFundID = "fund_id"
	colDate   = "date"
	colPrice  = "price"
	colVolume = "volume"
)

// LoadFunds reads fund series from a CSV file with header
// fund_id,date,price,volume[,<fundamental columns>...]. Rows may arrive in
// any order; each fund's points are sorted by date and validated for
// duplicates before the series is returned. Empty fundamental cells are
// gaps, not zeros.
func LoadFunds(path string) ([]series.FundSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	funds, err := ReadFunds(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return funds, nil
}

// ReadFunds parses fund series CSV from a reader.
func ReadFunds(r io.Reader) ([]series.FundSeries, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols, fundamentalCols, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	byFund := make(map[string][]series.Point)
	var order []string
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", line+1, err)
		}
		line++

		id := record[cols[colFundID]]
		point, err := parsePoint(record, cols, fundamentalCols, header)
		if err != nil {
			return nil, fmt.Errorf("row %d (fund %s): %w", line, id, err)
		}
		if _, seen := byFund[id]; !seen {
			order = append(order, id)
		}
		byFund[id] = append(byFund[id], point)
	}

	out := make([]series.FundSeries, 0, len(order))
	for _, id := range order {
		points := byFund[id]
		sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
		s := series.FundSeries{FundID: id, Points: points}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadBenchmark reads a date,price CSV into a benchmark series.
func LoadBenchmark(path string) (*series.FundSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", path, err)
	}
	dateIdx, priceIdx := -1, -1
	for i, name := range header {
		switch name {
		case colDate:
			dateIdx = i
		case colPrice:
			priceIdx = i
		}
	}
	if dateIdx < 0 || priceIdx < 0 {
		return nil, fmt.Errorf("%s: benchmark header must contain date and price", path)
	}

	s := &series.FundSeries{FundID: "benchmark"}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		date, err := time.Parse(dateLayout, record[dateIdx])
		if err != nil {
			return nil, fmt.Errorf("%s: bad date %q: %w", path, record[dateIdx], err)
		}
		price, err := strconv.ParseFloat(record[priceIdx], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad price %q: %w", path, record[priceIdx], err)
		}
		s.Points = append(s.Points, series.Point{Date: date, Price: price})
	}
	sort.Slice(s.Points, func(i, j int) bool { return s.Points[i].Date.Before(s.Points[j].Date) })
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func indexColumns(header []string) (map[string]int, []int, error) {
	cols := make(map[string]int)
	var fundamentals []int
	for i, name := range header {
		switch name {
		case colFundID, colDate, colPrice, colVolume:
			cols[name] = i
		default:
			fundamentals = append(fundamentals, i)
		}
	}
	for _, required := range []string{colFundID, colDate, colPrice} {
		if _, ok := cols[required]; !ok {
			return nil, nil, fmt.Errorf("missing required column %q", required)
		}
	}
	return cols, fundamentals, nil
}

func parsePoint(record []string, cols map[string]int, fundamentalCols []int, header []string) (series.Point, error) {
	var p series.Point
	date, err := time.Parse(dateLayout, record[cols[colDate]])
	if err != nil {
		return p, fmt.Errorf("bad date %q: %w", record[cols[colDate]], err)
	}
	p.Date = date

	p.Price, err = strconv.ParseFloat(record[cols[colPrice]], 64)
	if err != nil {
		return p, fmt.Errorf("bad price %q: %w", record[cols[colPrice]], err)
	}
	if idx, ok := cols[colVolume]; ok && record[idx] != "" {
		p.Volume, err = strconv.ParseFloat(record[idx], 64)
		if err != nil {
			return p, fmt.Errorf("bad volume %q: %w", record[idx], err)
		}
	}

	for _, idx := range fundamentalCols {
		if record[idx] == "" {
			continue
		}
		v, err := strconv.ParseFloat(record[idx], 64)
		if err != nil {
			return p, fmt.Errorf("bad %s value %q: %w", header[idx], record[idx], err)
		}
		if p.Fundamentals == nil {
			p.Fundamentals = make(map[string]float64)
		}
		p.Fundamentals[header[idx]] = v
	}
	return p, nil
}
