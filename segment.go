/*
Copyright © 2018 the insitu authors.
This file is part of insitu.

insitu is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

insitu is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with insitu.  If not, see <http://www.gnu.org/licenses/>.
*/

package insitu

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// A Segment is a column-aligned block of samples for one data product.
// Times holds nanosecond UTC timestamps and every column holds one value
// per timestamp. Missing values are NaN.
//
// Library operations that return segments always return them with Times
// in ascending order; segments built directly by fetchers may be in any
// order until they pass through Merge.
type Segment struct {
	Times   []int64
	Columns map[string]*sparse.DenseArray
}

// NewSegment creates a segment from a timestamp slice and equally long
// value slices. The inputs are copied.
func NewSegment(times []int64, columns map[string][]float64) (*Segment, error) {
	s := &Segment{
		Times:   make([]int64, len(times)),
		Columns: make(map[string]*sparse.DenseArray, len(columns)),
	}
	copy(s.Times, times)
	for name, vals := range columns {
		if len(vals) != len(times) {
			return nil, fmt.Errorf("insitu: segment column %s has %d values for %d timestamps",
				name, len(vals), len(times))
		}
		arr := sparse.ZerosDense(len(times))
		copy(arr.Elements, vals)
		s.Columns[name] = arr
	}
	return s, nil
}

// Len returns the number of samples.
func (s *Segment) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Times)
}

// IsEmpty reports whether the segment holds no samples.
func (s *Segment) IsEmpty() bool { return s.Len() == 0 }

// ColumnNames returns the sorted column names.
func (s *Segment) ColumnNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Columns))
	for name := range s.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Range returns the half-open range covering every sample in the
// segment. The second return value is false when the segment is empty.
func (s *Segment) Range() (TimeRange, bool) {
	if s.Len() == 0 {
		return TimeRange{}, false
	}
	min, max := s.Times[0], s.Times[0]
	for _, t := range s.Times[1:] {
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
	}
	return TimeRange{Start: min, End: max + 1}, true
}

// Subset returns a new segment holding the samples within r. Times must
// be in ascending order.
func (s *Segment) Subset(r TimeRange) *Segment {
	if s == nil {
		return emptySegment(nil)
	}
	i0 := sort.Search(len(s.Times), func(i int) bool { return s.Times[i] >= r.Start })
	i1 := sort.Search(len(s.Times), func(i int) bool { return s.Times[i] >= r.End })
	out := &Segment{
		Times:   make([]int64, i1-i0),
		Columns: make(map[string]*sparse.DenseArray, len(s.Columns)),
	}
	copy(out.Times, s.Times[i0:i1])
	for name, col := range s.Columns {
		arr := sparse.ZerosDense(i1 - i0)
		copy(arr.Elements, col.Elements[i0:i1])
		out.Columns[name] = arr
	}
	return out
}

// Copy returns a deep copy of the segment.
func (s *Segment) Copy() *Segment {
	if s == nil {
		return emptySegment(nil)
	}
	out := &Segment{
		Times:   make([]int64, len(s.Times)),
		Columns: make(map[string]*sparse.DenseArray, len(s.Columns)),
	}
	copy(out.Times, s.Times)
	for name, col := range s.Columns {
		out.Columns[name] = col.Copy()
	}
	return out
}

// emptySegment creates a segment with zero samples and the given
// column names.
func emptySegment(names []string) *Segment {
	s := &Segment{Columns: make(map[string]*sparse.DenseArray, len(names))}
	for _, name := range names {
		s.Columns[name] = sparse.ZerosDense(0)
	}
	return s
}

// ColumnStats summarizes the finite values of one column.
type ColumnStats struct {
	Min, Max, Sum, Mean float64
	N                   int // number of finite values
	NaN                 int // number of missing values
}

// Stats summarizes the named column, ignoring NaN values.
func (s *Segment) Stats(col string) (ColumnStats, error) {
	arr, ok := s.Columns[col]
	if !ok {
		return ColumnStats{}, fmt.Errorf("insitu: segment has no column %s", col)
	}
	valid := make([]float64, 0, len(arr.Elements))
	nan := 0
	for _, v := range arr.Elements {
		if math.IsNaN(v) {
			nan++
			continue
		}
		valid = append(valid, v)
	}
	cs := ColumnStats{N: len(valid), NaN: nan}
	if len(valid) == 0 {
		cs.Min, cs.Max, cs.Mean = math.NaN(), math.NaN(), math.NaN()
		return cs, nil
	}
	cs.Min = floats.Min(valid)
	cs.Max = floats.Max(valid)
	cs.Sum = floats.Sum(valid)
	cs.Mean = cs.Sum / float64(len(valid))
	return cs, nil
}

// Cadence estimates the sample period by linear regression of the
// timestamps on the sample index, returning the period and the
// regression R² value. Segments with fewer than two samples return
// zeros.
func (s *Segment) Cadence() (time.Duration, float64) {
	if s.Len() < 2 {
		return 0, 0
	}
	x := make([]float64, len(s.Times))
	y := make([]float64, len(s.Times))
	for i, t := range s.Times {
		x[i] = float64(i)
		y[i] = float64(t - s.Times[0])
	}
	slope, _, rsquared, _, _, _ := stats.LinearRegression(x, y)
	return time.Duration(slope), rsquared
}

// fix re-initializes the internal fields of the column arrays. It must
// be called after decoding a segment from gob.
func (s *Segment) fix() {
	for _, col := range s.Columns {
		col.Fix()
	}
}
