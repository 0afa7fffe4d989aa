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
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"
)

// dayFormat is the layout the [DATE] token in file templates is
// expanded with by default.
const dayFormat = "20060102"

// A ColumnSpec maps one segment column to a NetCDF variable.
type ColumnSpec struct {
	// Name is the column name in the segment.
	Name string
	// Var is the variable name in the file. It defaults to Name.
	Var string

	Units       string
	Description string
}

func (c ColumnSpec) varName() string {
	if c.Var != "" {
		return c.Var
	}
	return c.Name
}

// A FileFetcher reads product data from one NetCDF file per UTC day.
//
// FileTemplate names the files relative to Dir, with a [DATE] token
// that is replaced by the day formatted as DateFormat ("20060102" when
// empty). Fetching opens every day file the requested range touches; a
// missing or unreadable file fails the whole fetch, because a file
// that cannot be read is not evidence that the day holds no data.
//
// The time variable (TimeVar, "time" when empty) is read as nanosecond
// offsets from the whole-second epoch time in its "base" attribute, or
// as nanoseconds since the epoch if there is no "base" attribute.
// Column values equal to a declared _FillValue, and infinities, become
// NaN.
type FileFetcher struct {
	Dir          string
	FileTemplate string
	DateFormat   string
	TimeVar      string
	Columns      []ColumnSpec

	// Log receives a debug message per opened file. If it is nil, the
	// logrus standard logger is used.
	Log logrus.FieldLogger
}

func (f *FileFetcher) timeVar() string {
	if f.TimeVar != "" {
		return f.TimeVar
	}
	return "time"
}

func (f *FileFetcher) dateFormat() string {
	if f.DateFormat != "" {
		return f.DateFormat
	}
	return dayFormat
}

func (f *FileFetcher) logger() logrus.FieldLogger {
	if f.Log != nil {
		return f.Log
	}
	return logrus.StandardLogger()
}

func (f *FileFetcher) columnNames() []string {
	names := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}

// Fetch reads the day files covering r and returns their samples
// within r.
func (f *FileFetcher) Fetch(_ context.Context, key string, r TimeRange) (*Segment, error) {
	if len(f.Columns) == 0 {
		return nil, fmt.Errorf("insitu: product %s has no columns declared", key)
	}
	if r.IsZero() {
		return emptySegment(f.columnNames()), nil
	}

	var times []int64
	columns := make(map[string][]float64, len(f.Columns))
	for _, c := range f.Columns {
		columns[c.Name] = nil
	}

	day := time.Unix(0, r.Start).UTC().Truncate(24 * time.Hour)
	last := time.Unix(0, r.End-1).UTC().Truncate(24 * time.Hour)
	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		name := strings.Replace(f.FileTemplate, "[DATE]", day.Format(f.dateFormat()), -1)
		path := filepath.Join(f.Dir, name)
		f.logger().WithFields(logrus.Fields{
			"product": key,
			"file":    path,
		}).Debug("insitu reading day file")
		dayTimes, dayCols, err := f.readDayFile(path, r)
		if err != nil {
			return nil, err
		}
		times = append(times, dayTimes...)
		for name, vals := range dayCols {
			columns[name] = append(columns[name], vals...)
		}
	}
	return NewSegment(times, columns)
}

// readDayFile reads one file and returns its samples within r.
func (f *FileFetcher) readDayFile(path string, r TimeRange) ([]int64, map[string][]float64, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("insitu: opening day file: %v", err)
	}
	defer ff.Close()
	cf, err := cdf.Open(ff)
	if err != nil {
		return nil, nil, fmt.Errorf("insitu: reading %s: %v", path, err)
	}

	allTimes, err := readTimes(cf, f.timeVar())
	if err != nil {
		return nil, nil, fmt.Errorf("insitu: reading %s: %v", path, err)
	}

	// Clip to the requested range before reading the columns.
	keep := make([]int, 0, len(allTimes))
	times := make([]int64, 0, len(allTimes))
	for i, t := range allTimes {
		if t >= r.Start && t < r.End {
			keep = append(keep, i)
			times = append(times, t)
		}
	}

	columns := make(map[string][]float64, len(f.Columns))
	for _, c := range f.Columns {
		all, err := readFloats(cf, c.varName())
		if err != nil {
			return nil, nil, fmt.Errorf("insitu: reading %s: %v", path, err)
		}
		if len(all) != len(allTimes) {
			return nil, nil, fmt.Errorf("insitu: reading %s: variable %s has %d values for %d times",
				path, c.varName(), len(all), len(allTimes))
		}
		fill, hasFill := attrFloat(cf.Header, c.varName(), "_FillValue")
		vals := make([]float64, len(keep))
		for j, i := range keep {
			v := all[i]
			if (hasFill && v == fill) || math.IsInf(v, 0) {
				v = math.NaN()
			}
			vals[j] = v
		}
		columns[c.Name] = vals
	}
	return times, columns, nil
}

// readTimes reads the time variable v from cf and converts it to
// nanosecond timestamps.
func readTimes(cf *cdf.File, v string) ([]int64, error) {
	vals, err := readFloats(cf, v)
	if err != nil {
		return nil, err
	}
	var base int64
	if b, ok := attrFloat(cf.Header, v, "base"); ok {
		base = int64(b) * int64(time.Second)
	}
	times := make([]int64, len(vals))
	for i, val := range vals {
		times[i] = base + int64(val)
	}
	return times, nil
}

// readFloats reads the whole of variable v from cf as float64s.
func readFloats(cf *cdf.File, v string) ([]float64, error) {
	dims := cf.Header.Lengths(v)
	if len(dims) == 0 {
		return nil, fmt.Errorf("variable %v not in file", v)
	}
	r := cf.Reader(v, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading variable %s: %v", v, err)
	}
	switch b := buf.(type) {
	case []float64:
		return b, nil
	case []float32:
		out := make([]float64, len(b))
		for i, val := range b {
			out[i] = float64(val)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(b))
		for i, val := range b {
			out[i] = float64(val)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("variable %s has unsupported type %T", v, buf)
	}
}

// attrFloat returns the first value of the numeric attribute a of
// variable v, if it exists.
func attrFloat(h *cdf.Header, v, a string) (float64, bool) {
	switch val := h.GetAttribute(v, a).(type) {
	case []float64:
		if len(val) > 0 {
			return val[0], true
		}
	case []float32:
		if len(val) > 0 {
			return float64(val[0]), true
		}
	case []int32:
		if len(val) > 0 {
			return float64(val[0]), true
		}
	case []int16:
		if len(val) > 0 {
			return float64(val[0]), true
		}
	}
	return 0, false
}

// attrString returns the string attribute a of variable v, or "".
func attrString(h *cdf.Header, v, a string) string {
	if val, ok := h.GetAttribute(v, a).(string); ok {
		return val
	}
	return ""
}

// WriteNetCDF writes the data of s to f in NetCDF classic format.
//
// The file gets a single time dimension; a float64 time variable
// holding nanosecond offsets from the whole-second epoch time in its
// "base" attribute; and one float64 variable per column. The times
// round-trip exactly as long as the series spans less than about 104
// days, the largest nanosecond count a float64 holds exactly.
func WriteNetCDF(s *Series, f *os.File) error {
	if s == nil || s.Data == nil || s.Data.Len() == 0 {
		return fmt.Errorf("insitu: exporting series: no data")
	}
	data := s.Data
	n := data.Len()
	base := data.Times[0] / int64(time.Second)

	h := cdf.NewHeader([]string{"time"}, []int{n})
	h.AddAttribute("", "product", s.Key)
	h.AddAttribute("", "label", s.Label)
	h.AddAttribute("", "units", s.Units)
	h.AddAttribute("", "created", time.Now().UTC().Format(time.RFC3339))

	h.AddVariable("time", []string{"time"}, []float64{0.})
	h.AddAttribute("time", "base", []float64{float64(base)})
	h.AddAttribute("time", "units", fmt.Sprintf("nanoseconds since %s",
		time.Unix(base, 0).UTC().Format(time.RFC3339)))

	names := data.ColumnNames()
	for _, name := range names {
		h.AddVariable(name, []string{"time"}, []float64{0.})
		h.AddAttribute(name, "description", fmt.Sprintf("%s %s", s.Key, name))
		h.AddAttribute(name, "units", s.Units)
	}
	h.Define()
	for _, err := range h.Check() {
		return fmt.Errorf("insitu: creating netcdf file: %v", err)
	}

	cf, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("insitu: creating netcdf file: %v", err)
	}

	offsets := make([]float64, n)
	baseNano := base * int64(time.Second)
	for i, t := range data.Times {
		offsets[i] = float64(t - baseNano)
	}
	w := cf.Writer("time", []int{0}, []int{n})
	if _, err := w.Write(offsets); err != nil {
		return fmt.Errorf("insitu: writing netcdf times: %v", err)
	}
	for _, name := range names {
		w := cf.Writer(name, []int{0}, []int{n})
		if _, err := w.Write(data.Columns[name].Elements); err != nil {
			return fmt.Errorf("insitu: writing netcdf variable %s: %v", name, err)
		}
	}
	return nil
}

// ReadNetCDF reads a series back from a file written by WriteNetCDF.
func ReadNetCDF(f *os.File) (*Series, error) {
	cf, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("insitu: reading netcdf file: %v", err)
	}
	times, err := readTimes(cf, "time")
	if err != nil {
		return nil, fmt.Errorf("insitu: reading netcdf file: %v", err)
	}
	columns := make(map[string][]float64)
	for _, v := range cf.Header.Variables() {
		if v == "time" {
			continue
		}
		vals, err := readFloats(cf, v)
		if err != nil {
			return nil, fmt.Errorf("insitu: reading netcdf file: %v", err)
		}
		columns[v] = vals
	}
	data, err := NewSegment(times, columns)
	if err != nil {
		return nil, err
	}
	return &Series{
		Key:   attrString(cf.Header, "", "product"),
		Label: attrString(cf.Header, "", "label"),
		Units: attrString(cf.Header, "", "units"),
		Data:  data,
	}, nil
}
