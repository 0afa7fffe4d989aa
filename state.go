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
	"encoding/gob"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
)

// storeState is the gob image of a store.
type storeState struct {
	Series  map[string]*seriesState
	Covered map[string][]TimeRange
}

// seriesState is the gob image of one series. Display state is stored
// as attribute maps rather than structs, so files written before a
// plot attribute was renamed or removed still load, with the stale
// attributes dropped.
type seriesState struct {
	Data  *Segment
	Plot  map[string]PlotDefaults
	Units string
	Label string
}

// Save writes the store's series and coverage to w as a gob stream
// (format description at https://golang.org/pkg/encoding/gob/).
func (s *Store) Save(w io.Writer) error {
	st := storeState{
		Series:  make(map[string]*seriesState, len(s.series)),
		Covered: make(map[string][]TimeRange),
	}
	for key, ser := range s.series {
		plots := make(map[string]PlotDefaults, len(ser.Plot))
		for v, ps := range ser.Plot {
			plots[v] = ps.Attrs()
		}
		st.Series[key] = &seriesState{
			Data:  ser.Data,
			Plot:  plots,
			Units: ser.Units,
			Label: ser.Label,
		}
	}
	for _, key := range s.tracker.Keys() {
		st.Covered[key] = s.tracker.Covered(key)
	}
	if err := gob.NewEncoder(w).Encode(st); err != nil {
		return fmt.Errorf("insitu.Store.Save: %v", err)
	}
	return nil
}

// Load reads a previously Saved stream into the store, replacing any
// products it already holds under the same keys. Loaded series are
// registered in the instance registry; a key registered with an
// incompatible type fails the load. Saved plot attributes the current
// code does not recognize are dropped with a warning.
func (s *Store) Load(r io.Reader) error {
	var st storeState
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("insitu.Store.Load: %v", err)
	}

	keys := make([]string, 0, len(st.Series))
	for key := range st.Series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sst := st.Series[key]
		if sst.Data != nil {
			sst.Data.fix()
		}
		ser := &Series{
			Key:   key,
			Data:  sst.Data,
			Plot:  make(map[string]*PlotState),
			Units: sst.Units,
			Label: sst.Label,
		}
		for _, col := range sst.Data.ColumnNames() {
			ps := DefaultPlotState()
			if attrs, ok := sst.Plot[col]; ok {
				ps.Apply(attrs, func(attr string, val interface{}) {
					s.Log.WithFields(logrus.Fields{
						"key":       key,
						"variable":  col,
						"attribute": attr,
					}).Warn("insitu store dropping unknown plot attribute")
				})
			}
			ser.Plot[col] = ps
		}
		if err := s.registry.Register(key, ser); err != nil {
			return err
		}
		s.series[key] = ser
	}
	for key, ranges := range st.Covered {
		s.tracker.setCovered(key, ranges)
	}
	return nil
}
