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
	"reflect"

	"github.com/sirupsen/logrus"
)

// PlotState holds the display settings of one plotted variable. The
// attr tags name the attributes in snapshots and persisted state, so
// the struct can evolve without invalidating saved attribute maps:
// attributes without a matching field are dropped on restore.
type PlotState struct {
	Color      string  `attr:"color"`
	LineStyle  string  `attr:"line_style"`
	LineWidth  float64 `attr:"line_width"`
	MarkerSize float64 `attr:"marker_size"`
	Label      string  `attr:"label"`
	YScale     string  `attr:"y_scale"`
	Visible    bool    `attr:"visible"`
}

// PlotDefaults is an attribute map, keyed by attr tag, applied to a
// variable's plot state when its series is first built.
type PlotDefaults map[string]interface{}

// DefaultPlotState returns the display settings a new variable starts
// with.
func DefaultPlotState() *PlotState {
	return &PlotState{
		LineStyle: "solid",
		LineWidth: 1,
		YScale:    "linear",
		Visible:   true,
	}
}

// Attrs returns the state as an attribute map keyed by the attr tags.
func (ps *PlotState) Attrs() map[string]interface{} {
	v := reflect.ValueOf(ps).Elem()
	t := v.Type()
	out := make(map[string]interface{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("attr")
		if tag == "" {
			continue
		}
		out[tag] = v.Field(i).Interface()
	}
	return out
}

// Apply sets every attribute in attrs that the state recognizes, that
// is, every attribute with a matching attr tag and an assignable value.
// warn, if not nil, is called for each attribute that is dropped.
func (ps *PlotState) Apply(attrs map[string]interface{}, warn func(attr string, val interface{})) {
	v := reflect.ValueOf(ps).Elem()
	t := v.Type()
	fields := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("attr"); tag != "" {
			fields[tag] = i
		}
	}
	for name, val := range attrs {
		i, ok := fields[name]
		if !ok {
			if warn != nil {
				warn(name, val)
			}
			continue
		}
		fv := v.Field(i)
		if val == nil {
			if warn != nil {
				warn(name, val)
			}
			continue
		}
		rv := reflect.ValueOf(val)
		if !rv.Type().AssignableTo(fv.Type()) {
			// TOML decodes whole numbers as int64; accept them into
			// float fields.
			if fv.Kind() == reflect.Float64 &&
				(rv.Kind() == reflect.Int64 || rv.Kind() == reflect.Int || rv.Kind() == reflect.Float32) {
				fv.Set(rv.Convert(fv.Type()))
				continue
			}
			if warn != nil {
				warn(name, val)
			}
			continue
		}
		fv.Set(rv)
	}
}

// A PlotStateManager carries per-variable display state across the
// replacement of a series: the state of the old series' variables is
// snapshotted, the series is replaced, and the snapshot is restored
// onto whichever of the variables still exist.
type PlotStateManager struct {
	// Log receives a warning for each dropped attribute. The default
	// is the logrus standard logger.
	Log logrus.FieldLogger

	saved map[string]map[string]interface{}
}

// NewPlotStateManager creates an empty manager.
func NewPlotStateManager() *PlotStateManager {
	return &PlotStateManager{
		Log:   logrus.StandardLogger(),
		saved: make(map[string]map[string]interface{}),
	}
}

// Snapshot records the current state of every variable, replacing any
// previous snapshot.
func (m *PlotStateManager) Snapshot(vars map[string]*PlotState) {
	m.saved = make(map[string]map[string]interface{}, len(vars))
	for name, ps := range vars {
		m.saved[name] = ps.Attrs()
	}
}

// Restore applies the snapshot to the given variables and consumes it.
// Attributes a variable does not recognize are dropped with a warning.
// Saved state for variables that no longer exist is silently discarded:
// a variable disappearing in a refresh is normal.
func (m *PlotStateManager) Restore(vars map[string]*PlotState) {
	for name, attrs := range m.saved {
		ps, ok := vars[name]
		if !ok {
			continue
		}
		ps.Apply(attrs, func(attr string, val interface{}) {
			m.Log.WithFields(logrus.Fields{
				"variable":  name,
				"attribute": attr,
				"value":     val,
			}).Warn("insitu plot state dropping unknown attribute")
		})
	}
	m.saved = make(map[string]map[string]interface{})
}

// Reset discards any snapshot.
func (m *PlotStateManager) Reset() {
	m.saved = make(map[string]map[string]interface{})
}
