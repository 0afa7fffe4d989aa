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
	"bytes"
	"context"
	"encoding/gob"
	"reflect"
	"testing"
)

func TestStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	f1 := &fakeFetcher{cols: []string{"br", "bt"}}
	s1 := testStore(f1)
	const key = "mag_rtn_4sa"

	r := hourRange(2, 0, 10)
	res, err := s1.Request(ctx, key, r)
	if err != nil {
		t.Fatal(err)
	}
	res.Series.Plot["br"].Color = "magenta"

	var buf bytes.Buffer
	if err := s1.Save(&buf); err != nil {
		t.Fatal(err)
	}

	f2 := &fakeFetcher{cols: []string{"br", "bt"}}
	s2 := testStore(f2)
	if err := s2.Load(&buf); err != nil {
		t.Fatal(err)
	}

	ser, ok := s2.Series(key)
	if !ok {
		t.Fatal("loaded store should hold the saved series")
	}
	if !reflect.DeepEqual(ser.Data, res.Series.Data) {
		t.Error("loaded data differs from saved data")
	}
	if ser.Units != "nT" || ser.Label != "B RTN" {
		t.Errorf("metadata: have %q %q", ser.Units, ser.Label)
	}
	if ser.Plot["br"].Color != "magenta" {
		t.Errorf("plot color: want magenta but have %q", ser.Plot["br"].Color)
	}
	if ser.Plot["bt"].LineWidth != 1 {
		t.Errorf("plot width: want 1 but have %g", ser.Plot["bt"].LineWidth)
	}
	if !reflect.DeepEqual(s2.Tracker().Covered(key), s1.Tracker().Covered(key)) {
		t.Errorf("coverage: want %v but have %v",
			s1.Tracker().Covered(key), s2.Tracker().Covered(key))
	}
	if got, ok := s2.Registry().Lookup(key); !ok || got.(*Series) != ser {
		t.Error("loaded series should be registered")
	}

	// A request over the loaded coverage is served without fetching.
	res2, err := s2.Request(ctx, key, hourRange(2, 3, 7))
	if err != nil {
		t.Fatal(err)
	}
	if !res2.Complete {
		t.Fatalf("request should be complete, have error %v", res2.Err)
	}
	if f2.calls != 0 {
		t.Errorf("fetches after load: want 0 but have %d", f2.calls)
	}
	if res2.Series != ser {
		t.Error("request should return the loaded series")
	}
}

func TestStoreLoadStaleAttributes(t *testing.T) {
	seg, err := NewSegment([]int64{1, 2, 3}, map[string][]float64{"br": {1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	st := storeState{
		Series: map[string]*seriesState{
			"mag_rtn_4sa": {
				Data: seg,
				Plot: map[string]PlotDefaults{
					"br": {"color": "red", "glow": true},
					"bz": {"color": "blue"},
				},
				Units: "nT",
			},
		},
		Covered: map[string][]TimeRange{"mag_rtn_4sa": {{Start: 1, End: 4}}},
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		t.Fatal(err)
	}

	s := testStore(&fakeFetcher{cols: []string{"br"}})
	if err := s.Load(&buf); err != nil {
		t.Fatal(err)
	}
	ser, _ := s.Series("mag_rtn_4sa")
	if ser.Plot["br"].Color != "red" {
		t.Errorf("color: want red but have %q", ser.Plot["br"].Color)
	}
	// The unknown attribute is dropped and the variable that no longer
	// exists is discarded.
	if _, ok := ser.Plot["bz"]; ok {
		t.Error("a variable that is not in the data should have no plot state")
	}
	if !ser.Plot["br"].Visible {
		t.Error("defaults should fill attributes the snapshot does not set")
	}
}

func TestStoreLoadConflict(t *testing.T) {
	f := &fakeFetcher{cols: []string{"br"}}
	s1 := testStore(f)
	if _, err := s1.Request(context.Background(), "mag_rtn_4sa", hourRange(2, 0, 1)); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := s1.Save(&buf); err != nil {
		t.Fatal(err)
	}

	s2 := testStore(&fakeFetcher{cols: []string{"br"}})
	if err := s2.Registry().Register("mag_rtn_4sa", "not a series"); err != nil {
		t.Fatal(err)
	}
	err := s2.Load(&buf)
	if _, ok := err.(*KeyTypeConflictError); !ok {
		t.Fatalf("want *KeyTypeConflictError but have %v", err)
	}
	if _, ok := s2.Series("mag_rtn_4sa"); ok {
		t.Error("a conflicting series should not be loaded")
	}
}

func TestStoreSaveEmpty(t *testing.T) {
	s1 := testStore(&fakeFetcher{cols: []string{"br"}})
	var buf bytes.Buffer
	if err := s1.Save(&buf); err != nil {
		t.Fatal(err)
	}
	s2 := testStore(&fakeFetcher{cols: []string{"br"}})
	if err := s2.Load(&buf); err != nil {
		t.Fatal(err)
	}
	if len(s2.Keys()) != 0 {
		t.Errorf("keys: want none but have %v", s2.Keys())
	}
}
