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
	"testing"
	"time"
)

// secondSegment creates a 1 Hz segment with n samples starting at start,
// with each column's values equal to the sample index plus an offset so
// that segments and columns are distinguishable after merging.
func secondSegment(t *testing.T, start time.Time, n int, offset float64, cols ...string) *Segment {
	t.Helper()
	times := make([]int64, n)
	for i := range times {
		times[i] = start.UnixNano() + int64(i)*int64(time.Second)
	}
	columns := make(map[string][]float64, len(cols))
	for ci, name := range cols {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = offset + float64(ci*1000000+i)
		}
		columns[name] = vals
	}
	s, err := NewSegment(times, columns)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// TestMergeThreeSegments merges three non-overlapping 1 Hz segments in
// forward and reverse order and checks that the earliest segment's first
// sample is never dropped.
func TestMergeThreeSegments(t *testing.T) {
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	seg1 := secondSegment(t, day.Add(2*time.Hour), 600, 0, "br", "bt", "bn")                  // 02:00:00-02:10:00
	seg2 := secondSegment(t, day.Add(2*time.Hour+15*time.Minute), 300, 1e7, "br", "bt", "bn") // 02:15:00-02:20:00
	seg3 := secondSegment(t, day.Add(2*time.Hour+22*time.Minute), 180, 2e7, "br", "bt", "bn") // 02:22:00-02:25:00

	const wantN = 600 + 300 + 180
	wantFirst := day.Add(2 * time.Hour).UnixNano()
	wantLast := day.Add(2*time.Hour + 24*time.Minute + 59*time.Second).UnixNano()

	merge := func(segs ...*Segment) *Segment {
		var acc *Segment
		for _, seg := range segs {
			var err error
			acc, err = Merge(acc, seg)
			if err != nil {
				t.Fatal(err)
			}
		}
		return acc
	}

	forward := merge(seg1, seg2, seg3)
	reverse := merge(seg3, seg2, seg1)

	for _, test := range []struct {
		name string
		seg  *Segment
	}{{"forward", forward}, {"reverse", reverse}} {
		if test.seg.Len() != wantN {
			t.Errorf("%s: samples: want %d but have %d", test.name, wantN, test.seg.Len())
		}
		if test.seg.Times[0] != wantFirst {
			t.Errorf("%s: first timestamp: want %s but have %s", test.name,
				formatNano(wantFirst), formatNano(test.seg.Times[0]))
		}
		if last := test.seg.Times[test.seg.Len()-1]; last != wantLast {
			t.Errorf("%s: last timestamp: want %s but have %s", test.name,
				formatNano(wantLast), formatNano(last))
		}
	}

	// The two merge orders contain the same samples.
	if !reflect.DeepEqual(forward.Times, reverse.Times) {
		t.Error("forward and reverse merges should have identical timestamps")
	}
	for _, name := range forward.ColumnNames() {
		if !reflect.DeepEqual(forward.Columns[name].Elements, reverse.Columns[name].Elements) {
			t.Errorf("column %s: forward and reverse merges should have identical values", name)
		}
	}

	// Merging only the last two segments must start at 02:15:00, not
	// 02:00:00: a missing leading segment must be visible.
	partial := merge(seg2, seg3)
	wantPartialFirst := day.Add(2*time.Hour + 15*time.Minute).UnixNano()
	if partial.Times[0] != wantPartialFirst {
		t.Errorf("partial merge first timestamp: want %s but have %s",
			formatNano(wantPartialFirst), formatNano(partial.Times[0]))
	}
}

func TestMergeDeduplicatesKeepingExisting(t *testing.T) {
	start := time.Date(2020, 1, 1, 2, 0, 0, 0, time.UTC)
	existing := secondSegment(t, start, 10, 0, "br")
	// Overlap the last 5 seconds of existing and extend 5 more.
	incoming := secondSegment(t, start.Add(5*time.Second), 10, 100, "br")

	merged, err := Merge(existing, incoming)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Len() != 15 {
		t.Fatalf("samples: want 15 but have %d", merged.Len())
	}
	for i := 0; i < 10; i++ {
		// Existing samples win at contested timestamps 5-9.
		if have := merged.Columns["br"].Elements[i]; have != float64(i) {
			t.Errorf("sample %d: want %v but have %v", i, float64(i), have)
		}
	}
	for i := 10; i < 15; i++ {
		want := 100 + float64(i-5)
		if have := merged.Columns["br"].Elements[i]; have != want {
			t.Errorf("sample %d: want %v but have %v", i, want, have)
		}
	}
}

func TestMergeIdempotent(t *testing.T) {
	start := time.Date(2020, 1, 1, 2, 0, 0, 0, time.UTC)
	seg := secondSegment(t, start, 100, 0, "br", "bt")

	once, err := Merge(nil, seg)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := Merge(once, seg)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(once.Times, twice.Times) {
		t.Error("re-merging the same segment should not change the timestamps")
	}
	for _, name := range once.ColumnNames() {
		if !reflect.DeepEqual(once.Columns[name].Elements, twice.Columns[name].Elements) {
			t.Errorf("column %s: re-merging the same segment should not change the values", name)
		}
	}
}

func TestMergeColumnMismatch(t *testing.T) {
	start := time.Date(2020, 1, 1, 2, 0, 0, 0, time.UTC)
	existing := secondSegment(t, start, 10, 0, "br", "bt")
	incoming := secondSegment(t, start.Add(time.Minute), 10, 0, "br", "bn")

	existingBefore := existing.Copy()
	incomingBefore := incoming.Copy()

	_, err := Merge(existing, incoming)
	if err == nil {
		t.Fatal("merging mismatched columns should be an error")
	}
	cme, ok := err.(*ColumnMismatchError)
	if !ok {
		t.Fatalf("error type: want *ColumnMismatchError but have %T", err)
	}
	if !reflect.DeepEqual(cme.Existing, []string{"br", "bt"}) ||
		!reflect.DeepEqual(cme.Incoming, []string{"br", "bn"}) {
		t.Errorf("mismatch columns: have %v vs %v", cme.Existing, cme.Incoming)
	}

	// Neither input may be modified by a failed merge.
	if !reflect.DeepEqual(existing, existingBefore) {
		t.Error("failed merge modified the existing segment")
	}
	if !reflect.DeepEqual(incoming, incomingBefore) {
		t.Error("failed merge modified the incoming segment")
	}
}

func TestMergeEmpty(t *testing.T) {
	merged, err := Merge(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !merged.IsEmpty() {
		t.Error("merging nothing should give an empty segment")
	}

	start := time.Date(2020, 1, 1, 2, 0, 0, 0, time.UTC)
	seg := secondSegment(t, start, 10, 0, "br")
	merged, err = Merge(nil, seg)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(merged.Times, seg.Times) {
		t.Error("merging into an empty series should keep all incoming samples")
	}
	// The result is a copy, not an alias.
	merged.Columns["br"].Elements[0] = -1
	if seg.Columns["br"].Elements[0] == -1 {
		t.Error("merge result aliases its input")
	}

	merged, err = Merge(seg, emptySegment([]string{"br"}))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(merged.Times, seg.Times) {
		t.Error("merging an empty segment should keep all existing samples")
	}
}

func TestMergeUnsortedIncoming(t *testing.T) {
	// Fetchers are allowed to deliver samples in any order; Merge sorts
	// even when one side is empty.
	incoming, err := NewSegment(
		[]int64{30, 10, 20, 10},
		map[string][]float64{"br": {3, 1, 2, 99}},
	)
	if err != nil {
		t.Fatal(err)
	}
	merged, err := Merge(nil, incoming)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(merged.Times, []int64{10, 20, 30}) {
		t.Errorf("times: want [10 20 30] but have %v", merged.Times)
	}
	// The first occurrence at timestamp 10 wins over the later duplicate.
	if !reflect.DeepEqual(merged.Columns["br"].Elements, []float64{1, 2, 3}) {
		t.Errorf("values: want [1 2 3] but have %v", merged.Columns["br"].Elements)
	}
}
