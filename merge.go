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
	"sort"

	"github.com/ctessum/sparse"
)

// ColumnMismatchError is returned when two segments of the same product
// do not share an identical column set.
type ColumnMismatchError struct {
	Existing, Incoming []string
}

func (e *ColumnMismatchError) Error() string {
	return fmt.Sprintf("insitu: column mismatch: existing columns %v != incoming columns %v",
		e.Existing, e.Incoming)
}

// Merge combines two segments of one product into a new segment whose
// timestamps are strictly ascending. Samples are ordered by a stable
// sort, so for equal timestamps samples from existing precede samples
// from incoming, and exact-duplicate timestamps are removed keeping the
// first occurrence in that order: at a contested timestamp the existing
// sample wins.
//
// Neither input is modified. If both inputs hold data they must share
// an identical column set; otherwise a ColumnMismatchError is returned
// and the caller's segments are left exactly as they were. Empty or nil
// inputs are not errors: every sample of the other segment is kept, and
// merging two empty segments gives an empty segment.
//
// The first and last timestamps of the result are always the extremes
// of the two inputs: no segment's boundary samples are ever dropped.
func Merge(existing, incoming *Segment) (*Segment, error) {
	nEx, nIn := existing.Len(), incoming.Len()
	if nEx == 0 && nIn == 0 {
		names := existing.ColumnNames()
		if len(names) == 0 {
			names = incoming.ColumnNames()
		}
		return emptySegment(names), nil
	}
	names := existing.ColumnNames()
	if nEx == 0 {
		names = incoming.ColumnNames()
	} else if nIn > 0 {
		if have := incoming.ColumnNames(); !equalStrings(names, have) {
			return nil, &ColumnMismatchError{Existing: names, Incoming: have}
		}
	}

	n := nEx + nIn
	timeAt := func(i int) int64 {
		if i < nEx {
			return existing.Times[i]
		}
		return incoming.Times[i-nEx]
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool { return timeAt(perm[i]) < timeAt(perm[j]) })

	// Drop exact-duplicate timestamps, keeping the first occurrence.
	keep := perm[:0]
	var lastTime int64
	for i, p := range perm {
		t := timeAt(p)
		if i > 0 && t == lastTime {
			continue
		}
		keep = append(keep, p)
		lastTime = t
	}

	out := &Segment{
		Times:   make([]int64, len(keep)),
		Columns: make(map[string]*sparse.DenseArray, len(names)),
	}
	for i, p := range keep {
		out.Times[i] = timeAt(p)
	}
	for _, name := range names {
		var exCol, inCol *sparse.DenseArray
		if nEx > 0 {
			exCol = existing.Columns[name]
		}
		if nIn > 0 {
			inCol = incoming.Columns[name]
		}
		arr := sparse.ZerosDense(len(keep))
		for i, p := range keep {
			if p < nEx {
				arr.Elements[i] = exCol.Elements[p]
			} else {
				arr.Elements[i] = inCol.Elements[p-nEx]
			}
		}
		out.Columns[name] = arr
	}
	return out, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i, s := range a {
		if b[i] != s {
			return false
		}
	}
	return true
}
