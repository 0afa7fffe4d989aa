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

import "sort"

// A Tracker records which time ranges have already been computed for
// each product. Covered ranges are kept sorted, disjoint, and
// coalesced. The Tracker is not safe for concurrent use.
//
// Failures are never recorded: only successful computations are marked,
// so a failed fetch is retried by the next request.
type Tracker struct {
	covered map[string][]TimeRange
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{covered: make(map[string][]TimeRange)}
}

// NeedsComputation reports whether r must be computed for key. It is
// false only when a single covered range fully contains r. This is
// deliberately conservative: a request spanning two disjoint covered
// ranges is recomputed in full rather than stitched from parts.
func (t *Tracker) NeedsComputation(key string, r TimeRange) bool {
	for _, c := range t.covered[key] {
		if c.Contains(r) {
			return false
		}
	}
	return true
}

// MarkComputed records that r has been computed for key, coalescing it
// with overlapping or adjacent covered ranges.
func (t *Tracker) MarkComputed(key string, r TimeRange) {
	if r.IsZero() {
		return
	}
	list := t.covered[key]
	i := sort.Search(len(list), func(i int) bool { return list[i].Start >= r.Start })
	list = append(list, TimeRange{})
	copy(list[i+1:], list[i:])
	list[i] = r
	t.covered[key] = normalizeRanges(list)
}

// Covered returns a copy of the covered ranges for key, in ascending
// order.
func (t *Tracker) Covered(key string) []TimeRange {
	list := t.covered[key]
	if len(list) == 0 {
		return nil
	}
	out := make([]TimeRange, len(list))
	copy(out, list)
	return out
}

// Keys returns the sorted product keys with recorded coverage.
func (t *Tracker) Keys() []string {
	keys := make([]string, 0, len(t.covered))
	for k := range t.covered {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Gaps returns the parts of r not covered for key, in ascending order.
// It is a reporting aid only; request processing always recomputes the
// whole requested range.
func (t *Tracker) Gaps(key string, r TimeRange) []TimeRange {
	if r.IsZero() {
		return nil
	}
	remaining := []TimeRange{r}
	for _, c := range t.covered[key] {
		var next []TimeRange
		for _, piece := range remaining {
			next = append(next, piece.Subtract(c)...)
		}
		remaining = next
		if len(remaining) == 0 {
			break
		}
	}
	return remaining
}

// Reset forgets the coverage for key.
func (t *Tracker) Reset(key string) { delete(t.covered, key) }

// ResetAll forgets all coverage.
func (t *Tracker) ResetAll() { t.covered = make(map[string][]TimeRange) }

// setCovered replaces the coverage for key, normalizing the input.
// It is used when loading persisted state.
func (t *Tracker) setCovered(key string, list []TimeRange) {
	sorted := make([]TimeRange, len(list))
	copy(sorted, list)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	norm := normalizeRanges(sorted)
	if len(norm) == 0 {
		delete(t.covered, key)
		return
	}
	t.covered[key] = norm
}

// normalizeRanges coalesces a Start-sorted range list into disjoint,
// non-adjacent, nonempty ranges.
func normalizeRanges(list []TimeRange) []TimeRange {
	var out []TimeRange
	for _, r := range list {
		if r.IsZero() {
			continue
		}
		if len(out) > 0 {
			if u, ok := out[len(out)-1].Union(r); ok {
				out[len(out)-1] = u
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
