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
	"time"
)

// A TimeRange is a half-open interval [Start, End) of nanosecond UTC
// timestamps (nanoseconds since the Unix epoch). It contains every
// timestamp t for which Start <= t < End. Start == End is a valid
// empty range.
type TimeRange struct {
	Start int64
	End   int64
}

// InvalidRangeError is returned when a range's start time is after
// its end time.
type InvalidRangeError struct {
	Start, End int64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("insitu: invalid time range: start %s is after end %s",
		formatNano(e.Start), formatNano(e.End))
}

// NewTimeRange creates the half-open range [start, end), returning an
// InvalidRangeError if start is after end.
func NewTimeRange(start, end int64) (TimeRange, error) {
	if start > end {
		return TimeRange{}, &InvalidRangeError{Start: start, End: end}
	}
	return TimeRange{Start: start, End: end}, nil
}

// IsZero reports whether the range contains no timestamps.
func (r TimeRange) IsZero() bool { return r.Start >= r.End }

// Duration returns the length of the range.
func (r TimeRange) Duration() time.Duration {
	if r.IsZero() {
		return 0
	}
	return time.Duration(r.End - r.Start)
}

// ContainsTime reports whether t lies within the range.
func (r TimeRange) ContainsTime(t int64) bool {
	return t >= r.Start && t < r.End
}

// Contains reports whether o lies entirely within r. An empty o whose
// position is inside r counts as contained.
func (r TimeRange) Contains(o TimeRange) bool {
	return o.Start >= r.Start && o.End <= r.End
}

// Overlaps reports whether r and o share at least one timestamp.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// Intersect returns the timestamps common to r and o. The second return
// value is false when the intersection is empty.
func (r TimeRange) Intersect(o TimeRange) (TimeRange, bool) {
	out := TimeRange{Start: maxInt64(r.Start, o.Start), End: minInt64(r.End, o.End)}
	if out.Start >= out.End {
		return TimeRange{}, false
	}
	return out, true
}

// Union returns the single range covering both r and o. It is only
// defined when the two ranges overlap or are exactly adjacent; the
// second return value is false when a gap separates them.
func (r TimeRange) Union(o TimeRange) (TimeRange, bool) {
	if r.IsZero() {
		return o, true
	}
	if o.IsZero() {
		return r, true
	}
	if !r.Overlaps(o) && r.End != o.Start && o.End != r.Start {
		return TimeRange{}, false
	}
	return TimeRange{Start: minInt64(r.Start, o.Start), End: maxInt64(r.End, o.End)}, true
}

// Subtract returns the parts of r not covered by o: zero, one, or two
// nonempty ranges in ascending order.
func (r TimeRange) Subtract(o TimeRange) []TimeRange {
	if r.IsZero() {
		return nil
	}
	if !r.Overlaps(o) {
		return []TimeRange{r}
	}
	var out []TimeRange
	if r.Start < o.Start {
		out = append(out, TimeRange{Start: r.Start, End: o.Start})
	}
	if o.End < r.End {
		out = append(out, TimeRange{Start: o.End, End: r.End})
	}
	return out
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", formatNano(r.Start), formatNano(r.End))
}

func formatNano(t int64) string {
	return time.Unix(0, t).UTC().Format(time.RFC3339Nano)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
