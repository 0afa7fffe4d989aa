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
	"sort"

	"github.com/Knetic/govaluate"
)

// A SeriesRequester hands out product series on demand. *Store
// implements it.
type SeriesRequester interface {
	Request(ctx context.Context, key string, r TimeRange) (Result, error)
}

// derivedFuncs returns the functions that are available to
// derived-product expressions.
func derivedFuncs() map[string]govaluate.ExpressionFunction {
	return map[string]govaluate.ExpressionFunction{
		"sqrt": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("insitu: got %d arguments for function 'sqrt', but needs 1", len(arg))
			}
			return (float64)(math.Sqrt(arg[0].(float64))), nil
		},
		"abs": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("insitu: got %d arguments for function 'abs', but needs 1", len(arg))
			}
			return (float64)(math.Abs(arg[0].(float64))), nil
		},
		"exp": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("insitu: got %d arguments for function 'exp', but needs 1", len(arg))
			}
			return (float64)(math.Exp(arg[0].(float64))), nil
		},
		"log": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("insitu: got %d arguments for function 'log', but needs 1", len(arg))
			}
			return (float64)(math.Log(arg[0].(float64))), nil
		},
		"pow": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 2 {
				return nil, fmt.Errorf("insitu: got %d arguments for function 'pow', but needs 2", len(arg))
			}
			return (float64)(math.Pow(arg[0].(float64), arg[1].(float64))), nil
		},
		"min": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 2 {
				return nil, fmt.Errorf("insitu: got %d arguments for function 'min', but needs 2", len(arg))
			}
			return (float64)(math.Min(arg[0].(float64), arg[1].(float64))), nil
		},
		"max": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 2 {
				return nil, fmt.Errorf("insitu: got %d arguments for function 'max', but needs 2", len(arg))
			}
			return (float64)(math.Max(arg[0].(float64), arg[1].(float64))), nil
		},
	}
}

// removeDuplicates removes all duplicated strings from a slice, returning a
// slice that contains only unique strings.
func removeDuplicates(s []string) []string {
	result := make([]string, 0, len(s))
	seen := make(map[string]string)
	for _, val := range s {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = val
		}
	}
	return result
}

// A DerivedFetcher computes the columns of a product from another
// product's data. Each output column is defined by an expression over
// the source product's column names, for example
// "sqrt(br**2 + bt**2 + bn**2)". The expressions may use the functions
// sqrt, abs, exp, log, pow, min, and max.
//
// Fetching requests the source product from a SeriesRequester, so the
// source is cached and its coverage tracked like any other product.
// Because of that, a DerivedFetcher must not source itself, directly
// or through another derived product.
type DerivedFetcher struct {
	req    SeriesRequester
	source string
	exprs  map[string]*govaluate.EvaluableExpression

	// inputs holds the unique source columns the expressions use.
	inputs []string
}

// NewDerivedFetcher creates a fetcher that computes one output column
// per entry in exprs, keyed by column name, from the product source
// requested through req. The expressions are parsed here; an
// expression that does not parse fails the construction.
func NewDerivedFetcher(req SeriesRequester, source string, exprs map[string]string) (*DerivedFetcher, error) {
	if len(exprs) == 0 {
		return nil, fmt.Errorf("insitu: derived product from %s has no expressions", source)
	}
	funcs := derivedFuncs()
	d := &DerivedFetcher{
		req:    req,
		source: source,
		exprs:  make(map[string]*govaluate.EvaluableExpression, len(exprs)),
	}
	for name, val := range exprs {
		expression, err := govaluate.NewEvaluableExpressionWithFunctions(val, funcs)
		if err != nil {
			return nil, fmt.Errorf("insitu: parsing expression for %s: %v", name, err)
		}
		d.exprs[name] = expression
		d.inputs = append(d.inputs, expression.Vars()...)
	}
	d.inputs = removeDuplicates(d.inputs)
	sort.Strings(d.inputs)
	return d, nil
}

// Source returns the key of the product this fetcher derives from.
func (d *DerivedFetcher) Source() string { return d.source }

// Inputs returns the source columns the expressions use, sorted.
func (d *DerivedFetcher) Inputs() []string {
	out := make([]string, len(d.inputs))
	copy(out, d.inputs)
	return out
}

// CheckColumns verifies that every variable the expressions reference
// is one of the given source columns.
func (d *DerivedFetcher) CheckColumns(cols []string) error {
	have := make(map[string]uint8)
	for _, c := range cols {
		have[c] = 0
	}
	for _, v := range d.inputs {
		if _, ok := have[v]; !ok {
			return fmt.Errorf("insitu: undefined variable name '%s'", v)
		}
	}
	return nil
}

// requestsStore marks the fetcher as one that calls back into the
// Store, so the Store runs it in the requesting goroutine instead of
// the cache worker pool.
func (d *DerivedFetcher) requestsStore() {}

// Fetch requests the source product over r and evaluates the output
// expressions sample by sample. The source product's series and
// coverage are updated as a side effect. An incomplete source result
// fails the fetch with the source's fetch error. NaN samples in the
// source evaluate to NaN outputs.
func (d *DerivedFetcher) Fetch(ctx context.Context, key string, r TimeRange) (*Segment, error) {
	res, err := d.req.Request(ctx, d.source, r)
	if err != nil {
		return nil, err
	}
	if !res.Complete {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, fmt.Errorf("insitu: source product %s is incomplete over %s", d.source, r)
	}

	names := make([]string, 0, len(d.exprs))
	for name := range d.exprs {
		names = append(names, name)
	}
	sort.Strings(names)

	if res.Series == nil || res.Series.Data == nil {
		return emptySegment(names), nil
	}
	src := res.Series.Data.Subset(r)
	if src.Len() == 0 {
		return emptySegment(names), nil
	}
	for _, v := range d.inputs {
		if _, ok := src.Columns[v]; !ok {
			return nil, fmt.Errorf("insitu: derived product %s: source %s has no column %s", key, d.source, v)
		}
	}

	n := src.Len()
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		out[name] = make([]float64, n)
	}
	params := make(map[string]interface{}, len(d.inputs))
	for i := 0; i < n; i++ {
		for _, v := range d.inputs {
			params[v] = src.Columns[v].Elements[i]
		}
		for _, name := range names {
			val, err := d.exprs[name].Evaluate(params)
			if err != nil {
				return nil, fmt.Errorf("insitu: evaluating %s: %v", name, err)
			}
			f, ok := val.(float64)
			if !ok {
				return nil, fmt.Errorf("insitu: expression for %s evaluates to %T, not a number", name, val)
			}
			out[name][i] = f
		}
	}
	return NewSegment(src.Times, out)
}
