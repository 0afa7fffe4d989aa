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
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// A Fetcher acquires the samples of one product within a time range.
// Implementations should return only samples within r; the store
// subsets defensively in any case. Returning a nil segment with a nil
// error means the range holds no data.
type Fetcher interface {
	Fetch(ctx context.Context, key string, r TimeRange) (*Segment, error)
}

// A storeRequester is a Fetcher that requests other products from the
// Store while fetching. The Store runs these in the requesting
// goroutine instead of the cache worker pool.
type storeRequester interface {
	Fetcher
	requestsStore()
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, key string, r TimeRange) (*Segment, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, key string, r TimeRange) (*Segment, error) {
	return f(ctx, key, r)
}

// A FetchError wraps a failure to acquire data. The store catches it at
// the request boundary: a request whose fetch fails still returns the
// data already held, marked incomplete, instead of failing outright.
type FetchError struct {
	Key   string
	Range TimeRange
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("insitu: fetching %s %s: %v", e.Key, e.Range, e.Err)
}

// A RetryFetcher wraps another fetcher with exponential-backoff
// retries. Cancellation of the context stops the retries.
type RetryFetcher struct {
	Fetcher Fetcher

	// Initial is the first retry interval and MaxElapsed limits the
	// total time spent retrying. Zero means the backoff default.
	Initial    time.Duration
	MaxElapsed time.Duration

	// Log receives a message before each retry. The default is the
	// logrus standard logger.
	Log logrus.FieldLogger
}

// Fetch fetches through the wrapped fetcher, retrying failures.
func (f *RetryFetcher) Fetch(ctx context.Context, key string, r TimeRange) (*Segment, error) {
	log := f.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	policy := backoff.NewExponentialBackOff()
	if f.Initial != 0 {
		policy.InitialInterval = f.Initial
	}
	if f.MaxElapsed != 0 {
		policy.MaxElapsedTime = f.MaxElapsed
	}
	var seg *Segment
	err := backoff.RetryNotify(
		func() error {
			if err := ctx.Err(); err != nil {
				return backoff.Permanent(err)
			}
			var err error
			seg, err = f.Fetcher.Fetch(ctx, key, r)
			return err
		},
		policy,
		func(err error, d time.Duration) {
			log.WithFields(logrus.Fields{"key": key}).Warnf("%v: retrying in %v", err, d)
		})
	if err != nil {
		return nil, err
	}
	return seg, nil
}
