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
	"encoding/gob"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/insitu/internal/hash"
)

func init() {
	gob.Register(&Segment{})
}

// Version gives the version number of this release.
const Version = "0.1.0"

// A Series is the accumulated state of one product: its merged data
// and the display state of each of its variables.
type Series struct {
	Key   string
	Data  *Segment
	Plot  map[string]*PlotState
	Units string
	Label string
}

// ProductInfo describes a product to the store: display metadata and
// the initial plot attributes of its variables.
type ProductInfo struct {
	Units string
	Label string
	// Plot maps variable names to initial display attributes.
	Plot map[string]PlotDefaults
}

// A Result is the outcome of one request. When a fetch fails, Complete
// is false, Err holds the *FetchError, and Series holds whatever data
// the store already had: requests are best-effort rather than
// all-or-nothing.
type Result struct {
	Series   *Series
	Complete bool
	Err      error
}

// Config holds store settings.
type Config struct {
	// CacheLoc is the location of the fetch cache. An empty string
	// caches in memory only; an "http://" or "https://" prefix reads
	// through a remote cache; a "gs://" prefix uses Google Cloud
	// Storage; anything else is a local directory.
	CacheLoc string

	// MemCacheEntries is the size of the in-memory fetch cache.
	// Zero means 100.
	MemCacheEntries int

	// Workers is the number of concurrent fetch processors.
	// Zero means 1.
	Workers int
}

// A Store manages the series of every known product: it fetches
// requested ranges that have not been computed yet, merges them into
// the per-product series, and keeps the instance registry and
// computation tracker up to date.
//
// A Store is not safe for concurrent use: it and its collaborators are
// meant to be owned by a single goroutine. (The fetch cache runs its
// processors on internal goroutines, but requests block until their
// result is ready, so no two store methods run at once.)
type Store struct {
	// Log is the logger for store events. The default is the logrus
	// standard logger.
	Log logrus.FieldLogger

	config   Config
	registry *Registry
	tracker  *Tracker
	plots    *PlotStateManager
	fetchers map[string]Fetcher
	info     map[string]ProductInfo
	series   map[string]*Series

	cacheOnce sync.Once
	cache     *requestcache.Cache
	cacheErr  error
}

// NewStore creates a store. If reg is nil a fresh registry is created;
// passing a registry shares it with other components that look up live
// instances.
func NewStore(c Config, reg *Registry) *Store {
	if reg == nil {
		reg = NewRegistry()
	}
	if c.MemCacheEntries == 0 {
		c.MemCacheEntries = 100
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	return &Store{
		Log:      logrus.StandardLogger(),
		config:   c,
		registry: reg,
		tracker:  NewTracker(),
		plots:    NewPlotStateManager(),
		fetchers: make(map[string]Fetcher),
		info:     make(map[string]ProductInfo),
		series:   make(map[string]*Series),
	}
}

// RegisterProduct binds a fetcher, and optionally product metadata, to
// a product key. Products must be registered before they are requested.
func (s *Store) RegisterProduct(key string, f Fetcher, info ProductInfo) {
	s.fetchers[key] = f
	s.info[key] = info
}

// fetchRequest is the payload sent through the request cache.
type fetchRequest struct {
	Key   string
	Range TimeRange
}

func (s *Store) initCache() error {
	s.cacheOnce.Do(func() {
		p := func(ctx context.Context, r interface{}) (interface{}, error) {
			req := r.(fetchRequest)
			f, ok := s.fetchers[req.Key]
			if !ok {
				return nil, fmt.Errorf("insitu: no fetcher registered for product %s", req.Key)
			}
			seg, err := f.Fetch(ctx, req.Key, req.Range)
			if err != nil {
				return nil, err
			}
			return normalizeFetched(seg, req.Range)
		}
		s.cache, s.cacheErr = newRequestCache(p, s.config.Workers, s.config.MemCacheEntries, s.config.CacheLoc)
	})
	return s.cacheErr
}

// newRequestCache initializes a request cache backed by the given
// location.
func newRequestCache(p requestcache.ProcessFunc, workers, memCacheSize int, cacheLoc string) (*requestcache.Cache, error) {
	if cacheLoc == "" {
		return requestcache.NewCache(p, workers, requestcache.Deduplicate(),
			requestcache.Memory(memCacheSize)), nil
	} else if strings.HasPrefix(cacheLoc, "http") {
		return requestcache.NewCache(p, workers, requestcache.Deduplicate(),
			requestcache.Memory(memCacheSize), requestcache.HTTP(cacheLoc, unmarshalSegment)), nil
	} else if strings.HasPrefix(cacheLoc, "gs://") {
		loc, err := url.Parse(cacheLoc)
		if err != nil {
			return nil, fmt.Errorf("insitu: parsing cache location %s: %v", cacheLoc, err)
		}
		cf, err := requestcache.GoogleCloudStorage(context.TODO(), loc.Host,
			strings.TrimLeft(loc.Path, "/"), requestcache.MarshalGob, unmarshalSegment)
		if err != nil {
			return nil, fmt.Errorf("insitu: initializing cache at %s: %v", cacheLoc, err)
		}
		return requestcache.NewCache(p, workers, requestcache.Deduplicate(),
			requestcache.Memory(memCacheSize), cf), nil
	}
	return requestcache.NewCache(p, workers, requestcache.Deduplicate(),
		requestcache.Memory(memCacheSize),
		requestcache.Disk(cacheLoc, requestcache.MarshalGob, unmarshalSegment)), nil
}

// normalizeFetched sorts, deduplicates, and clips a freshly fetched
// segment. Fetchers may deliver out-of-order or duplicated samples.
func normalizeFetched(seg *Segment, r TimeRange) (*Segment, error) {
	sorted, err := Merge(nil, seg)
	if err != nil {
		return nil, err
	}
	return sorted.Subset(r), nil
}

// fetch obtains the data for req, normalized and clipped to the
// requested range. Most fetchers run through the request cache.
// Fetchers that call back into the Store run in this goroutine
// instead: a cache worker that waited on another request would starve
// the pool.
func (s *Store) fetch(ctx context.Context, req fetchRequest) (*Segment, error) {
	if f, ok := s.fetchers[req.Key].(storeRequester); ok {
		seg, err := f.Fetch(ctx, req.Key, req.Range)
		if err != nil {
			return nil, err
		}
		return normalizeFetched(seg, req.Range)
	}
	if err := s.initCache(); err != nil {
		return nil, err
	}
	cacheReq := s.cache.NewRequest(ctx, req, "fetch_"+hash.Hash(req))
	resultI, err := cacheReq.Result()
	if err != nil {
		return nil, err
	}
	return resultI.(*Segment), nil
}

// unmarshalSegment decodes a cached segment, re-initializing the
// internals of its column arrays.
func unmarshalSegment(b []byte) (interface{}, error) {
	out, err := requestcache.UnmarshalGob(b)
	if err != nil {
		return nil, err
	}
	if seg, ok := out.(*Segment); ok {
		seg.fix()
	}
	return out, nil
}

// Request returns the series for key after making sure it covers r.
//
// If r has already been computed, the current series is returned
// without fetching. Otherwise the whole of r is fetched, even when
// parts of it are already covered, then merged into the series and
// marked computed. A fetch failure does not fail the request and does not
// touch any state: the previous series is returned with Complete set
// to false and Err holding the *FetchError, and nothing is marked
// computed, so the next request tries again.
//
// The returned error is non-nil only for errors of the request itself:
// an invalid range, an unregistered product, a column mismatch with
// the accumulated series, or an instance-type conflict in the
// registry. None of those modify the store.
func (s *Store) Request(ctx context.Context, key string, r TimeRange) (Result, error) {
	if r.Start > r.End {
		return Result{}, &InvalidRangeError{Start: r.Start, End: r.End}
	}
	if _, ok := s.fetchers[key]; !ok {
		return Result{}, fmt.Errorf("insitu: no fetcher registered for product %s", key)
	}
	cur := s.series[key]
	if !s.tracker.NeedsComputation(key, r) {
		return Result{Series: cur, Complete: true}, nil
	}
	if err := s.initCache(); err != nil {
		return Result{}, err
	}

	incoming, err := s.fetch(ctx, fetchRequest{Key: key, Range: r})
	if err != nil {
		ferr := &FetchError{Key: key, Range: r, Err: err}
		s.Log.WithFields(logrus.Fields{
			"key":   key,
			"range": r.String(),
		}).Warnf("insitu store fetch failed: %v", err)
		return Result{Series: cur, Complete: false, Err: ferr}, nil
	}

	var existing *Segment
	if cur != nil {
		existing = cur.Data
	}
	merged, err := Merge(existing, incoming)
	if err != nil {
		return Result{}, err
	}

	next := s.newSeries(key, merged)
	if cur != nil {
		s.plots.Snapshot(cur.Plot)
		s.plots.Restore(next.Plot)
	}
	if err := s.registry.Register(key, next); err != nil {
		return Result{}, err
	}
	s.series[key] = next
	s.tracker.MarkComputed(key, r)
	return Result{Series: next, Complete: true}, nil
}

// newSeries builds a replacement series for key, seeding each
// variable's display state from the product metadata.
func (s *Store) newSeries(key string, data *Segment) *Series {
	info := s.info[key]
	ser := &Series{
		Key:   key,
		Data:  data,
		Plot:  make(map[string]*PlotState),
		Units: info.Units,
		Label: info.Label,
	}
	for _, col := range data.ColumnNames() {
		ps := DefaultPlotState()
		if attrs, ok := info.Plot[col]; ok {
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
	return ser
}

// Series returns the current series for key without fetching anything.
func (s *Store) Series(key string) (*Series, bool) {
	ser, ok := s.series[key]
	return ser, ok
}

// Keys returns the sorted keys of the products holding data.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Gaps returns the parts of r that have not been computed for key.
func (s *Store) Gaps(key string, r TimeRange) []TimeRange {
	return s.tracker.Gaps(key, r)
}

// Tracker returns the store's computation tracker.
func (s *Store) Tracker() *Tracker { return s.tracker }

// Registry returns the store's instance registry.
func (s *Store) Registry() *Registry { return s.registry }

// Reset clears all accumulated series, coverage, plot-state
// snapshots, and registry instances.
func (s *Store) Reset() {
	s.series = make(map[string]*Series)
	s.tracker.ResetAll()
	s.plots.Reset()
	s.registry.Reset()
}
