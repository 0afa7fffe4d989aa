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

package insituutil

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/insitu"
	"github.com/spf13/cast"
)

// setupStore builds a store from the configured catalog, loading
// previously fetched series from the configured state file if there
// is one. The catalog and state locations may be remote; c, if not
// nil, is a channel across which error and logging messages will be
// sent.
func setupStore(ctx context.Context, cfg *viper.Viper, c chan string) (*insitu.Store, *insitu.Catalog, error) {
	level, err := logrus.ParseLevel(cfg.GetString("log_level"))
	if err != nil {
		return nil, nil, fmt.Errorf("insitu: parsing log_level: %v", err)
	}
	logrus.SetLevel(level)

	cpath := maybeDownload(ctx, os.ExpandEnv(cfg.GetString("catalog")), c)
	cat, err := insitu.LoadCatalog(cpath)
	if err != nil {
		return nil, nil, err
	}
	s := insitu.NewStore(insitu.Config{
		CacheLoc:        os.ExpandEnv(cfg.GetString("cache_loc")),
		MemCacheEntries: cfg.GetInt("cache_entries"),
		Workers:         cfg.GetInt("workers"),
	}, nil)
	if err := cat.Setup(s); err != nil {
		return nil, nil, err
	}
	if spath := os.ExpandEnv(cfg.GetString("state")); spath != "" {
		if err := loadState(ctx, s, spath, c); err != nil {
			return nil, nil, err
		}
	}
	return s, cat, nil
}

// loadState restores the store state from path, which may be remote.
// A state file that does not exist yet is not an error; it will be
// created on save.
func loadState(ctx context.Context, s *insitu.Store, path string, c chan string) error {
	local := maybeDownload(ctx, path, c)
	if _, err := os.Stat(local); os.IsNotExist(err) {
		return nil
	}
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("insitu: opening state file: %v", err)
	}
	defer f.Close()
	return s.Load(f)
}

// saveState writes the store state to the configured state file, if
// there is one.
func saveState(ctx context.Context, s *insitu.Store, cfg *viper.Viper) error {
	path := os.ExpandEnv(cfg.GetString("state"))
	if path == "" {
		return nil
	}
	local := path
	if IsBlob(path) {
		dir, err := ioutil.TempDir("", "insitu")
		if err != nil {
			return fmt.Errorf("insitu: failed creating temporary state directory: %v", err)
		}
		local = filepath.Join(dir, filepath.Base(path))
	}
	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("insitu: creating state file: %v", err)
	}
	if err := s.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if IsBlob(path) {
		return uploadFile(ctx, local, path)
	}
	return nil
}

// timeRange parses the start and end flags into a time range.
func timeRange(cfg *viper.Viper) (insitu.TimeRange, error) {
	start := os.ExpandEnv(cfg.GetString("start"))
	end := os.ExpandEnv(cfg.GetString("end"))
	if start == "" || end == "" {
		return insitu.TimeRange{}, fmt.Errorf("insitu: both the start and end flags must be given")
	}
	b, err := parseTime(start)
	if err != nil {
		return insitu.TimeRange{}, err
	}
	e, err := parseTime(end)
	if err != nil {
		return insitu.TimeRange{}, err
	}
	return insitu.NewTimeRange(b.UnixNano(), e.UnixNano())
}

// parseTime parses a flag value as a UTC time.
func parseTime(s string) (time.Time, error) {
	t, err := cast.ToTimeE(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("insitu: parsing time %q: %v", s, err)
	}
	return t.UTC(), nil
}

// exportSeries returns the series to export: the result of a fresh
// request when a time range is given, or the stored series otherwise.
func exportSeries(ctx context.Context, s *insitu.Store, key string, cfg *viper.Viper) (*insitu.Series, error) {
	if cfg.GetString("start") == "" && cfg.GetString("end") == "" {
		ser, ok := s.Series(key)
		if !ok {
			return nil, fmt.Errorf("insitu: no stored data for product %s; give --start and --end to fetch some", key)
		}
		return ser, nil
	}
	r, err := timeRange(cfg)
	if err != nil {
		return nil, err
	}
	res, err := s.Request(ctx, key, r)
	if err != nil {
		return nil, err
	}
	if !res.Complete {
		return nil, res.Err
	}
	return res.Series, nil
}

// selectColumns returns a copy of ser restricted to the given columns.
func selectColumns(ser *insitu.Series, cols []string) (*insitu.Series, error) {
	data := make(map[string][]float64)
	for _, col := range cols {
		arr, ok := ser.Data.Columns[col]
		if !ok {
			return nil, fmt.Errorf("insitu: product %s has no column %s", ser.Key, col)
		}
		data[col] = arr.Elements
	}
	seg, err := insitu.NewSegment(ser.Data.Times, data)
	if err != nil {
		return nil, err
	}
	o := *ser
	o.Data = seg
	return &o, nil
}

// checkOutputFile makes sure that the output file location is usable
// and expands any environment variables in it.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`insitu: an output file must be specified (for example: --out="export.nc")`)
	}
	f = os.ExpandEnv(f)
	if IsBlob(f) {
		url, err := url.Parse(f)
		if err != nil {
			return f, err
		}
		if _, err := OpenBucket(context.TODO(), url.Scheme+"://"+url.Host); err != nil {
			return f, fmt.Errorf("insitu: error when checking output file location: %v", err)
		}
		return f, nil
	}
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("insitu: the output file directory doesn't exist: %v", err)
	}
	return f, nil
}

// writeExport writes ser to out, which may be a local path or a blob
// storage URL.
func writeExport(ctx context.Context, ser *insitu.Series, out string) error {
	local := out
	if IsBlob(out) {
		dir, err := ioutil.TempDir("", "insitu")
		if err != nil {
			return fmt.Errorf("insitu: failed creating temporary export directory: %v", err)
		}
		local = filepath.Join(dir, filepath.Base(out))
	}
	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("insitu: creating export file: %v", err)
	}
	if err := insitu.WriteNetCDF(ser, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if IsBlob(out) {
		return uploadFile(ctx, local, out)
	}
	return nil
}
