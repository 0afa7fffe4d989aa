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
	"io"
	"os"
	"reflect"
	"sort"

	"github.com/BurntSushi/toml"
)

// A ProductSpec describes one product in a catalog. Kind selects the
// fetcher: "file" products are read from NetCDF day files and
// "derived" products are computed from another product.
type ProductSpec struct {
	Kind string

	// File products.
	Dir          string
	FileTemplate string
	DateFormat   string
	TimeVar      string
	Columns      []ColumnSpec

	// Derived products.
	Source string
	Exprs  map[string]string

	Units string
	Label string
	Plot  map[string]PlotDefaults
}

// A Catalog holds TOML product definitions. Environment variables in
// string fields, such as a ${DATA_ROOT} in a product directory, are
// expanded when the catalog is read.
type Catalog struct {
	Products map[string]ProductSpec
}

// ReadCatalog reads and checks a TOML catalog.
func ReadCatalog(r io.Reader) (*Catalog, error) {
	c := new(Catalog)
	if _, err := toml.DecodeReader(r, c); err != nil {
		return nil, fmt.Errorf("insitu: reading catalog: %v", err)
	}
	expandEnv(reflect.ValueOf(c).Elem())
	if err := c.check(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadCatalog reads and checks the TOML catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("insitu: opening catalog: %v", err)
	}
	defer f.Close()
	return ReadCatalog(f)
}

// expandEnv expands the environment variables in the string fields of
// v, descending through pointers, structs, slices, and map values.
func expandEnv(v reflect.Value) {
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandEnv(v.Index(i))
		}
	case reflect.Map:
		// Map values are not addressable; expand a copy and store it
		// back.
		for _, key := range v.MapKeys() {
			mv := v.MapIndex(key)
			nv := reflect.New(mv.Type()).Elem()
			nv.Set(mv)
			expandEnv(nv)
			v.SetMapIndex(key, nv)
		}
	case reflect.Ptr:
		if !v.IsNil() {
			expandEnv(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandEnv(v.Field(i))
		}
	}
}

// Keys returns the sorted product keys.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.Products))
	for k := range c.Products {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// check validates the catalog structure: every product has a known
// kind and the fields that kind needs, and every derived source chain
// ends at a file product without looping.
func (c *Catalog) check() error {
	for _, key := range c.Keys() {
		spec := c.Products[key]
		switch spec.Kind {
		case "file":
			if spec.FileTemplate == "" {
				return fmt.Errorf("insitu: catalog product %s has no file template", key)
			}
			if len(spec.Columns) == 0 {
				return fmt.Errorf("insitu: catalog product %s has no columns", key)
			}
			for _, col := range spec.Columns {
				if col.Name == "" {
					return fmt.Errorf("insitu: catalog product %s has a column with no name", key)
				}
			}
		case "derived":
			if spec.Source == "" {
				return fmt.Errorf("insitu: catalog product %s has no source", key)
			}
			if len(spec.Exprs) == 0 {
				return fmt.Errorf("insitu: catalog product %s has no expressions", key)
			}
			if err := c.checkChain(key); err != nil {
				return err
			}
		default:
			return fmt.Errorf("insitu: catalog product %s has unknown kind %q", key, spec.Kind)
		}
	}
	return nil
}

// checkChain follows the source chain of the derived product key.
func (c *Catalog) checkChain(key string) error {
	seen := map[string]bool{key: true}
	cur := c.Products[key].Source
	for {
		if seen[cur] {
			return fmt.Errorf("insitu: catalog product %s has a circular source chain", key)
		}
		seen[cur] = true
		next, ok := c.Products[cur]
		if !ok {
			return fmt.Errorf("insitu: catalog product %s: source %s is not in the catalog", key, cur)
		}
		if next.Kind != "derived" {
			return nil
		}
		cur = next.Source
	}
}

// sourceColumns returns the columns the product key provides: declared
// columns for file products, expression names for derived ones.
func (c *Catalog) sourceColumns(key string) []string {
	spec := c.Products[key]
	if spec.Kind == "derived" {
		names := make([]string, 0, len(spec.Exprs))
		for name := range spec.Exprs {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	}
	names := make([]string, len(spec.Columns))
	for i, col := range spec.Columns {
		names[i] = col.Name
	}
	return names
}

// Fetchers builds one fetcher per catalog product. Derived products
// request their source through s, and their expressions are checked
// against the source's columns here.
func (c *Catalog) Fetchers(s *Store) (map[string]Fetcher, error) {
	out := make(map[string]Fetcher, len(c.Products))
	for _, key := range c.Keys() {
		spec := c.Products[key]
		switch spec.Kind {
		case "file":
			out[key] = &FileFetcher{
				Dir:          spec.Dir,
				FileTemplate: spec.FileTemplate,
				DateFormat:   spec.DateFormat,
				TimeVar:      spec.TimeVar,
				Columns:      spec.Columns,
				Log:          s.Log,
			}
		case "derived":
			df, err := NewDerivedFetcher(s, spec.Source, spec.Exprs)
			if err != nil {
				return nil, fmt.Errorf("insitu: catalog product %s: %v", key, err)
			}
			if err := df.CheckColumns(c.sourceColumns(spec.Source)); err != nil {
				return nil, fmt.Errorf("insitu: catalog product %s: %v", key, err)
			}
			out[key] = df
		}
	}
	return out, nil
}

// Setup registers every catalog product with s.
func (c *Catalog) Setup(s *Store) error {
	fetchers, err := c.Fetchers(s)
	if err != nil {
		return err
	}
	for _, key := range c.Keys() {
		spec := c.Products[key]
		s.RegisterProduct(key, fetchers[key], ProductInfo{
			Units: spec.Units,
			Label: spec.Label,
			Plot:  spec.Plot,
		})
	}
	return nil
}
