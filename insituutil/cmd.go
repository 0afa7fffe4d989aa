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
	"io"
	"time"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/insitu"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to insitu.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "catalog",
			usage: `
              catalog specifies the product catalog location. It may be a
              local path or an http://, gs://, s3://, or file:// URL;
              remote catalogs are downloaded before use. It can contain
              environment variables.`,
			shorthand:  "c",
			defaultVal: "insitu.toml",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "cache_loc",
			usage: `
              cache_loc specifies the location for storing fetched data
              for quick access. If this is left empty, fetched data will
              only be stored in memory. It can also be a URL beginning
              with http://, https://, or gs://, or a local directory.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "cache_entries",
			usage: `
              cache_entries specifies the number of fetched data segments
              to hold in the in-memory cache.`,
			defaultVal: 100,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "workers",
			usage: `
              workers specifies the number of concurrent fetch processors.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "state",
			usage: `
              state specifies the location of the store state file. When
              given, previously fetched series are loaded from it before
              a command runs and the updated state is saved back to it
              afterward. It may be a local path or a gs://, s3://, or
              file:// URL, and it can contain environment variables.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log_level",
			usage: `
              log_level sets the verbosity of log output. Valid options
              are "debug", "info", "warning", and "error".`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "start",
			usage: `
              start specifies the beginning (inclusive) of the requested
              time range, in RFC3339 or '2006-01-02T15:04:05' format
              (UTC is assumed when no zone is given).`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), exportCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "end",
			usage: `
              end specifies the end (exclusive) of the requested time
              range, in the same formats as start.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), exportCmd.Flags(), infoCmd.Flags()},
		},
		{
			name: "out",
			usage: `
              out is the path where the exported NetCDF file should be
              created. It may be a local path or a gs://, s3://, or
              file:// URL, and it can contain environment variables.`,
			shorthand:  "o",
			defaultVal: "insitu_export.nc",
			flagsets:   []*pflag.FlagSet{exportCmd.Flags()},
		},
		{
			name: "columns",
			usage: `
              columns restricts an export to the named columns. The
              default is to export every column of the product.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{exportCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("INSITU")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(fetchCmd)
	Root.AddCommand(exportCmd)
	Root.AddCommand(infoCmd)
}

// outChan returns a channel printing to standard output.
func outChan() chan string {
	outChan := make(chan string)
	go func() {
		for {
			msg := <-outChan
			fmt.Printf(msg)
		}
	}()
	return outChan
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("insitu: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "insitu",
	Short: "A cache for in-situ time-series data products.",
	Long: `insitu fetches named time-series data products, such as spacecraft
magnetometer measurements, over requested time ranges. It remembers
what it has already fetched, so asking for the same range twice only
does the work once.

Refer to the subcommand documentation for configuration options and
default settings. Configuration can be changed by using a configuration
file (and providing the path to the file using the --config flag), by
using command-line arguments, or by setting environment variables in
the format 'INSITU_var' where 'var' is the name of the variable to be
set. Many configuration variables are additionally allowed to contain
environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration
information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of insitu.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("insitu v%s\n", insitu.Version)
	},
	DisableAutoGenTag: true,
}

// fetchCmd is a command that fetches products over a time range.
var fetchCmd = &cobra.Command{
	Use:   "fetch [product...]",
	Short: "Fetch data products over a time range.",
	Long: `fetch requests each of the given products over the time range given
by the --start and --end flags, fetching whatever parts of the range
have not been fetched before, and prints a summary of each resulting
series. If no products are given, every product in the catalog is
fetched. If a state file is configured, the updated store state is
saved back to it afterward.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, cat, err := setupStore(ctx, Cfg, outChan())
		if err != nil {
			return err
		}
		r, err := timeRange(Cfg)
		if err != nil {
			return err
		}
		keys := args
		if len(keys) == 0 {
			keys = cat.Keys()
		}
		var failed int
		for _, key := range keys {
			res, err := s.Request(ctx, key, r)
			if err != nil {
				return err
			}
			reportResult(cmd.OutOrStdout(), key, res)
			if !res.Complete {
				failed++
			}
		}
		if err := saveState(ctx, s, Cfg); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("insitu: %d of %d products fetched incompletely", failed, len(keys))
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// exportCmd is a command that writes a product series to a NetCDF file.
var exportCmd = &cobra.Command{
	Use:   "export [product]",
	Short: "Export a data product to a NetCDF file.",
	Long: `export writes the series of the given product to the NetCDF file
given by the --out flag. When the --start and --end flags are given
the range is fetched first; otherwise the series must already be
present in the configured state file. The --columns flag restricts
the export to a subset of the product's columns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("insitu: export needs exactly one product argument")
		}
		key := args[0]
		ctx := context.Background()
		s, _, err := setupStore(ctx, Cfg, outChan())
		if err != nil {
			return err
		}
		ser, err := exportSeries(ctx, s, key, Cfg)
		if err != nil {
			return err
		}
		if cols := Cfg.GetStringSlice("columns"); len(cols) > 0 {
			if ser, err = selectColumns(ser, cols); err != nil {
				return err
			}
		}
		out, err := checkOutputFile(Cfg.GetString("out"))
		if err != nil {
			return err
		}
		if err := writeExport(ctx, ser, out); err != nil {
			return err
		}
		if err := saveState(ctx, s, Cfg); err != nil {
			return err
		}
		cmd.Printf("wrote %d samples of %s to %s\n", ser.Data.Len(), key, out)
		return nil
	},
	DisableAutoGenTag: true,
}

// infoCmd is a command that summarizes the catalog and store state.
var infoCmd = &cobra.Command{
	Use:   "info [product]",
	Short: "Summarize the catalog or one product.",
	Long: `info without arguments lists every product in the catalog. With a
product argument it prints the product's definition and, when a state
file is configured, the time ranges that have already been fetched.
When the --start and --end flags are also given it prints the gaps
that a request over that range would still have to fetch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, cat, err := setupStore(ctx, Cfg, outChan())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(args) == 0 {
			for _, key := range cat.Keys() {
				describeProduct(w, key, cat.Products[key])
			}
			return nil
		}
		key := args[0]
		p, ok := cat.Products[key]
		if !ok {
			return fmt.Errorf("insitu: product %s is not in the catalog", key)
		}
		describeProduct(w, key, p)
		for _, r := range s.Tracker().Covered(key) {
			fmt.Fprintf(w, "  covered %v\n", r)
		}
		if Cfg.GetString("start") != "" || Cfg.GetString("end") != "" {
			r, err := timeRange(Cfg)
			if err != nil {
				return err
			}
			for _, gap := range s.Gaps(key, r) {
				fmt.Fprintf(w, "  missing %v\n", gap)
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// reportResult prints a summary of the outcome of one product request.
func reportResult(w io.Writer, key string, res insitu.Result) {
	if res.Err != nil {
		fmt.Fprintf(w, "%s: %v\n", key, res.Err)
	}
	ser := res.Series
	if ser == nil || ser.Data.IsEmpty() {
		fmt.Fprintf(w, "%s: no data\n", key)
		return
	}
	r, _ := ser.Data.Range()
	period, rsquared := ser.Data.Cadence()
	fmt.Fprintf(w, "%s: %d samples %s to %s, cadence %v (r²=%.3f)\n",
		key, ser.Data.Len(), fmtTime(r.Start), fmtTime(r.End-1), period, rsquared)
	for _, col := range ser.Data.ColumnNames() {
		cs, err := ser.Data.Stats(col)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "  %s: min %g max %g mean %g, %d missing\n",
			col, cs.Min, cs.Max, cs.Mean, cs.NaN)
	}
}

// describeProduct prints a one-product catalog summary.
func describeProduct(w io.Writer, key string, p insitu.ProductSpec) {
	switch p.Kind {
	case "derived":
		fmt.Fprintf(w, "%s: derived from %s, %d expressions", key, p.Source, len(p.Exprs))
	default:
		fmt.Fprintf(w, "%s: %d columns from %s", key, len(p.Columns), p.FileTemplate)
	}
	if p.Units != "" {
		fmt.Fprintf(w, " [%s]", p.Units)
	}
	if p.Label != "" {
		fmt.Fprintf(w, " (%s)", p.Label)
	}
	fmt.Fprintln(w)
}

func fmtTime(ns int64) string {
	return time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
}
