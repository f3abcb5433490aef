// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/awslabs/argot-taint/analysis/config"
	"github.com/awslabs/argot-taint/analysis/dataflow"
	"github.com/awslabs/argot-taint/analysis/facts"
	"github.com/awslabs/argot-taint/analysis/flowgraph"
	"github.com/awslabs/argot-taint/analysis/resultstore"
	"github.com/awslabs/argot-taint/analysis/taint"
	"github.com/awslabs/argot-taint/internal/formatutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// exit codes
const (
	exitClean      = 0
	exitError      = 1
	exitVulnerable = 3
	exitIncomplete = 4
)

// options are the settings of one invocation, read from flags and environment through viper
type options struct {
	configPath string
	snapshot   string
	dsn        string
	mode       string
	sarifPath  string
	jsonPath   string
	writeBack  bool
	workers    int
	maxAlarms  int
	logLevel   int
	noColor    bool
}

func newRootCmd(v *viper.Viper, stdout io.Writer, exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "taint",
		Short:         "Taint analysis of a fact database",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := readOptions(v)
			verdict, err := run(cmd.Context(), opts, stdout)
			*exitCode = exitStatus(verdict, err)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringP("config", "c", "", "config file path")
	flags.String("snapshot", "", "JSON snapshot of the fact database")
	flags.String("dsn", "", "PostgreSQL connection string of the fact database")
	flags.String("mode", string(taint.Complete), "analysis mode: forward, backward or complete")
	flags.String("sarif", "", "write a SARIF report to this file")
	flags.String("json", "", "write the result set as JSON to this file (- for stdout)")
	flags.Bool("write-back", false, "write the results to the taint_results table")
	flags.Int("workers", 0, "number of workers (overrides the config)")
	flags.Int("max-alarms", 0, "maximum number of vulnerabilities reported (overrides the config)")
	flags.Int("log-level", 0, "log level, from 1 (errors) to 5 (trace) (overrides the config)")
	flags.Bool("no-color", false, "disable colors")
	_ = v.BindPFlags(flags)

	v.SetEnvPrefix("ARGOT_TAINT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return cmd
}

func readOptions(v *viper.Viper) options {
	return options{
		configPath: v.GetString("config"),
		snapshot:   v.GetString("snapshot"),
		dsn:        v.GetString("dsn"),
		mode:       v.GetString("mode"),
		sarifPath:  v.GetString("sarif"),
		jsonPath:   v.GetString("json"),
		writeBack:  v.GetBool("write-back"),
		workers:    v.GetInt("workers"),
		maxAlarms:  v.GetInt("max-alarms"),
		logLevel:   v.GetInt("log-level"),
		noColor:    v.GetBool("no-color"),
	}
}

func verdictCode(v dataflow.Verdict) int {
	switch v {
	case dataflow.VerdictVulnerable:
		return exitVulnerable
	case dataflow.VerdictIncomplete:
		return exitIncomplete
	}
	return exitClean
}

// exitStatus returns the exit code of a run. Once the analysis has produced a result set, its verdict decides even
// when some units failed: a failed unit is a diagnostic, and the verdict is then never clean.
func exitStatus(v dataflow.Verdict, err error) int {
	if v != "" {
		return verdictCode(v)
	}
	if err != nil {
		return exitError
	}
	return exitClean
}

// loadConfig loads the config file, or the default config with the seed catalog, and applies the overrides of opts
func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		config.SetGlobalConfig(opts.configPath)
		cfg, err = config.LoadGlobal()
	} else {
		cfg, err = config.NewWithCatalog()
	}
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if opts.maxAlarms > 0 {
		cfg.MaxAlarms = opts.maxAlarms
	}
	if opts.logLevel > 0 {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, nil
}

// stores returns the fact and graph stores selected by opts, and a function releasing them
func stores(ctx context.Context, opts options) (facts.Store, flowgraph.Store, *pgxpool.Pool, func(), error) {
	switch {
	case opts.snapshot != "" && opts.dsn != "":
		return nil, nil, nil, nil, errors.New("--snapshot and --dsn are mutually exclusive")
	case opts.snapshot != "":
		f, err := os.Open(opts.snapshot)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("could not open snapshot: %w", err)
		}
		defer f.Close()
		snap, err := facts.ReadSnapshot(f)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("could not read snapshot %s: %w", opts.snapshot, err)
		}
		return snap, flowgraph.NewSnapshotStore(snap), nil, func() {}, nil
	case opts.dsn != "":
		pool, err := pgxpool.New(ctx, opts.dsn)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to connect to fact database: %w", err)
		}
		store, err := facts.NewPGStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, nil, err
		}
		return store, flowgraph.NewPGStore(pool), pool, pool.Close, nil
	}
	return nil, nil, nil, nil, errors.New("one of --snapshot or --dsn is required")
}

func run(ctx context.Context, opts options, stdout io.Writer) (dataflow.Verdict, error) {
	if opts.noColor {
		formatutil.SetColors(false)
	}
	mode, err := taint.ParseMode(opts.mode)
	if err != nil {
		return "", err
	}
	if opts.writeBack && opts.dsn == "" {
		return "", errors.New("--write-back requires --dsn")
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return "", err
	}
	logger := config.NewLogGroup(cfg)
	defer logger.Sync()

	factStore, graphStore, pool, release, err := stores(ctx, opts)
	if err != nil {
		return "", err
	}
	defer release()

	logger.Infof("%s", formatutil.Faint("Loading facts and flow graph"))
	state, err := dataflow.NewAnalyzerState(ctx, cfg, logger, factStore, graphStore)
	if err != nil {
		return "", err
	}
	logger.Infof("Run %s: %d sources, %d sinks", state.RunID, len(state.Registry.Sources()),
		len(state.Registry.Sinks()))

	rs, analysisErr := taint.Analyze(ctx, state, mode)
	if rs == nil {
		return "", analysisErr
	}
	if analysisErr != nil {
		logger.Errorf("analysis returned errors: %v", analysisErr)
	}

	if opts.sarifPath != "" {
		if err := writeFile(opts.sarifPath, stdout, func(w io.Writer) error { return WriteSARIF(w, rs) }); err != nil {
			return "", err
		}
	}
	if opts.jsonPath != "" {
		if err := writeFile(opts.jsonPath, stdout, func(w io.Writer) error { return WriteJSON(w, rs) }); err != nil {
			return "", err
		}
	}
	if opts.writeBack {
		writer, err := resultstore.NewWriter(ctx, pool, logger)
		if err != nil {
			return "", err
		}
		if err := writer.Write(ctx, rs); err != nil {
			return "", err
		}
	}
	if opts.jsonPath != "-" {
		WriteSummary(stdout, rs)
	}
	return rs.Verdict(), analysisErr
}

func writeFile(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	return f.Close()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	exitCode := exitClean
	cmd := newRootCmd(viper.New(), os.Stdout, &exitCode)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, formatutil.Red(err.Error()))
		if exitCode == exitClean {
			exitCode = exitError
		}
	}
	os.Exit(exitCode)
}
