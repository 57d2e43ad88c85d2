package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/kint"
	"github.com/llir/llvm/asm"
	"github.com/logrusorgru/aurora"
	log "github.com/sirupsen/logrus"
)

// CheckCommand represents a command for instrumenting and querying IR files.
type CheckCommand struct {
	Stdout io.Writer

	// If false, input files are expected to be instrumented already.
	Instrument bool
}

// NewCheckCommand returns a new instance of CheckCommand.
func NewCheckCommand() *CheckCommand {
	return &CheckCommand{Stdout: os.Stdout, Instrument: true}
}

// NewQueryCommand returns a CheckCommand that skips instrumentation.
func NewQueryCommand() *CheckCommand {
	return &CheckCommand{Stdout: os.Stdout}
}

// Run executes the "check" or "query" subcommand.
func (cmd *CheckCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kint-"+cmd.name(), flag.ContinueOnError)
	fail := fs.Bool("fail", false, "exit with status 2 if any error is reported")
	fs.Usage = cmd.usage
	config, err := parseFlags(fs, args)
	if err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("ir file required")
	}
	setupLogging(config.Verbose)

	solver, closeSolver, err := newSolver(config)
	if err != nil {
		return err
	}
	defer closeSolver()

	checker := kint.NewChecker(solver)
	checker.Logger = log.StandardLogger()
	checker.Jobs = config.Jobs
	checker.Exclude = config.Exclude
	checker.DumpFormulas = config.Dump
	checker.DumpModels = config.Model

	au := aurora.NewAurora(config.Color)

	var n int
	for _, path := range fs.Args() {
		reports, err := cmd.checkFile(ctx, checker, path)
		if err != nil {
			return err
		}
		for _, r := range reports {
			printReport(cmd.Stdout, au, r)
		}
		n += len(reports)
	}

	if *fail && n > 0 {
		return ErrReportsFound
	}
	return nil
}

func (cmd *CheckCommand) checkFile(ctx context.Context, checker *kint.Checker, path string) ([]*kint.Report, error) {
	m, err := asm.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	logger := log.WithField("file", path)
	if cmd.Instrument {
		instrumenter := kint.NewInstrumenter()
		instrumenter.Logger = logger
		stats, err := instrumenter.InstrumentModule(m)
		if err != nil {
			return nil, err
		}
		logger.WithFields(log.Fields{
			"overflow":     stats.Overflow,
			"shift":        stats.Shift,
			"div":          stats.Div,
			"unobservable": stats.Unobservable,
		}).Info("instrumented")
	}

	reports, stats, err := checker.CheckModule(ctx, m)
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"functions": stats.Functions,
		"sentinels": stats.Sentinels,
		"reports":   stats.Reports,
		"elapsed":   stats.QueryTime,
	}).Info("checked")
	return reports, nil
}

// printReport writes r as a single line, highlighting the prefix and location.
func printReport(w io.Writer, au aurora.Aurora, r *kint.Report) {
	fmt.Fprintf(w, "%s %s: %s\n", au.Bold(au.Red(kint.ReportPrefix+":")), au.Magenta(r.Location()), r.Inst)
}

func (cmd *CheckCommand) name() string {
	if cmd.Instrument {
		return "check"
	}
	return "query"
}

func (cmd *CheckCommand) usage() {
	if !cmd.Instrument {
		fmt.Fprintln(os.Stderr, `
usage: kint query [arguments] FILE.ll...

Queries the sentinel calls of IR files that were already instrumented
with "kint instrument" and prints one line per possible integer error.
`[1:]+flagsUsage)
		return
	}

	fmt.Fprintln(os.Stderr, `
usage: kint check [arguments] FILE.ll...

Instruments each IR file with sentinel calls, then queries every sentinel
and prints one line per possible integer error.
`[1:]+flagsUsage)
}

const flagsUsage = `
Shared arguments:

	-fail
	    exit with status 2 if any error is reported
	-v
	    enable debug logging
	-config PATH
	    read settings from a .yml or .toml file
	-solver NAME
	    solver backend (default "gini")
	-timeout DURATION
	    per query timeout
	-j N
	    number of functions checked in parallel
	-color
	    colorize reports
	-exclude PATTERNS
	    comma-separated function name patterns to skip
	-dump
	    log each query as an SMT-LIB script
	-model
	    log the model of each reported error
`

// setupLogging configures the standard logger for command line use.
func setupLogging(verbose bool) {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}
}
