package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/kint"
	"github.com/llir/llvm/asm"
	log "github.com/sirupsen/logrus"
)

// InstrumentCommand represents a command for inserting sentinel calls.
type InstrumentCommand struct {
	Stdout io.Writer
}

// NewInstrumentCommand returns a new instance of InstrumentCommand.
func NewInstrumentCommand() *InstrumentCommand {
	return &InstrumentCommand{Stdout: os.Stdout}
}

// Run executes the "instrument" subcommand.
func (cmd *InstrumentCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("kint-instrument", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "verbose")
	output := fs.String("o", "", "output file")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("ir file required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many ir files specified")
	}
	setupLogging(*verbose)

	path := fs.Arg(0)
	m, err := asm.ParseFile(path)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	instrumenter := kint.NewInstrumenter()
	instrumenter.Logger = log.WithField("file", path)
	stats, err := instrumenter.InstrumentModule(m)
	if err != nil {
		return err
	}
	log.WithField("sentinels", stats.Total()).Info("instrumented")

	if *output == "" {
		_, err := io.WriteString(cmd.Stdout, m.String())
		return err
	}
	return os.WriteFile(*output, []byte(m.String()), 0666)
}

func (cmd *InstrumentCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: kint instrument [arguments] FILE.ll

Inserts a sentinel call before every observable add, sub and mul and
before every shift and division, then prints the resulting IR.

Arguments:

	-o PATH
	    write the IR to PATH instead of stdout
	-v
	    enable debug logging
`[1:])
}
