package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
)

// ErrReportsFound is returned by "check -fail" and "query -fail" when any report is produced.
var ErrReportsFound = errors.New("integer errors found")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err == ErrReportsFound {
		os.Exit(2)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "check":
		return NewCheckCommand().Run(ctx, args)
	case "instrument":
		return NewInstrumentCommand().Run(ctx, args)
	case "query":
		return NewQueryCommand().Run(ctx, args)
	default:
		return fmt.Errorf(`kint %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Kint finds integer overflow, shift and division errors in LLVM IR.

Usage:

	kint <command> [arguments]

The commands are:

	check         instrument and query IR files
	instrument    insert sentinel calls and print the IR
	query         query IR that is already instrumented
	help          this screen
`[1:])
}
