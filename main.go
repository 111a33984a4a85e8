package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/kwv/trajalign/traj"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line. Pointer fields are nil when the
// flag was not given, so config values are only overridden on purpose.
type AppOptions struct {
	ConfigFile string
	First      string
	Second     string
	Format     string
	TieBreak   string
	Verbose    bool
	Evaluate   bool
	Serve      bool
	HTTPPort   int

	Offset        *float64
	MaxDifference *float64
	Start         *int
	End           *int
}

// Runner is the set of modes run dispatches to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunAssociate(out io.Writer) error
	RunEvaluate(out io.Writer) error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("trajalign", flag.ContinueOnError)
	fs.SetOutput(out)

	configFile := fs.String("config", "config.yaml", "Path to configuration file")
	first := fs.String("first", "", "First trajectory or file list")
	second := fs.String("second", "", "Second trajectory or file list")
	format := fs.String("format", traj.FormatList, "Input format for --first/--second: list or pose")
	offset := fs.Float64("offset", 0, "Time offset added to the second stamps")
	maxDifference := fs.Float64("max-difference", traj.DefaultMaxDifference, "Maximally allowed time gap for matching entries")
	tieBreak := fs.String("tie-break", "", "Order of equal-gap candidates: lexical or numeric")
	start := fs.Int("start", 0, "First data line of list files (negative counts from the end)")
	end := fs.Int("end", 0, "End data line of list files, exclusive (negative counts from the end)")
	verbose := fs.Bool("verbose", false, "Print the data of both entries of every match")
	evaluate := fs.Bool("evaluate", false, "Evaluate every configured pair and exit")
	serve := fs.Bool("serve", false, "Run the HTTP/MQTT service")
	httpPort := fs.Int("http-port", 0, "HTTP server port (default from config, else 8080)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := AppOptions{
		ConfigFile: *configFile,
		First:      *first,
		Second:     *second,
		Format:     *format,
		TieBreak:   *tieBreak,
		Verbose:    *verbose,
		Evaluate:   *evaluate,
		Serve:      *serve,
		HTTPPort:   *httpPort,
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "offset":
			opts.Offset = offset
		case "max-difference":
			opts.MaxDifference = maxDifference
		case "start":
			opts.Start = start
		case "end":
			opts.End = end
		}
	})

	if opts.MaxDifference != nil && *opts.MaxDifference <= 0 {
		return fmt.Errorf("--max-difference must be positive")
	}
	if _, err := traj.ParseTieBreak(opts.TieBreak); err != nil {
		return err
	}
	if opts.Format == traj.FormatPose && (opts.Start != nil || opts.End != nil) {
		return fmt.Errorf("--start and --end apply only to --format %s", traj.FormatList)
	}

	app.ApplyOptions(opts)

	switch {
	case opts.Serve:
		fmt.Fprintf(out, "trajalign version: %s\n", Version)
		return app.RunService()
	case opts.Evaluate:
		return app.RunEvaluate(out)
	case opts.First != "" || opts.Second != "":
		if opts.First == "" || opts.Second == "" {
			return fmt.Errorf("--first and --second must be given together")
		}
		return app.RunAssociate(out)
	}

	fmt.Fprintf(out, "trajalign version: %s\n", Version)
	fmt.Fprintln(out, "Use --first A --second B to associate two files")
	fmt.Fprintln(out, "Use --config FILE --evaluate to evaluate every configured pair")
	fmt.Fprintln(out, "Use --config FILE --serve to run the HTTP/MQTT service")
	return nil
}
