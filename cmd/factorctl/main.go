// factorctl computes technical factors for ETF daily bars from CSV files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var (
	version   = "dev"
	gitCommit = ""
)

func formatVersion() string {
	if gitCommit != "" {
		return fmt.Sprintf("%s (git: %s)", version, gitCommit)
	}
	return version
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "factorctl",
		Usage:   "Compute, inspect and cache ETF technical factors",
		Version: formatVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level written to stderr",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List registered factors",
				Action: listFactors,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "category", Usage: "only factors of this category"},
					&cli.BoolFlag{Name: "json", Usage: "print the catalogue as JSON"},
				},
			},
			{
				Name:   "compute",
				Usage:  "Compute factors from a CSV of daily bars and write CSV files",
				Action: computeFactors,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "input CSV", Required: true},
					&cli.StringSliceFlag{Name: "factors", Aliases: []string{"f"}, Usage: "factor names, default all"},
					&cli.StringFlag{Name: "params", Aliases: []string{"p"}, Usage: "YAML or JSON parameter file"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory", Value: "output"},
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "single, group or complete", Value: "single"},
					&cli.StringFlag{Name: "adjustment", Usage: "hfq, qfq or raw (default from config)"},
					&cli.BoolFlag{Name: "no-cache", Usage: "bypass the cache"},
					&cli.BoolFlag{Name: "persist", Usage: "also write results to the database"},
				},
			},
			{
				Name:   "quality",
				Usage:  "Report data quality issues of a CSV of daily bars",
				Action: checkQuality,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "input CSV", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
				},
			},
			{
				Name:  "cache",
				Usage: "Inspect or clear the factor cache",
				Subcommands: []*cli.Command{
					{
						Name:   "info",
						Usage:  "Show cache statistics",
						Action: cacheInfo,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "factor", Usage: "also list the keys of this factor"},
						},
					},
					{
						Name:   "clear",
						Usage:  "Remove cached results",
						Action: cacheClear,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "factor", Usage: "only this factor, default all"},
						},
					},
				},
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
