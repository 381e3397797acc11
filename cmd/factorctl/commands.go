package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/irfndi/etffactor/internal/config"
	"github.com/irfndi/etffactor/internal/dataio"
	"github.com/irfndi/etffactor/internal/engine"
	"github.com/irfndi/etffactor/internal/quality"
	"github.com/irfndi/etffactor/pkg/factors"
)

var (
	printer   = message.NewPrinter(language.English)
	titleCase = cases.Title(language.English)
)

func categoryTitle(c factors.Category) string {
	return titleCase.String(strings.ReplaceAll(string(c), "_", " "))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listFactors(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	category := factors.Category(strings.ToLower(strings.TrimSpace(c.String("category"))))
	if category != "" && !isCategory(category) {
		return cli.Exit(fmt.Sprintf("unknown category %q", category), 1)
	}

	reg := factors.DefaultRegistry()
	byCategory := make(map[factors.Category][]factors.Info)
	var all []factors.Info
	for _, name := range reg.Names() {
		f, err := reg.Get(name)
		if err != nil {
			return err
		}
		if category != "" && f.Category() != category {
			continue
		}
		info := factors.Describe(f, cfg.Adjustment())
		byCategory[info.Category] = append(byCategory[info.Category], info)
		all = append(all, info)
	}

	w := c.App.Writer
	if c.Bool("json") {
		return writeJSON(w, all)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, cat := range factors.Categories {
		infos := byCategory[cat]
		if len(infos) == 0 {
			continue
		}
		fmt.Fprintf(tw, "%s (%d)\n", categoryTitle(cat), len(infos))
		for _, info := range infos {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", info.Name, strings.Join(info.Inputs, ","), info.Description)
		}
	}
	return tw.Flush()
}

func isCategory(c factors.Category) bool {
	for _, known := range factors.Categories {
		if c == known {
			return true
		}
	}
	return false
}

func computeFactors(c *cli.Context) error {
	mode, err := dataio.ParseMode(c.String("mode"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	var opts engine.Options
	if s := c.String("adjustment"); s != "" {
		if opts.Adjustment, err = factors.ParseAdjustment(s); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}
	opts.NoCache = c.Bool("no-cache")
	opts.Persist = c.Bool("persist")

	var params map[string]any
	if path := c.String("params"); path != "" {
		if params, err = dataio.LoadParams(path); err != nil {
			return err
		}
	}
	frame, err := dataio.ReadCSVFile(c.String("input"))
	if err != nil {
		return err
	}

	rt, err := openEngine(c, opts.Persist)
	if err != nil {
		return err
	}
	defer rt.close()

	batch, err := rt.engine.Compute(c.Context, c.StringSlice("factors"), frame, params, opts)
	if err != nil {
		return err
	}

	w := c.App.Writer
	printSummary(w, batch)

	results := make([]*factors.Result, 0, len(batch.Results))
	for _, name := range batch.Names() {
		results = append(results, batch.Results[name])
	}
	if len(results) == 0 {
		return cli.Exit("no factor could be computed", 1)
	}

	out := c.String("out")
	writer := dataio.NewWriter(out, rt.logger.Logger())
	paths, err := writer.Write(c.Context, mode, results)
	if err != nil {
		return err
	}
	if _, err := writer.WriteMetadata(dataio.NewMetadata(batch.RunID, mode, batch.Data, results, paths)); err != nil {
		return err
	}
	printer.Fprintf(w, "wrote %d files to %s\n", len(paths), out)
	return nil
}

func printSummary(w io.Writer, batch *engine.BatchResult) {
	s := batch.Summary
	printer.Fprintf(w, "run %s: %d requested, %d computed, %d cached, %d failed",
		batch.RunID, s.Requested, s.Computed, s.Cached, s.Failed)
	if s.Cancelled > 0 {
		printer.Fprintf(w, ", %d cancelled", s.Cancelled)
	}
	fmt.Fprintln(w)

	for _, o := range batch.Outcomes {
		switch o.Status {
		case engine.StatusFailed, engine.StatusCancelled:
			fmt.Fprintf(w, "  %-12s %s: %s\n", o.Factor, o.Status, o.Error)
		default:
			printer.Fprintf(w, "  %-12s %s, %d rows, %v\n", o.Factor, o.Status, o.Rows, o.Duration.Round(time.Microsecond))
		}
	}
	for _, d := range batch.Diagnostics {
		fmt.Fprintf(w, "  warning: %s\n", d.Message)
	}
}

func checkQuality(c *cli.Context) error {
	frame, err := dataio.ReadCSVFile(c.String("input"))
	if err != nil {
		return err
	}
	report := quality.NewChecker(quality.DefaultConfig(), nil).Check(frame)

	w := c.App.Writer
	if c.Bool("json") {
		return writeJSON(w, report)
	}

	printer.Fprintf(w, "%d rows, %d instruments, %s to %s\n",
		report.Rows, report.Instruments,
		report.Start.Format("2006-01-02"), report.End.Format("2006-01-02"))

	columns := make([]string, 0, len(report.Columns))
	for name := range report.Columns {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  column\tmissing\tratio\toutliers")
	for _, name := range columns {
		st := report.Columns[name]
		printer.Fprintf(tw, "  %s\t%d\t%.2f%%\t%d\n", name, st.Missing, st.MissingRatio*100, st.Outliers)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, g := range report.Gaps {
		fmt.Fprintf(w, "  gap %s: %s to %s (%d days)\n",
			g.TsCode, g.From.Format("2006-01-02"), g.To.Format("2006-01-02"), g.Days)
	}
	if report.OK() {
		fmt.Fprintln(w, "no issues found")
		return nil
	}
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "  %s: %s\n", issue.Flag, issue.Message)
	}
	return nil
}

func cacheInfo(c *cli.Context) error {
	rt, err := openStore(c)
	if err != nil {
		return err
	}
	defer rt.close()

	info, err := rt.store.Info(c.Context)
	if err != nil {
		return err
	}
	w := c.App.Writer
	printer.Fprintf(w, "backend %s, %d entries, %d hits, %d misses, hit rate %.1f%%\n",
		info.Backend, info.Entries, info.Hits, info.Misses, info.HitRate)

	names := make([]string, 0, len(info.ByFactor))
	for name := range info.ByFactor {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		printer.Fprintf(w, "  %-12s %d\n", name, info.ByFactor[name])
	}

	if factor := factors.NormalizeName(c.String("factor")); factor != "" {
		keys, err := rt.store.Keys(c.Context, factor)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintf(w, "  %s\n", k)
		}
	}
	return nil
}

func cacheClear(c *cli.Context) error {
	rt, err := openStore(c)
	if err != nil {
		return err
	}
	defer rt.close()

	factor := factors.NormalizeName(c.String("factor"))
	n, err := rt.store.Clear(c.Context, factor)
	if err != nil {
		return err
	}
	if factor == "" {
		factor = "all factors"
	}
	printer.Fprintf(c.App.Writer, "removed %d entries (%s)\n", n, factor)
	return nil
}
