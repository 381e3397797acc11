package dataio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/irfndi/etffactor/pkg/factors"
)

// Mode selects the output layout.
type Mode string

const (
	// ModeSingle writes {dir}/{code}/{FACTOR}.csv, code without exchange suffix.
	ModeSingle Mode = "single"
	// ModeGroup writes {dir}/factor_groups/{category}_{ts_code}.csv.
	ModeGroup Mode = "group"
	// ModeComplete writes {dir}/complete/all_factors_{ts_code}.csv.
	ModeComplete Mode = "complete"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSingle, ModeGroup, ModeComplete:
		return m, nil
	case "":
		return ModeSingle, nil
	default:
		return "", fmt.Errorf("unknown output mode %q (want single, group or complete)", s)
	}
}

// Writer writes results under a root directory.
type Writer struct {
	dir         string
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{dir: dir, concurrency: 8, logger: logger, now: time.Now}
}

// Write lays out results according to mode and returns the files written,
// sorted. results are written in the order given.
func (w *Writer) Write(ctx context.Context, mode Mode, results []*factors.Result) ([]string, error) {
	var jobs []job
	switch mode {
	case ModeSingle:
		jobs = singleJobs(w.dir, results)
	case ModeGroup:
		var err error
		if jobs, err = groupJobs(w.dir, results); err != nil {
			return nil, err
		}
	case ModeComplete:
		var err error
		if jobs, err = completeJobs(w.dir, results); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown output mode %q", mode)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return writeFile(j.path, j.result)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	paths := make([]string, len(jobs))
	for i, j := range jobs {
		paths[i] = j.path
	}
	sort.Strings(paths)
	w.logger.Info("Wrote factor files",
		zap.String("mode", string(mode)),
		zap.String("dir", w.dir),
		zap.Int("files", len(paths)))
	return paths, nil
}

type job struct {
	path   string
	result *factors.Result
}

func singleJobs(dir string, results []*factors.Result) []job {
	var jobs []job
	for _, r := range results {
		for _, code := range instruments(r.TsCode) {
			jobs = append(jobs, job{
				path:   filepath.Join(dir, shortCode(code), r.Factor+".csv"),
				result: r.Instrument(code, true),
			})
		}
	}
	return jobs
}

func groupJobs(dir string, results []*factors.Result) ([]job, error) {
	byCat := make(map[factors.Category][]*factors.Result)
	for _, r := range results {
		byCat[r.Category] = append(byCat[r.Category], r)
	}

	var jobs []job
	for _, cat := range factors.Categories {
		group := byCat[cat]
		if len(group) == 0 {
			continue
		}
		combined, err := factors.Combine(string(cat), group...)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", cat, err)
		}
		for _, code := range instruments(combined.TsCode) {
			jobs = append(jobs, job{
				path:   filepath.Join(dir, "factor_groups", fmt.Sprintf("%s_%s.csv", cat, code)),
				result: combined.Instrument(code, true),
			})
		}
	}
	return jobs, nil
}

func completeJobs(dir string, results []*factors.Result) ([]job, error) {
	if len(results) == 0 {
		return nil, nil
	}
	combined, err := factors.Combine("ALL", results...)
	if err != nil {
		return nil, err
	}
	var jobs []job
	for _, code := range instruments(combined.TsCode) {
		jobs = append(jobs, job{
			path:   filepath.Join(dir, "complete", fmt.Sprintf("all_factors_%s.csv", code)),
			result: combined.Instrument(code, true),
		})
	}
	return jobs, nil
}

// shortCode strips the exchange suffix: 510300.SH becomes 510300.
func shortCode(code string) string {
	if i := strings.IndexByte(code, '.'); i > 0 {
		return code[:i]
	}
	return code
}

func writeFile(path string, result *factors.Result) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if err := WriteCSV(f, result); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
