package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/irfndi/etffactor/internal/logging"
	"github.com/irfndi/etffactor/pkg/factors"
)

// ComputeFunc produces the result for a key on a cache miss.
type ComputeFunc func() (*factors.Result, error)

// Coordinator reads through a Store and guarantees that concurrent callers
// asking for the same key in this process trigger at most one computation.
// Failed computations are never cached.
type Coordinator struct {
	store  Store
	group  singleflight.Group
	logger *logging.StandardLogger
}

func NewCoordinator(store Store, logger *logging.StandardLogger) *Coordinator {
	if store == nil {
		store = &NoopStore{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{store: store, logger: logger.WithComponent("cache")}
}

// Store returns the backing store.
func (c *Coordinator) Store() Store {
	return c.store
}

// GetOrCompute returns the cached result for key, or runs compute and stores
// its result. hit reports whether this caller was served without computing.
// A store error on read or write degrades to computing without caching.
func (c *Coordinator) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) (result *factors.Result, hit bool, err error) {
	if cached, ok := c.lookup(ctx, key); ok {
		return cached, true, nil
	}

	computed := false
	ch := c.group.DoChan(key.String(), func() (val interface{}, err error) {
		// A panic inside DoChan would crash the process, so it becomes an error.
		defer func() {
			if r := recover(); r != nil {
				val, err = nil, fmt.Errorf("computing %s panicked: %v", key.Factor, r)
			}
		}()
		// Another flight may have stored the key between our miss and now.
		if cached, ok := c.lookup(ctx, key); ok {
			return cached, nil
		}
		computed = true
		r, cerr := compute()
		if cerr != nil {
			return nil, cerr
		}
		if err := c.store.Put(context.WithoutCancel(ctx), key, r); err != nil {
			c.logger.WithError(err).Warn("Failed to store factor result")
		}
		c.logger.LogCacheOperation("put", key.String(), false)
		return r, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*factors.Result), !computed, nil
	}
}

func (c *Coordinator) lookup(ctx context.Context, key Key) (*factors.Result, bool) {
	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).Warn("Cache read failed; computing instead")
		return nil, false
	}
	c.logger.LogCacheOperation("get", key.String(), ok)
	return cached, ok
}

// UpdateIncremental merges delta into the result cached under base and
// stores the merge under next. Rows of delta replace rows of the cached
// result with the same (ts_code, trade_date). When base is not cached, delta
// alone is stored.
func (c *Coordinator) UpdateIncremental(ctx context.Context, base, next Key, delta *factors.Result) (*factors.Result, error) {
	merged := delta
	if cached, ok := c.lookup(ctx, base); ok {
		var err error
		merged, err = Merge(cached, delta)
		if err != nil {
			return nil, err
		}
	}
	if err := c.store.Put(ctx, next, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Merge combines two results of the same factor and parameters. Rows are
// keyed by (ts_code, trade_date); newer wins. The output is sorted by
// instrument then ascending date.
func Merge(older, newer *factors.Result) (*factors.Result, error) {
	if older.Factor != newer.Factor || older.Params != newer.Params {
		return nil, fmt.Errorf("cannot merge %s(%s) into %s(%s)", newer.Factor, newer.Params, older.Factor, older.Params)
	}
	if len(older.Columns) != len(newer.Columns) {
		return nil, fmt.Errorf("cannot merge results with different columns")
	}
	for i := range older.Columns {
		if older.Columns[i].Name != newer.Columns[i].Name {
			return nil, fmt.Errorf("cannot merge column %s into %s", newer.Columns[i].Name, older.Columns[i].Name)
		}
	}

	type rowRef struct {
		src *factors.Result
		row int
	}
	rowKey := func(code string, date time.Time) string {
		return code + "|" + date.Format(factors.TradeDateLayout)
	}
	rows := make(map[string]rowRef, older.Len()+newer.Len())
	for _, src := range []*factors.Result{older, newer} {
		for i := 0; i < src.Len(); i++ {
			rows[rowKey(src.TsCode[i], src.TradeDate[i])] = rowRef{src: src, row: i}
		}
	}

	refs := make([]rowRef, 0, len(rows))
	for _, ref := range rows {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(a, b int) bool {
		ca, cb := refs[a].src.TsCode[refs[a].row], refs[b].src.TsCode[refs[b].row]
		if ca != cb {
			return ca < cb
		}
		return refs[a].src.TradeDate[refs[a].row].Before(refs[b].src.TradeDate[refs[b].row])
	})

	out := &factors.Result{
		Factor:    newer.Factor,
		Category:  newer.Category,
		Params:    newer.Params,
		TsCode:    make([]string, len(refs)),
		TradeDate: make([]time.Time, len(refs)),
		Columns:   make([]factors.Column, len(newer.Columns)),
	}
	for c, col := range newer.Columns {
		out.Columns[c] = factors.Column{Name: col.Name, DataType: col.DataType, Values: make([]float64, len(refs))}
	}
	for i, ref := range refs {
		out.TsCode[i] = ref.src.TsCode[ref.row]
		out.TradeDate[i] = ref.src.TradeDate[ref.row]
		for c := range out.Columns {
			out.Columns[c].Values[i] = ref.src.Columns[c].Values[ref.row]
		}
	}
	return out, nil
}
