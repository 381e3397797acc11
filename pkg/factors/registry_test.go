package factors

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	names := r.Names()
	assert.Len(t, names, 27)
	assert.Contains(t, names, "SMA")
	assert.Contains(t, names, "VOLUME_RATIO")
	assert.IsIncreasing(t, names)

	byCat := r.ByCategory()
	require.Len(t, byCat, len(Categories))
	assert.ElementsMatch(t, []string{"SMA", "EMA", "WMA", "MA_DIFF", "MA_SLOPE"}, byCat[CategoryMovingAverage])
	assert.ElementsMatch(t, []string{"MACD", "RSI", "ROC", "MOM"}, byCat[CategoryTrendMomentum])
	assert.ElementsMatch(t, []string{"ATR", "ATR_PCT", "BOLL", "BB_WIDTH", "HV", "TR", "DC", "STOCH"}, byCat[CategoryVolatility])
	assert.ElementsMatch(t, []string{"VMA", "OBV", "KDJ", "CCI", "WR", "VOLUME_RATIO"}, byCat[CategoryVolumePrice])
	assert.ElementsMatch(t, []string{"DAILY_RETURN", "CUM_RETURN", "MAX_DD", "ANNUAL_VOL"}, byCat[CategoryReturnRisk])
}

func TestRegistry_Get(t *testing.T) {
	r := DefaultRegistry()

	f, err := r.Get(" rsi ")
	require.NoError(t, err)
	assert.Equal(t, "RSI", f.Name())
	assert.True(t, r.Has("Rsi"))

	_, err = r.Get("NOPE")
	assert.ErrorIs(t, err, ErrUnknownFactor)
	assert.False(t, r.Has("NOPE"))
}

func TestRegistry_GetReturnsFreshValues(t *testing.T) {
	r := DefaultRegistry()
	a, err := r.Get("SMA")
	require.NoError(t, err)
	b, err := r.Get("SMA")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("SMA", NewSMA))

	err := r.Register("sma", NewEMA)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateFactor))

	// The first registration stays in effect.
	f, err := r.Get("SMA")
	require.NoError(t, err)
	assert.Equal(t, "Simple moving average of close", f.Description())

	assert.Panics(t, func() { r.MustRegister("SMA", NewSMA) })
}

func TestRegistry_RejectsInvalidEntries(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Register("  ", NewSMA), ErrInvalidParameter)
	assert.ErrorIs(t, r.Register("X", nil), ErrInvalidParameter)
	assert.Empty(t, r.Names())
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r := DefaultRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, name := range r.Names() {
				_, err := r.Get(name)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}

func TestDescribe(t *testing.T) {
	info := Describe(NewMACD(), AdjustmentQFQ)
	assert.Equal(t, "MACD", info.Name)
	assert.Equal(t, CategoryTrendMomentum, info.Category)
	assert.Equal(t, []string{ColTsCode, ColTradeDate, "qfq_close"}, info.Inputs)
	assert.Equal(t, []string{"MACD_DIF", "MACD_DEA", "MACD_HIST"}, info.Outputs)
	assert.Equal(t, MACDParams{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9}, info.Defaults)
	assert.Len(t, info.Parameters, 3)

	info = Describe(NewVolumeRatio(), AdjustmentHFQ)
	assert.Equal(t, []string{ColTsCode, ColTradeDate, ColVol}, info.Inputs)
	assert.Equal(t, []string{"VOLUME_RATIO_5"}, info.Outputs)
}

func TestBuiltins_Contract(t *testing.T) {
	for _, c := range Builtins() {
		f := c()
		t.Run(f.Name(), func(t *testing.T) {
			assert.Equal(t, NormalizeName(f.Name()), f.Name())
			assert.Contains(t, Categories, f.Category())
			assert.NotEmpty(t, f.Description())

			def := f.Schema().Default()
			require.NotNil(t, def)
			again, err := f.Schema().Validate(nil)
			require.NoError(t, err)
			assert.Equal(t, def, again)

			outs := f.Outputs(def)
			require.NotEmpty(t, outs)
			seen := make(map[string]bool)
			for _, o := range outs {
				assert.False(t, seen[o.Name], "duplicate output %s", o.Name)
				seen[o.Name] = true
				assert.GreaterOrEqual(t, o.WarmUp, 0)
			}
		})
	}
}
