package factors

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnJSON_MissingValuesAsNull(t *testing.T) {
	c := Column{Name: "MOM_1", DataType: DataTypePrice, Values: []float64{math.NaN(), 1.5, math.Inf(1)}}

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"MOM_1","data_type":"price","values":[null,1.5,null]}`, string(data))

	var back Column
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "MOM_1", back.Name)
	assertSameValues(t, []float64{math.NaN(), 1.5, math.NaN()}, back.Values)
}

func TestResult_JSONRoundTrip(t *testing.T) {
	result := compute(t, NewMOM(), syntheticFrame("510300.SH", 12), []int{3})

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var back Result
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, result.Factor, back.Factor)
	assert.Equal(t, result.Params, back.Params)
	assert.Equal(t, result.TsCode, back.TsCode)
	for i := range result.TradeDate {
		assert.True(t, result.TradeDate[i].Equal(back.TradeDate[i]))
	}
	assertSameValues(t, column(t, result, "MOM_3"), column(t, &back, "MOM_3"))
}

func TestResult_Instrument(t *testing.T) {
	frame := permuteFrame(concatFrames(syntheticFrame("A", 4), syntheticFrame("B", 3)), []int{6, 1, 4, 3, 0, 5, 2})
	result := compute(t, NewSMA(), frame, []int{2})

	asc := result.Instrument("A", false)
	require.Equal(t, 4, asc.Len())
	for i := 1; i < asc.Len(); i++ {
		assert.True(t, asc.TradeDate[i-1].Before(asc.TradeDate[i]))
	}

	desc := result.Instrument("B", true)
	require.Equal(t, 3, desc.Len())
	assert.Equal(t, []string{"B", "B", "B"}, desc.TsCode)
	assert.True(t, desc.TradeDate[0].After(desc.TradeDate[2]))

	sma := column(t, compute(t, NewSMA(), syntheticFrame("B", 3), []int{2}), "SMA_2")
	got := column(t, desc, "SMA_2")
	assert.Equal(t, []float64{sma[2], sma[1], sma[0]}, got)

	assert.Equal(t, 0, result.Instrument("C", false).Len())
}

func TestResult_CloneIsDeep(t *testing.T) {
	result := compute(t, NewSMA(), syntheticFrame("A", 5), []int{2})
	clone := result.Clone()
	clone.Columns[0].Values[0] = -1
	clone.TsCode[0] = "Z"

	assert.NotEqual(t, -1.0, column(t, result, "SMA_2")[0])
	assert.Equal(t, "A", result.TsCode[0])
}

func TestResult_WithDiagnostics(t *testing.T) {
	result := compute(t, NewSMA(), syntheticFrame("A", 5), []int{2})
	var d Diagnostics
	d.Add(LevelWarning, CodeDataQuality, "SMA", "", "gap of %d days", 3)

	out := result.WithDiagnostics(d)
	assert.True(t, out.Diagnostics.HasCode(CodeDataQuality))
	assert.False(t, result.Diagnostics.HasCode(CodeDataQuality))
	assert.Equal(t, "[warning] data_quality: gap of 3 days", out.Diagnostics[0].String())
}

func TestCombine(t *testing.T) {
	a := syntheticFrame("A", 5)
	sma := compute(t, NewSMA(), a, []int{2})
	mom := compute(t, NewMOM(), a, []int{1})
	other := compute(t, NewMOM(), syntheticFrame("B", 2), []int{2})

	combined, err := Combine("mixed", sma, mom, other)
	require.NoError(t, err)
	assert.Equal(t, "mixed", combined.Factor)
	assert.Equal(t, 7, combined.Len())
	assert.Equal(t, []string{"SMA_2", "MOM_1", "MOM_2"}, combined.ColumnNames())

	smaValues := column(t, combined, "SMA_2")
	assertSameValues(t, column(t, sma, "SMA_2"), smaValues[:5])
	assert.True(t, math.IsNaN(smaValues[5]))
	assert.True(t, math.IsNaN(column(t, combined, "MOM_2")[0]))

	_, err = Combine("dup", sma, sma)
	assert.ErrorContains(t, err, "duplicate column SMA_2")
}
