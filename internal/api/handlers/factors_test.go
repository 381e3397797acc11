package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/etffactor/pkg/factors"
)

func ptr(v float64) *float64 { return &v }

func TestFrameRequest_Frame(t *testing.T) {
	req := FrameRequest{
		TsCode:    []string{"510300.SH", "510300.SH", "510300.SH"},
		TradeDate: []string{"20240102", "2024-01-03", "20240104"},
		Columns: map[string][]*float64{
			"hfq_close": {ptr(4.1), nil, ptr(4.3)},
		},
	}
	frame, err := req.Frame()
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Len())

	col, ok := frame.Column("hfq_close")
	require.True(t, ok)
	assert.Equal(t, 4.1, col[0])
	assert.True(t, math.IsNaN(col[1]))
	assert.Equal(t, 4.3, col[2])
}

func TestFrameRequest_FrameErrors(t *testing.T) {
	_, err := FrameRequest{TsCode: []string{"a", "b"}, TradeDate: []string{"20240102"}}.Frame()
	assert.ErrorContains(t, err, "ts_code has 2 rows, trade_date has 1")

	_, err = FrameRequest{TsCode: []string{"a"}, TradeDate: []string{"yesterday"}}.Frame()
	assert.ErrorContains(t, err, "trade_date row 0")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{factors.ErrEmptyData, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", factors.ErrMissingColumns), http.StatusBadRequest},
		{factors.ErrInvalidParameter, http.StatusBadRequest},
		{factors.ErrUnknownFactor, http.StatusNotFound},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestKnownCategory(t *testing.T) {
	assert.True(t, knownCategory(factors.CategoryVolatility))
	assert.False(t, knownCategory("astrology"))
}
