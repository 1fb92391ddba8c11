package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("whole rupees", func(t *testing.T) {
		a, err := Parse("150")
		require.NoError(t, err)
		assert.Equal(t, Amount(15000), a)
	})

	t.Run("paise", func(t *testing.T) {
		a, err := Parse("200.05")
		require.NoError(t, err)
		assert.Equal(t, Amount(20005), a)
	})

	t.Run("sub paisa precision rejected", func(t *testing.T) {
		_, err := Parse("1.005")
		assert.ErrorIs(t, err, ErrPrecision)
	})

	t.Run("beyond int64 paise rejected", func(t *testing.T) {
		_, err := Parse("184467440737095716.16")
		assert.ErrorIs(t, err, ErrRange)

		_, err = Parse("-184467440737095716.16")
		assert.ErrorIs(t, err, ErrRange)
	})

	t.Run("largest representable amount", func(t *testing.T) {
		a, err := Parse("92233720368547758.07")
		require.NoError(t, err)
		assert.Equal(t, Amount(math.MaxInt64), a)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Parse("abc")
		assert.Error(t, err)
	})
}

func TestAmount_JSON(t *testing.T) {
	var req struct {
		Price Amount `json:"price"`
		Fee   Amount `json:"fee"`
	}
	err := json.Unmarshal([]byte(`{"price": 300, "fee": "12.50"}`), &req)
	require.NoError(t, err)
	assert.Equal(t, FromMajor(300), req.Price)
	assert.Equal(t, Amount(1250), req.Fee)

	out, err := json.Marshal(map[string]Amount{"balance": 20000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance": 200.00}`, string(out))
}

func TestAmount_String(t *testing.T) {
	assert.Equal(t, "0.00", Amount(0).String())
	assert.Equal(t, "-1.50", Amount(-150).String())
	assert.Equal(t, "500.00", FromMajor(500).String())
}

func TestAmount_Add(t *testing.T) {
	sum, err := Amount(150).Add(50)
	require.NoError(t, err)
	assert.Equal(t, Amount(200), sum)

	_, err = Amount(math.MaxInt64).Add(1)
	assert.ErrorIs(t, err, ErrRange)

	_, err = Amount(math.MinInt64).Add(-1)
	assert.ErrorIs(t, err, ErrRange)
}

func TestAmount_UnmarshalOutOfRange(t *testing.T) {
	var a Amount
	err := json.Unmarshal([]byte(`184467440737095716.16`), &a)
	assert.ErrorIs(t, err, ErrRange)
	assert.Equal(t, Amount(0), a)
}
