package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestEngine_Compute(t *testing.T) {
	tests := []struct {
		name         string
		lines        []Line
		wantSubtotal string
		wantTax      string
		wantShipping string
		wantTotal    string
	}{
		{
			name: "flat shipping under threshold",
			lines: []Line{
				{UnitPrice: dec("100"), Quantity: 2},
				{UnitPrice: dec("250"), Quantity: 1},
			},
			wantSubtotal: "450",
			wantTax:      "36",
			wantShipping: "499",
			wantTotal:    "985",
		},
		{
			name:         "subtotal exactly at threshold still pays shipping",
			lines:        []Line{{UnitPrice: dec("500"), Quantity: 1}},
			wantSubtotal: "500",
			wantTax:      "40",
			wantShipping: "499",
			wantTotal:    "1039",
		},
		{
			name:         "free shipping above threshold",
			lines:        []Line{{UnitPrice: dec("250.50"), Quantity: 2}},
			wantSubtotal: "501",
			wantTax:      "40.08",
			wantShipping: "0",
			wantTotal:    "541.08",
		},
		{
			name:         "total rounds once from unrounded tax",
			lines:        []Line{{UnitPrice: dec("1.0049"), Quantity: 1}},
			wantSubtotal: "1.0049",
			wantTax:      "0.08",
			wantShipping: "499",
			wantTotal:    "500.09",
		},
		{
			name:         "tax rounded to cents",
			lines:        []Line{{UnitPrice: dec("0.99"), Quantity: 3}},
			wantSubtotal: "2.97",
			wantTax:      "0.24",
			wantShipping: "499",
			wantTotal:    "502.21",
		},
	}

	e := NewEngine(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := e.Compute(tt.lines)
			assert.True(t, dec(tt.wantSubtotal).Equal(b.Subtotal), "subtotal %s", b.Subtotal)
			assert.True(t, dec(tt.wantTax).Equal(b.Tax), "tax %s", b.Tax)
			assert.True(t, dec(tt.wantShipping).Equal(b.Shipping), "shipping %s", b.Shipping)
			assert.True(t, dec(tt.wantTotal).Equal(b.Total), "total %s", b.Total)
		})
	}
}

func TestEngine_Verify(t *testing.T) {
	lines := []Line{
		{UnitPrice: dec("100"), Quantity: 2},
		{UnitPrice: dec("250"), Quantity: 1},
	}
	e := NewEngine(DefaultConfig())

	t.Run("exact match", func(t *testing.T) {
		b, err := e.Verify(lines, dec("985.00"))
		require.NoError(t, err)
		assert.True(t, dec("985").Equal(b.Total))
	})

	t.Run("within tolerance returns server total", func(t *testing.T) {
		b, err := e.Verify(lines, dec("985.01"))
		require.NoError(t, err)
		assert.True(t, dec("985").Equal(b.Total))

		_, err = e.Verify(lines, dec("984.99"))
		require.NoError(t, err)
	})

	t.Run("outside tolerance", func(t *testing.T) {
		_, err := e.Verify(lines, dec("985.02"))
		var mismatch *TotalMismatchError
		require.ErrorAs(t, err, &mismatch)
	})

	t.Run("reports both values", func(t *testing.T) {
		_, err := e.Verify(lines, dec("900.00"))
		var mismatch *TotalMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.True(t, dec("985").Equal(mismatch.Calculated))
		assert.True(t, dec("900").Equal(mismatch.Received))
		assert.Equal(t, "order total mismatch: calculated 985.00, received 900.00", mismatch.Error())
	})
}

func TestTotal_WithDiscount(t *testing.T) {
	got := Total(dec("450"), dec("36"), dec("499"), dec("85.555"))
	assert.True(t, dec("899.45").Equal(got), "got %s", got)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.TaxRate = dec("-0.1")
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tolerance = dec("-1")
	require.Error(t, cfg.Validate())
}
