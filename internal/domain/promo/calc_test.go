package promo

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name          string
		code          Code
		subtotal      string
		wantReduction string
		wantFinal     string
	}{
		{
			name:          "fixed below subtotal",
			code:          Code{Kind: KindFixed, Value: amt("5.00")},
			subtotal:      "40.00",
			wantReduction: "5.00",
			wantFinal:     "35.00",
		},
		{
			name:          "fixed capped at subtotal",
			code:          Code{Kind: KindFixed, Value: amt("50.00")},
			subtotal:      "30.00",
			wantReduction: "30.00",
			wantFinal:     "0.00",
		},
		{
			name:          "percent plain",
			code:          Code{Kind: KindPercent, Value: amt("10")},
			subtotal:      "200.00",
			wantReduction: "20.00",
			wantFinal:     "180.00",
		},
		{
			name:          "percent capped by maximum amount",
			code:          Code{Kind: KindPercent, Value: amt("10"), MaximumAmount: decPtr("5000")},
			subtotal:      "100000",
			wantReduction: "5000",
			wantFinal:     "95000",
		},
		{
			name:          "percent cap higher than raw reduction",
			code:          Code{Kind: KindPercent, Value: amt("10"), MaximumAmount: decPtr("100.00")},
			subtotal:      "200.00",
			wantReduction: "20.00",
			wantFinal:     "180.00",
		},
		{
			name:          "reduction rounds down to the cent",
			code:          Code{Kind: KindPercent, Value: amt("15")},
			subtotal:      "0.33", // 15% = 0.0495
			wantReduction: "0.04",
			wantFinal:     "0.29",
		},
		{
			name:          "hundred percent",
			code:          Code{Kind: KindPercent, Value: amt("100")},
			subtotal:      "59.99",
			wantReduction: "59.99",
			wantFinal:     "0.00",
		},
		{
			name: "minimum amount threshold met",
			code: Code{
				Kind: KindPercent, Value: amt("20"),
				Scope: ScopeMinimumAmount, MinimumAmount: decPtr("100.00"),
			},
			subtotal:      "150.00",
			wantReduction: "30.00",
			wantFinal:     "120.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(&tt.code, amt(tt.subtotal))
			require.NoError(t, err)

			assert.True(t, amt(tt.wantReduction).Equal(got.Reduction),
				"expected reduction %s, got %s", tt.wantReduction, got.Reduction)
			assert.True(t, amt(tt.wantFinal).Equal(got.Final),
				"expected final %s, got %s", tt.wantFinal, got.Final)
			assert.False(t, got.Final.IsNegative())
		})
	}
}

func TestCalculate_BelowMinimumAmount(t *testing.T) {
	code := Code{
		Kind: KindPercent, Value: amt("20"),
		Scope: ScopeMinimumAmount, MinimumAmount: decPtr("100.00"),
	}

	_, err := Calculate(&code, amt("99.99"))

	var minErr *BelowMinimumAmountError
	require.ErrorAs(t, err, &minErr)
	assert.True(t, amt("100.00").Equal(minErr.Minimum))
	assert.Contains(t, err.Error(), "100")
}

func TestCalculate_UnknownKind(t *testing.T) {
	_, err := Calculate(&Code{Kind: "raffle", Value: amt("1")}, amt("10.00"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported discount kind")
}
