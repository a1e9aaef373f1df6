package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmountScaled(t *testing.T) {
	cases := []struct {
		in       string
		decimals int32
		want     string
	}{
		{"3", 6, "3000000"},
		{"0.01", 18, "10000000000000000"},
		{"1.0000019", 6, "1000001"}, // truncated, not rounded
		{" 2.999999 ", 18, "2999999000000000000"},
		{"0", 18, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			d, err := ParseAmount(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, FromDecimal(d, tc.decimals).String())
		})
	}
}

func TestParseAmountRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "-1", "abc", "1.2.3"} {
		_, err := ParseAmount(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0.000001", Format(big.NewInt(1_000_000_000_000), 18))
	assert.Equal(t, "3", Format(big.NewInt(3_000_000), 6))
	assert.Equal(t, "2.999999", Format(big.NewInt(2_999_999), 6))
	assert.Equal(t, "0", Format(nil, 6))
}
