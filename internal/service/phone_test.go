package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":       "254712345678",
		"254712345678":     "254712345678",
		"+254 712 345 678": "254712345678",
		"712345678":        "254712345678",
		"0812-345-678":     "254812345678",
		"":                 "254",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), "input %q", in)
		assert.Equal(t, want, NormalizePhone(NormalizePhone(in)), "normalizing %q twice", in)
	}
}

func TestValidatePhone(t *testing.T) {
	phone, err := ValidatePhone("0712345678")
	require.NoError(t, err)
	assert.Equal(t, "254712345678", phone)

	_, err = ValidatePhone("   ")
	assert.ErrorIs(t, err, ErrMissingPhone)

	for _, bad := range []string{"0612345678", "07123", "2547123456789", "abc"} {
		_, err = ValidatePhone(bad)
		assert.ErrorIs(t, err, ErrInvalidPhone, "input %q", bad)
	}
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount("50")
	require.NoError(t, err)
	assert.Equal(t, "50", amount.String())

	amount, err = ParseAmount(" 12.50 ")
	require.NoError(t, err)
	assert.Equal(t, 12.5, amount.InexactFloat64())

	for _, bad := range []string{"", "0", "-5", "fifty"} {
		_, err = ParseAmount(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", bad)
	}
}
