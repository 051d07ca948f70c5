package vin

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Canonicalizes(t *testing.T) {
	got, err := Normalize(" 1hg-cm826 33a 004352 ")
	require.NoError(t, err)
	assert.Equal(t, "1HGCM82633A004352", got)
}

func TestNormalize_Idempotent(t *testing.T) {
	first, err := Normalize("1HGCM82633A004352")
	require.NoError(t, err)
	second, err := Normalize(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalize_Rejects(t *testing.T) {
	cases := map[string]string{
		"too short":        "1HGCM8263",
		"too long":         "1HGCM82633A0043521X",
		"excluded letter I": "IHGCM82633A004352",
		"excluded letter O": "1HGCM82633A0O4352",
		"excluded letter Q": "1HGCM82633A0Q4352",
		"all excluded, no digit": "IOIOIOIOIOIOIOIOI",
		"no digit":         "ABCDEFGHJKLMNPRST",
		"empty":            "",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(raw)
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalid))
		})
	}
}

func TestNormalizeChassis_LenientLength(t *testing.T) {
	got, err := NormalizeChassis("s30-00013")
	require.NoError(t, err)
	assert.Equal(t, "S3000013", got)

	_, err = NormalizeChassis("s30")
	assert.Error(t, err)

	// Alphabet rules still apply in lenient mode.
	_, err = NormalizeChassis("SIOQ")
	assert.Error(t, err)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("1HGCM82633A004352"))
	assert.False(t, Valid("not a vin"))
}

func TestDecode(t *testing.T) {
	d, err := Decode("1HGCM82633A004352")
	require.NoError(t, err)
	assert.Equal(t, "1HG", d.WMI)
	assert.Equal(t, "Honda", d.Make)
	assert.Equal(t, 2003, d.ModelYear)
	assert.Equal(t, map[string]string{"make": "Honda", "year": "2003"}, d.Fields())
}

func TestDecode_LaterYearCycle(t *testing.T) {
	// Letter year code with a letter at position 7 falls in the 2010+ cycle.
	d, err := Decode("WP0AB2A79GL123456")
	require.NoError(t, err)
	assert.Equal(t, "Porsche", d.Make)
	assert.Equal(t, 2016, d.ModelYear)
}

func TestDecode_RejectsInvalid(t *testing.T) {
	_, err := Decode("garbage")
	assert.Error(t, err)
}
