package seal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewFromHex(strings.Repeat("ab", KeySize))
	require.NoError(t, err)
	return s
}

func TestSealRoundTrip(t *testing.T) {
	s := testSealer(t)
	plain := []byte("fingerprint-minutiae")

	sealed, err := s.Seal(plain)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(sealed, plain))

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestSealUsesFreshNonce(t *testing.T) {
	s := testSealer(t)
	a, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsTampering(t *testing.T) {
	s := testSealer(t)
	sealed, err := s.Seal([]byte("template"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = s.Open(sealed)
	assert.ErrorIs(t, err, ErrOpen)

	_, err = s.Open([]byte("short"))
	assert.ErrorIs(t, err, ErrOpen)
}

func TestOpenWithWrongKey(t *testing.T) {
	sealed, err := testSealer(t).Seal([]byte("template"))
	require.NoError(t, err)

	other, err := NewFromHex(strings.Repeat("cd", KeySize))
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestInvalidKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = NewFromHex("zz")
	assert.Error(t, err)
}

func TestEmptyInput(t *testing.T) {
	s := testSealer(t)
	out, err := s.Seal(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	out, err = s.Open(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}
