package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "insureflow/pkg/domain-errors"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	ok, err := Verify("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("wrong horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashRejectsWeakInput(t *testing.T) {
	_, err := Hash("short")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = Hash(strings.Repeat("x", 80))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestVerifyMalformedHash(t *testing.T) {
	_, err := Verify("anything", "not-a-bcrypt-hash")
	assert.Error(t, err)
	VerifyDummy("anything")
}
