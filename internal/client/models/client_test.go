package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "insureflow/pkg/domain-errors"
)

var now = time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)

func validDetails() Details {
	return Details{FirstName: "Amina", LastName: "Yusuf", Email: "Amina@Example.com", NationalID: "A1234567"}
}

func TestNewClient(t *testing.T) {
	t.Run("starts pending and active", func(t *testing.T) {
		c, err := NewClient(validDetails(), 3, now)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, c.Status)
		assert.True(t, c.Active)
		assert.False(t, c.FingerprintVerified)
		assert.Equal(t, "amina@example.com", c.Email)
	})

	t.Run("lists every missing field", func(t *testing.T) {
		_, err := NewClient(Details{FirstName: "A"}, 3, now)
		require.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		assert.Contains(t, err.Error(), "last_name, email, national_id")
	})
}

func TestVerificationTransitions(t *testing.T) {
	c, err := NewClient(validDetails(), 3, now)
	require.NoError(t, err)

	c.Enroll([]byte("sealed"), now)
	assert.Equal(t, StatusVerified, c.Status)
	assert.True(t, c.HasTemplate())

	from := c.RecordVerification(false, now)
	assert.Equal(t, StatusVerified, from)
	assert.Equal(t, StatusFailed, c.Status)
	assert.False(t, c.FingerprintVerified)

	c.RecordVerification(true, now)
	assert.Equal(t, StatusVerified, c.Status)
}

func TestComplianceIsIdempotent(t *testing.T) {
	c, _ := NewClient(validDetails(), 3, now)
	assert.True(t, c.ApplyComplianceVerification("kyc ok", now))
	assert.False(t, c.ApplyComplianceVerification("again", now.Add(time.Hour)))
	assert.Equal(t, "kyc ok", c.ComplianceNotes)
	assert.Equal(t, now, *c.ComplianceVerifiedAt)
}

func TestDeactivate(t *testing.T) {
	c, _ := NewClient(validDetails(), 3, now)
	assert.True(t, c.Deactivate(now))
	assert.False(t, c.Deactivate(now))
	assert.False(t, c.Active)
}
