package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
)

func newClaim(t *testing.T) *Claim {
	t.Helper()
	c, err := NewClaim("CLM-20260510080000-0001", Filing{ClientID: 1, PolicyID: 2, HospitalID: 3, Amount: 25000}, 9, time.Now())
	require.NoError(t, err)
	return c
}

func TestNewClaimRequiresPositiveAmount(t *testing.T) {
	for _, amount := range []id.Amount{0, -1} {
		_, err := NewClaim("CLM-1", Filing{ClientID: 1, PolicyID: 2, HospitalID: 3, Amount: amount}, 9, time.Now())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	}
}

func TestApproveRequiresCompliance(t *testing.T) {
	now := time.Now()
	c := newClaim(t)

	_, err := c.Approve(now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeComplianceRequired))
	assert.Equal(t, StatusPending, c.Status)
	assert.Equal(t, WorkflowPendingCompliance, c.WorkflowStatus())

	c.ApproveCompliance("ok", now)
	assert.Equal(t, "pending", c.WorkflowStatus())

	changed, err := c.Approve(now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = c.Approve(now)
	require.NoError(t, err)
	assert.False(t, changed, "approving twice is informational")
}

func TestReimburseOnlyFromApproved(t *testing.T) {
	now := time.Now()
	c := newClaim(t)

	err := c.Reimburse(now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	assert.Equal(t, StatusPending, c.Status)

	c.ApproveCompliance("", now)
	_, err = c.Approve(now)
	require.NoError(t, err)
	require.NoError(t, c.Reimburse(now))
	assert.Equal(t, StatusReimbursed, c.Status)

	_, err = c.Reject("", now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	_, err = c.Approve(now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestReject(t *testing.T) {
	now := time.Now()
	c := newClaim(t)

	changed, err := c.Reject("duplicate invoice", now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, c.Notes, "duplicate invoice")

	changed, err = c.Reject("again", now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NotContains(t, c.Notes, "again")
}

func TestOverride(t *testing.T) {
	now := time.Now()
	c := newClaim(t)
	_, _ = c.Reject("", now)

	changed, err := c.Override(StatusPending, now)
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = c.Override("lost", now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestViewJSON(t *testing.T) {
	c := newClaim(t)
	b, err := json.Marshal(c.View())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"workflow_status":"pending_compliance_approval"`)
	assert.Contains(t, string(b), `"amount":"250.00"`)
}

func TestStatsAdd(t *testing.T) {
	var s Stats
	s.Add(StatusPending, 2, 1000)
	s.Add(StatusApproved, 1, 500)
	s.Add(StatusReimbursed, 3, 700)
	s.Add(StatusRejected, 4, 9999)

	assert.Equal(t, 10, s.Total)
	assert.EqualValues(t, 1200, s.Revenue)
	assert.EqualValues(t, 1000, s.Pending)
	assert.Equal(t, 4, s.ByStatus[StatusRejected])
}
