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

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func terms() Terms {
	return Terms{
		Type:      TypeFamily,
		Premium:   120000,
		StartDate: id.NewDate(2026, 1, 1),
	}
}

func TestNewPolicyDefaults(t *testing.T) {
	p, err := NewPolicy(1, "POL-ABCDEF12", terms(), 5, now)
	require.NoError(t, err)
	assert.Equal(t, "2027-01-01", p.ExpiryDate.String())
	assert.Equal(t, PaymentAnnual, p.PaymentMode)
	assert.Equal(t, CoverageBronze, p.CoverageLevel)
	assert.True(t, p.Active)
}

func TestNewPolicyValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Terms)
	}{
		{"unknown type", func(t *Terms) { t.Type = "pet" }},
		{"missing start", func(t *Terms) { t.StartDate = id.Date{} }},
		{"expiry before start", func(t *Terms) { t.ExpiryDate = id.NewDate(2025, 12, 31) }},
		{"negative premium", func(t *Terms) { t.Premium = -1 }},
		{"unknown payment mode", func(t *Terms) { t.PaymentMode = "weekly" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := terms()
			tt.mutate(&in)
			_, err := NewPolicy(1, "POL-1", in, 5, now)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		})
	}
}

func TestStatusIsDerived(t *testing.T) {
	p, err := NewPolicy(1, "POL-1", terms(), 5, now)
	require.NoError(t, err)

	assert.Equal(t, StatusActive, p.Status(id.NewDate(2027, 1, 1)), "expiry day itself is still active")
	assert.Equal(t, StatusExpired, p.Status(id.NewDate(2027, 1, 2)))

	p.Deactivate(now)
	assert.Equal(t, StatusInactive, p.Status(id.NewDate(2026, 6, 1)))
	assert.Equal(t, StatusExpired, p.Status(id.NewDate(2027, 1, 2)), "expired wins over inactive")
}

func TestExpiredYesterdayIgnoresStoredFlag(t *testing.T) {
	today := id.NewDate(2026, 6, 1)
	in := terms()
	in.StartDate = today.AddYears(-1).AddDays(-1)
	in.ExpiryDate = today.AddDays(-1)
	p, err := NewPolicy(1, "POL-1", in, 5, now)
	require.NoError(t, err)
	require.True(t, p.Active)

	assert.Equal(t, StatusExpired, p.Status(today))
	assert.Equal(t, 1, p.ExpiredDays(today))
	assert.Equal(t, -1, p.DaysLeft(today))
}

func TestInstallment(t *testing.T) {
	p, _ := NewPolicy(1, "POL-1", terms(), 5, now)
	assert.Equal(t, id.Amount(120000), p.Installment())

	p.PaymentMode = PaymentMonthly
	assert.Equal(t, id.Amount(10000), p.Installment())

	p.PaymentMode = PaymentSemiAnnual
	assert.Equal(t, id.Amount(60000), p.Installment())
}

func TestWithinLimit(t *testing.T) {
	p, _ := NewPolicy(1, "POL-1", terms(), 5, now)
	assert.True(t, p.WithinLimit(1_000_000_00), "zero limit is unlimited")
	p.MaxClaim = 5000
	assert.True(t, p.WithinLimit(5000))
	assert.False(t, p.WithinLimit(5001))
}

func TestViewJSON(t *testing.T) {
	p, _ := NewPolicy(1, "POL-1", terms(), 5, now)
	b, err := json.Marshal(p.View(id.NewDate(2026, 12, 31)))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":"active"`)
	assert.Contains(t, string(b), `"days_left":1`)
	assert.Contains(t, string(b), `"policy_type":"family"`)
	assert.Contains(t, string(b), `"premium":"1200.00"`)
}
