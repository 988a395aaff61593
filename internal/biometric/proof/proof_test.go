package proof

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insureflow/internal/biometric"
	"insureflow/internal/platform/ephemeral"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/requestcontext"
)

type stubVerifier biometric.Verdict

func (v stubVerifier) Check(context.Context, biometric.Template, biometric.Template) biometric.Verdict {
	return biometric.Verdict(v)
}

const (
	matches = stubVerifier(biometric.VerdictMatched)
	differs = stubVerifier(biometric.VerdictMismatch)
	offline = stubVerifier(biometric.VerdictUnavailable)
)

func TestLedger(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	t.Run("match issues single-use proof", func(t *testing.T) {
		l := NewLedger(ephemeral.NewMemoryStore(), matches, 0)
		token, verdict, err := l.ConfirmMatch(ctx, 1, 2, biometric.Template("a"), biometric.Template("a"))
		require.NoError(t, err)
		require.Equal(t, biometric.VerdictMatched, verdict)
		require.NotEmpty(t, token)

		require.NoError(t, l.Consume(ctx, token, 1, 2))
		err = l.Consume(ctx, token, 1, 2)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeVerificationRequired))
	})

	t.Run("mismatch issues nothing", func(t *testing.T) {
		l := NewLedger(ephemeral.NewMemoryStore(), differs, 0)
		token, verdict, err := l.ConfirmMatch(ctx, 1, 2, biometric.Template("a"), biometric.Template("b"))
		require.NoError(t, err)
		assert.Equal(t, biometric.VerdictMismatch, verdict)
		assert.Empty(t, token)
	})

	t.Run("outage issues nothing and says so", func(t *testing.T) {
		l := NewLedger(ephemeral.NewMemoryStore(), offline, 0)
		token, verdict, err := l.ConfirmMatch(ctx, 1, 2, biometric.Template("a"), biometric.Template("a"))
		require.NoError(t, err)
		assert.Equal(t, biometric.VerdictUnavailable, verdict)
		assert.Empty(t, token)
	})

	t.Run("proof is bound to client and hospital", func(t *testing.T) {
		l := NewLedger(ephemeral.NewMemoryStore(), matches, 0)
		token, _, err := l.ConfirmMatch(ctx, 1, 2, biometric.Template("a"), biometric.Template("a"))
		require.NoError(t, err)

		err = l.Consume(ctx, token, 1, 3)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeVerificationRequired))

		require.NoError(t, l.Consume(ctx, token, 1, 2), "a mismatched attempt leaves the proof redeemable")
	})

	t.Run("check does not redeem", func(t *testing.T) {
		l := NewLedger(ephemeral.NewMemoryStore(), matches, 0)
		token, _, err := l.ConfirmMatch(ctx, 1, 2, biometric.Template("a"), biometric.Template("a"))
		require.NoError(t, err)

		require.NoError(t, l.Check(ctx, token, 1, 2))
		require.NoError(t, l.Check(ctx, token, 1, 2))
		assert.True(t, dErrors.HasCode(l.Check(ctx, token, 5, 2), dErrors.CodeVerificationRequired))

		require.NoError(t, l.Consume(ctx, token, 1, 2))
		assert.True(t, dErrors.HasCode(l.Check(ctx, token, 1, 2), dErrors.CodeVerificationRequired))
	})

	t.Run("proof expires", func(t *testing.T) {
		l := NewLedger(ephemeral.NewMemoryStore(), matches, time.Minute)
		token, _, err := l.ConfirmMatch(ctx, 1, 2, biometric.Template("a"), biometric.Template("a"))
		require.NoError(t, err)

		later := requestcontext.WithTime(context.Background(), now.Add(2*time.Minute))
		err = l.Consume(later, token, 1, 2)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeVerificationRequired))
	})

	t.Run("empty token requires verification", func(t *testing.T) {
		l := NewLedger(ephemeral.NewMemoryStore(), matches, 0)
		err := l.Consume(ctx, "", 1, 2)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeVerificationRequired))
	})
}
